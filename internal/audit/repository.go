// Package audit records every room command the bridge forwards to the
// vendor in the command_audit table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command sources.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
)

// Command outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// timeLayout sorts lexically; values are always UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one forwarded (or rejected) room command.
type Entry struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	PropertyID int64     `json:"property_id"`
	RoomID     int64     `json:"room_id"`
	Action     string    `json:"action"`
	Value      string    `json:"value,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	PropertyID int64  // optional
	RoomID     int64  // optional, only with PropertyID
	Outcome    string // optional
	Limit      int    // default 50, max 200
}

// Recorder is the write side used by command handlers.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new command audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, source, property_id, room_id, action, value, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.PropertyID, e.RoomID, e.Action, e.Value, e.Outcome,
		nullableString(e.Error),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	var conditions []string
	var args []any
	if filter.PropertyID != 0 {
		conditions = append(conditions, "property_id = ?")
		args = append(args, filter.PropertyID)
		if filter.RoomID != 0 {
			conditions = append(conditions, "room_id = ?")
			args = append(args, filter.RoomID)
		}
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, source, property_id, room_id, action, value, outcome, error, created_at
		 FROM command_audit %s ORDER BY created_at DESC LIMIT ?`,
		where,
	)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command audit: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var errText sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Source, &e.PropertyID, &e.RoomID, &e.Action, &e.Value, &e.Outcome, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command audit row: %w", err)
		}
		e.Error = errText.String
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt) //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit: %w", err)
	}
	return entries, nil
}

// PruneOlderThan deletes entries older than age and returns how many were removed.
func (r *SQLiteRepository) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := r.now().UTC().Add(-age).Format(timeLayout)
	res, err := r.db.ExecContext(ctx, "DELETE FROM command_audit WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning command audit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning command audit: %w", err)
	}
	return n, nil
}

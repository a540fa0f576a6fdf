package coordinator

import (
	"errors"
	"time"
)

// Coordinator errors.
var (
	// ErrUpdateFailed is the fatal update error: a refresh failed and no
	// previous snapshot exists to fall back on.
	ErrUpdateFailed = errors.New("coordinator: update failed")

	// ErrStopped is returned by operations on a stopped coordinator.
	ErrStopped = errors.New("coordinator: stopped")

	// ErrRoomNotFound is returned when a command targets a room missing from
	// the current snapshot.
	ErrRoomNotFound = errors.New("coordinator: room not found")
)

// State is the coordinator's position in its refresh state machine.
type State int

// Refresh states.
const (
	StateUninitialized State = iota
	StateAuthenticating
	StateFetching
	StateReady
	StateDegraded
	StateFailed
)

// String returns the state name used in logs and status payloads.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAuthenticating:
		return "authenticating"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status summarises a coordinator for health reporting.
type Status struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	HasSnapshot         bool      `json:"has_snapshot"`
	LastAttempt         time.Time `json:"last_attempt,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Cycles              uint64    `json:"cycles"`
	ForcedRefreshes     uint64    `json:"forced_refreshes"`
}

// Update is delivered to subscribers after a successful or degraded cycle.
type Update[T any] struct {
	// Snapshot is the snapshot now exposed by the coordinator.
	Snapshot *T

	// State is StateReady or StateDegraded.
	State State

	// Err is the refresh failure when State is StateDegraded.
	Err error

	// At is when the cycle finished.
	At time.Time
}

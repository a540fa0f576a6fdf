package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/tiko-bridge/internal/audit"
)

// handleListAudit returns command audit entries, most recent first.
//
// Query parameters:
//   - property_id, room_id: restrict to one property or room
//   - outcome: completed, failed or rejected
//   - limit: max results (default 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "command audit is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Outcome: q.Get("outcome")}

	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"property_id", &filter.PropertyID},
		{"room_id", &filter.RoomID},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid "+p.name)
			return
		}
		*p.dst = n
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command audit", "error", err)
		writeInternalError(w, "failed to list command audit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

package api

import (
	"encoding/json"
	"net/http"
)

type setPeriodRequest struct {
	Period string `json:"period"`
}

// handleGetConsumption returns the latest consumption snapshot.
func (s *Server) handleGetConsumption(w http.ResponseWriter, _ *http.Request) {
	if s.consumption == nil {
		writeNotFound(w, "consumption polling is disabled")
		return
	}

	snap := s.consumption.Snapshot()
	if snap == nil {
		writeUnavailable(w, "no consumption data yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetConsumptionPeriod switches the consumption preset. The new window
// is used from the next cycle.
//
// Body: {"period": "last_7_days"}
func (s *Server) handleSetConsumptionPeriod(w http.ResponseWriter, r *http.Request) {
	if s.consumption == nil {
		writeNotFound(w, "consumption polling is disabled")
		return
	}

	var req setPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.consumption.SetPeriod(req.Period); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	s.logger.Info("consumption period changed", "period", s.consumption.Period())
	writeJSON(w, http.StatusOK, map[string]any{"period": s.consumption.Period()})
}

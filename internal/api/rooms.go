package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tiko-bridge/internal/audit"
	"github.com/nerrad567/tiko-bridge/internal/bridges/climate"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Audit actions recorded for API commands.
const (
	actionSetMode        = "set_mode"
	actionSetTemperature = "set_temperature"
)

// commandTimeout bounds a command including its follow-up refresh.
const commandTimeout = 45 * time.Second

// roomResponse is a room plus its derived entity values.
type roomResponse struct {
	PropertyID tiko.ID        `json:"property_id"`
	Property   string         `json:"property_name"`
	Room       tiko.Room      `json:"room"`
	State      map[string]any `json:"state"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type setTemperatureRequest struct {
	Temperature *float64 `json:"temperature"`
}

// handleListProperties returns the current snapshot.
func (s *Server) handleListProperties(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()
	if snap == nil {
		writeUnavailable(w, "no room data yet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"properties": snap.Properties,
		"count":      len(snap.Properties),
		"rooms":      snap.RoomCount(),
		"fetched_at": snap.FetchedAt,
	})
}

// handleGetRoom returns one room with its derived entity values.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	propertyID, roomID, ok := roomParams(w, r)
	if !ok {
		return
	}

	snap := s.state.Snapshot()
	if snap == nil {
		writeUnavailable(w, "no room data yet")
		return
	}
	property, room, found := snap.Room(propertyID, roomID)
	if !found {
		writeNotFound(w, fmt.Sprintf("room %s not found in property %s", roomID, propertyID))
		return
	}

	writeJSON(w, http.StatusOK, roomResponse{
		PropertyID: property.ID,
		Property:   property.Name,
		Room:       room,
		State:      climate.RoomStateValues(room),
		FetchedAt:  snap.FetchedAt,
	})
}

// handleSetRoomMode activates a mode on a room.
//
// Body: {"mode": "comfort"}; "none" or "" clears the active mode.
func (s *Server) handleSetRoomMode(w http.ResponseWriter, r *http.Request) {
	propertyID, roomID, ok := roomParams(w, r)
	if !ok {
		return
	}

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := tiko.ParseMode(req.Mode)
	if err != nil {
		s.recordCommand(propertyID, roomID, actionSetMode, req.Mode, audit.OutcomeRejected, err)
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	result, err := s.state.SetRoomMode(ctx, propertyID, roomID, mode)
	if err != nil {
		s.recordCommand(propertyID, roomID, actionSetMode, string(mode), audit.OutcomeFailed, err)
		s.logger.Warn("set room mode failed", "property_id", propertyID, "room_id", roomID, "mode", mode, "client", tokenSubject(r.Context()), "error", err)
		writeCommandError(w, err)
		return
	}

	s.recordCommand(propertyID, roomID, actionSetMode, string(mode), audit.OutcomeCompleted, nil)
	s.logger.Info("room mode set", "property_id", propertyID, "room_id", roomID, "mode", mode, "client", tokenSubject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": result.RoomID,
		"mode":    result.Mode,
		"active":  result.Mode.Active(),
	})
}

// handleSetRoomTemperature sets a room's target temperature.
//
// Body: {"temperature": 21.5}
func (s *Server) handleSetRoomTemperature(w http.ResponseWriter, r *http.Request) {
	propertyID, roomID, ok := roomParams(w, r)
	if !ok {
		return
	}

	var req setTemperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Temperature == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "temperature is required")
		return
	}
	celsius, err := tiko.NormalizeTemperature(*req.Temperature)
	if err != nil {
		s.recordCommand(propertyID, roomID, actionSetTemperature, fmt.Sprintf("%g", *req.Temperature), audit.OutcomeRejected, err)
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	value := fmt.Sprintf("%.1f", celsius)

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	result, err := s.state.SetRoomTemperature(ctx, propertyID, roomID, celsius)
	if err != nil {
		s.recordCommand(propertyID, roomID, actionSetTemperature, value, audit.OutcomeFailed, err)
		s.logger.Warn("set room temperature failed", "property_id", propertyID, "room_id", roomID, "temperature", celsius, "client", tokenSubject(r.Context()), "error", err)
		writeCommandError(w, err)
		return
	}

	s.recordCommand(propertyID, roomID, actionSetTemperature, value, audit.OutcomeCompleted, nil)
	s.logger.Info("room temperature set", "property_id", propertyID, "room_id", roomID, "temperature", value, "client", tokenSubject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":     result.RoomID,
		"temperature": celsius,
		"adjust":      result.Adjust,
	})
}

// roomParams parses the property and room path parameters, writing a 400
// when either is malformed.
func roomParams(w http.ResponseWriter, r *http.Request) (tiko.ID, tiko.ID, bool) {
	propertyID, err := tiko.ParseID(chi.URLParam(r, "propertyID"))
	if err != nil {
		writeBadRequest(w, "invalid property id")
		return 0, 0, false
	}
	roomID, err := tiko.ParseID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeBadRequest(w, "invalid room id")
		return 0, 0, false
	}
	return propertyID, roomID, true
}

// recordCommand writes an audit entry for an API command. Failures are
// logged and never fail the request.
func (s *Server) recordCommand(propertyID, roomID tiko.ID, action, value, outcome string, cmdErr error) {
	if s.audit == nil {
		return
	}

	entry := &audit.Entry{
		Source:     audit.SourceAPI,
		PropertyID: int64(propertyID),
		RoomID:     int64(roomID),
		Action:     action,
		Value:      value,
		Outcome:    outcome,
	}
	if cmdErr != nil {
		entry.Error = cmdErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("audit write failed", "action", action, "error", err)
	}
}

package climate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/tiko-bridge/internal/coordinator"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Commands accepted on {prefix}/command/{property}/{room}.
const (
	CommandSetMode        = "set_mode"
	CommandSetPreset      = "set_preset"
	CommandSetHVACMode    = "set_hvac_mode"
	CommandSetTemperature = "set_temperature"
)

// CommandMessage is a room command.
//
// Value is a string for the mode commands and a number for
// set_temperature, e.g. {"command":"set_preset","value":"eco"}.
type CommandMessage struct {
	// ID correlates the command with its acks. Generated when empty.
	ID string `json:"id,omitempty"`

	Command string          `json:"command"`
	Value   json.RawMessage `json:"value"`
}

// StringValue decodes Value as a string.
func (m CommandMessage) StringValue() (string, error) {
	var s string
	if err := json.Unmarshal(m.Value, &s); err != nil {
		return "", fmt.Errorf("'value' must be a string: %w", err)
	}
	return s, nil
}

// NumberValue decodes Value as a number. A quoted number is accepted.
func (m CommandMessage) NumberValue() (float64, error) {
	var f float64
	if err := json.Unmarshal(m.Value, &f); err == nil {
		return f, nil
	}
	var s json.Number
	if err := json.Unmarshal(m.Value, &s); err != nil {
		return 0, fmt.Errorf("'value' must be a number: %w", err)
	}
	f, err := s.Float64()
	if err != nil {
		return 0, fmt.Errorf("'value' must be a number: %w", err)
	}
	return f, nil
}

// AckStatus is the lifecycle position of a command.
type AckStatus string

const (
	// AckAccepted means the command was valid and is being sent to the vendor.
	AckAccepted AckStatus = "accepted"

	// AckCompleted means the vendor applied the command.
	AckCompleted AckStatus = "completed"

	// AckFailed means the command was rejected or the vendor call failed.
	AckFailed AckStatus = "failed"
)

// Error codes carried by failed acks.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeRoomNotFound      = "ROOM_NOT_FOUND"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeVendorError       = "VENDOR_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeStopped     = "BRIDGE_STOPPED"
)

// AckMessage is published on {prefix}/ack/{property}/{room}.
type AckMessage struct {
	CommandID  string    `json:"command_id"`
	Timestamp  time.Time `json:"timestamp"`
	PropertyID string    `json:"property_id"`
	RoomID     string    `json:"room_id"`
	Command    string    `json:"command"`
	Status     AckStatus `json:"status"`
	Error      *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomStateMessage is the retained room state payload.
type RoomStateMessage struct {
	PropertyID string         `json:"property_id"`
	RoomID     string         `json:"room_id"`
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Stale      bool           `json:"stale"`
	State      map[string]any `json:"state"`
}

// NewRoomStateMessage builds the state payload for one room.
func NewRoomStateMessage(propertyID tiko.ID, room tiko.Room, at time.Time, stale bool) RoomStateMessage {
	return RoomStateMessage{
		PropertyID: propertyID.String(),
		RoomID:     room.ID.String(),
		Name:       room.Name,
		Timestamp:  at.UTC(),
		Stale:      stale,
		State:      RoomStateValues(room),
	}
}

// RoomConsumptionMessage is the retained room consumption payload.
type RoomConsumptionMessage struct {
	PropertyID  string          `json:"property_id"`
	RoomID      string          `json:"room_id"`
	Name        string          `json:"name,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	EnergyKWh   *float64        `json:"energy_kwh"`
	Period      tiko.Period     `json:"period,omitempty"`
	Resolution  tiko.Resolution `json:"resolution"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
}

// NewRoomConsumptionMessage builds the consumption payload for one room.
// EnergyKWh is null when the vendor reported no usable figure.
func NewRoomConsumptionMessage(propertyID tiko.ID, rc tiko.RoomConsumption, w tiko.Window, at time.Time) RoomConsumptionMessage {
	msg := RoomConsumptionMessage{
		PropertyID:  propertyID.String(),
		RoomID:      rc.ID.String(),
		Name:        rc.Name,
		Timestamp:   at.UTC(),
		Period:      w.Period,
		Resolution:  w.Resolution,
		WindowStart: w.Start.UTC(),
		WindowEnd:   w.End.UTC(),
	}
	if kwh, ok := ConsumptionValue(rc); ok {
		msg.EnergyKWh = &kwh
	}
	return msg
}

// HealthStatus summarises the bridge for the status topic.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// StatusMessage is published retained on {prefix}/status/coordinator.
type StatusMessage struct {
	Timestamp     time.Time            `json:"timestamp"`
	Status        HealthStatus         `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Rooms         int                  `json:"rooms"`
	Coordinators  []coordinator.Status `json:"coordinators"`
	Statistics    BridgeStatistics     `json:"statistics"`
	Reason        string               `json:"reason,omitempty"`
}

// BridgeStatistics counts command traffic since start.
type BridgeStatistics struct {
	CommandsReceived  uint64 `json:"commands_received"`
	CommandsCompleted uint64 `json:"commands_completed"`
	CommandsFailed    uint64 `json:"commands_failed"`
}

package tiko

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Logger is the logging interface used by the tiko package.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Credentials identify one vendor account.
type Credentials struct {
	Email    string
	Password string
	Endpoint string
}

// SessionTokens authorise requests after login. The zero value means no
// session is held.
type SessionTokens struct {
	AccountID     string
	AuthToken     string
	CSRFToken     string
	SessionCookie string
}

// Valid reports whether the tokens can authorise a request.
func (t SessionTokens) Valid() bool {
	return t.AuthToken != ""
}

// Merge applies a partial update. Empty delta fields leave t untouched.
func (t SessionTokens) Merge(d TokenDelta) SessionTokens {
	if d.CSRFToken != "" {
		t.CSRFToken = d.CSRFToken
	}
	if d.SessionCookie != "" {
		t.SessionCookie = d.SessionCookie
	}
	return t
}

func (t SessionTokens) hasCookies() bool {
	return t.CSRFToken != "" && t.SessionCookie != ""
}

// TokenDelta is the session material found in one response.
type TokenDelta struct {
	CSRFToken     string
	SessionCookie string
}

// Empty reports whether the delta carries nothing.
func (d TokenDelta) Empty() bool {
	return d.CSRFToken == "" && d.SessionCookie == ""
}

// ID is a vendor object id. The API returns ids as JSON numbers or numeric
// strings depending on the object.
type ID int64

// UnmarshalJSON accepts 42 and "42".
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("id is null")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing id %q: %w", data, err)
	}
	*id = ID(n)
	return nil
}

// String returns the decimal form used in topics and URLs.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal id from a topic segment or URL parameter.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(n), nil
}

// RoomMode holds the vendor's mutually exclusive preset flags.
//
// HA_GET_DATA does not select boost, so Boost is only ever set from a
// setRoomMode echo; comfort and sleep are absent from that echo.
type RoomMode struct {
	Comfort        bool `json:"comfort"`
	Boost          bool `json:"boost"`
	Absence        bool `json:"absence"`
	Frost          bool `json:"frost"`
	Sleep          bool `json:"sleep"`
	DisableHeating bool `json:"disableHeating"`
}

// Active returns the preset currently set, or ModeNone.
func (m RoomMode) Active() Mode {
	switch {
	case m.DisableHeating:
		return ModeDisableHeating
	case m.Comfort:
		return ModeComfort
	case m.Absence:
		return ModeAbsence
	case m.Sleep:
		return ModeSleep
	case m.Frost:
		return ModeFrost
	case m.Boost:
		return ModeBoost
	default:
		return ModeNone
	}
}

// RoomStatus holds live thermostat flags.
type RoomStatus struct {
	HeatingOperating bool `json:"heatingOperating"`
	SensorBatteryLow bool `json:"sensorBatteryLow"`
}

// Room is a heated zone. Pointer fields are nil when the vendor sends null.
type Room struct {
	ID                 ID         `json:"id"`
	Name               string     `json:"name"`
	CurrentTemperature *float64   `json:"currentTemperatureDegrees"`
	TargetTemperature  *float64   `json:"targetTemperatureDegrees"`
	Humidity           *float64   `json:"humidity"`
	Sensors            *int       `json:"sensors"`
	Mode               RoomMode   `json:"mode"`
	Status             RoomStatus `json:"status"`
}

// Property is a site containing rooms.
type Property struct {
	ID    ID      `json:"id"`
	Name  string  `json:"name"`
	Mode  *string `json:"mode"`
	Rooms []Room  `json:"rooms"`
}

// Snapshot is one complete, validated state payload.
type Snapshot struct {
	Properties []Property `json:"properties"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Room looks up a room by property and room id.
func (s *Snapshot) Room(propertyID, roomID ID) (Property, Room, bool) {
	if s == nil {
		return Property{}, Room{}, false
	}
	for _, p := range s.Properties {
		if p.ID != propertyID {
			continue
		}
		for _, r := range p.Rooms {
			if r.ID == roomID {
				return p, r, true
			}
		}
	}
	return Property{}, Room{}, false
}

// RoomCount returns the number of rooms across all properties.
func (s *Snapshot) RoomCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, p := range s.Properties {
		n += len(p.Rooms)
	}
	return n
}

// RoomConsumption is one room's energy over a window.
type RoomConsumption struct {
	ID        ID       `json:"id"`
	Name      string   `json:"name"`
	EnergyKWh *float64 `json:"energyKwh"`
	EnergyWh  *float64 `json:"energyWh"`
}

// KWh returns the consumption in kWh. energyKwh wins; energyWh is used only
// when strictly positive.
func (r RoomConsumption) KWh() (float64, bool) {
	if r.EnergyKWh != nil {
		return *r.EnergyKWh, true
	}
	if r.EnergyWh != nil && *r.EnergyWh > 0 {
		return *r.EnergyWh / 1000, true
	}
	return 0, false
}

// PropertyConsumption groups room consumption by property.
type PropertyConsumption struct {
	PropertyID ID                `json:"property_id"`
	Rooms      []RoomConsumption `json:"rooms"`
}

// ConsumptionSnapshot is one complete consumption payload.
type ConsumptionSnapshot struct {
	Properties []PropertyConsumption `json:"properties"`
	Window     Window                `json:"window"`
	FetchedAt  time.Time             `json:"fetched_at"`
}

// Room looks up a room's consumption.
func (s *ConsumptionSnapshot) Room(propertyID, roomID ID) (RoomConsumption, bool) {
	if s == nil {
		return RoomConsumption{}, false
	}
	for _, p := range s.Properties {
		if p.PropertyID != propertyID {
			continue
		}
		for _, r := range p.Rooms {
			if r.ID == roomID {
				return r, true
			}
		}
	}
	return RoomConsumption{}, false
}

// RoomModeResult is the echo of a setRoomMode mutation.
type RoomModeResult struct {
	RoomID ID       `json:"id"`
	Mode   RoomMode `json:"mode"`
}

// AdjustTemperature is the echo of a setRoomAdjustTemperature mutation.
type AdjustTemperature struct {
	Active      bool     `json:"active"`
	EndDateTime *string  `json:"endDateTime"`
	Temperature *float64 `json:"temperature"`
}

// TemperatureResult is the echo of a setRoomAdjustTemperature mutation.
type TemperatureResult struct {
	RoomID ID                `json:"id"`
	Adjust AdjustTemperature `json:"adjustTemperature"`
}

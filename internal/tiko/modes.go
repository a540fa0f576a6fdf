package tiko

import (
	"fmt"
	"math"
	"strings"
)

// Mode is a room heating preset. Presets are mutually exclusive; ModeNone
// clears whichever preset is active.
type Mode string

// Room modes understood by the vendor API.
const (
	ModeNone           Mode = "none"
	ModeComfort        Mode = "comfort"
	ModeAbsence        Mode = "absence"
	ModeFrost          Mode = "frost"
	ModeSleep          Mode = "sleep"
	ModeDisableHeating Mode = "disableHeating"
	ModeBoost          Mode = "boost"
)

var knownModes = []Mode{
	ModeNone,
	ModeComfort,
	ModeAbsence,
	ModeFrost,
	ModeSleep,
	ModeDisableHeating,
	ModeBoost,
}

// ParseMode parses a mode name case-insensitively. An empty string is
// ModeNone.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeNone, nil
	}
	for _, m := range knownModes {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range knownModes {
		if m == known {
			return true
		}
	}
	return false
}

// wireValue is the GraphQL variable for m. ModeNone is sent as null.
func (m Mode) wireValue() any {
	if m == ModeNone {
		return nil
	}
	return string(m)
}

// Thermostat target temperature limits in °C.
const (
	MinTemperature  = 1.0
	MaxTemperature  = 40.0
	TemperatureStep = 0.1
)

// NormalizeTemperature rounds celsius to TemperatureStep and checks it
// against the thermostat limits.
func NormalizeTemperature(celsius float64) (float64, error) {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return 0, fmt.Errorf("%w: %v", ErrTemperatureOutOfRange, celsius)
	}
	rounded := math.Round(celsius/TemperatureStep) / (1 / TemperatureStep)
	if rounded < MinTemperature || rounded > MaxTemperature {
		return 0, fmt.Errorf("%w: %.1f not in [%.0f, %.0f]",
			ErrTemperatureOutOfRange, rounded, MinTemperature, MaxTemperature)
	}
	return rounded, nil
}

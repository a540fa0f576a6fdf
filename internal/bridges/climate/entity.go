package climate

import (
	"fmt"
	"strings"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// MetricKind identifies one value the bridge derives from a room.
type MetricKind int

// Room metrics. MetricConsumption comes from the consumption snapshot; all
// others come from the state snapshot.
const (
	MetricTemperature MetricKind = iota
	MetricTargetTemperature
	MetricHumidity
	MetricHeating
	MetricBatteryLow
	MetricMode
	MetricHVACMode
	MetricHVACAction
	MetricPreset
	MetricConsumption
)

// metricInfo describes how a metric is keyed and announced.
type metricInfo struct {
	key         string
	name        string
	component   string // Home Assistant component; "" when only part of the climate entity
	deviceClass string
	unit        string
	stateClass  string
}

var metrics = map[MetricKind]metricInfo{
	MetricTemperature:       {key: "temperature", name: "Temperature", component: "sensor", deviceClass: "temperature", unit: "°C", stateClass: "measurement"},
	MetricTargetTemperature: {key: "target_temperature"},
	MetricHumidity:          {key: "humidity", name: "Humidity", component: "sensor", deviceClass: "humidity", unit: "%", stateClass: "measurement"},
	MetricHeating:           {key: "heating", name: "Heating", component: "binary_sensor", deviceClass: "heat"},
	MetricBatteryLow:        {key: "battery_low", name: "Battery", component: "binary_sensor", deviceClass: "battery"},
	MetricMode:              {key: "mode"},
	MetricHVACMode:          {key: "hvac_mode"},
	MetricHVACAction:        {key: "hvac_action"},
	MetricPreset:            {key: "preset"},
	MetricConsumption:       {key: "energy_kwh", name: "Energy", component: "sensor", deviceClass: "energy", unit: "kWh", stateClass: "total_increasing"},
}

// stateMetrics are published in the room state payload, in order.
var stateMetrics = []MetricKind{
	MetricTemperature,
	MetricTargetTemperature,
	MetricHumidity,
	MetricHeating,
	MetricBatteryLow,
	MetricMode,
	MetricHVACMode,
	MetricHVACAction,
	MetricPreset,
}

// String returns the payload key for k.
func (k MetricKind) String() string {
	if info, ok := metrics[k]; ok {
		return info.key
	}
	return fmt.Sprintf("metric(%d)", int(k))
}

// Home Assistant HVAC modes and actions.
const (
	HVACModeHeat = "heat"
	HVACModeOff  = "off"

	HVACActionHeating = "heating"
	HVACActionIdle    = "idle"
	HVACActionOff     = "off"
)

// Home Assistant presets.
const (
	PresetNone    = "none"
	PresetComfort = "comfort"
	PresetEco     = "eco"
	PresetNight   = "night"
	PresetFrost   = "frost"
	PresetBoost   = "boost"
)

// presetModes lists the selectable presets. Home Assistant reserves "none".
var presetModes = []string{PresetComfort, PresetEco, PresetNight, PresetFrost, PresetBoost}

var presetToMode = map[string]tiko.Mode{
	PresetNone:    tiko.ModeNone,
	PresetComfort: tiko.ModeComfort,
	PresetEco:     tiko.ModeAbsence,
	PresetNight:   tiko.ModeSleep,
	PresetFrost:   tiko.ModeFrost,
	PresetBoost:   tiko.ModeBoost,
}

// RoomValue derives a state metric from room. ok is false when the vendor
// did not report the underlying value or k is not a state metric.
func RoomValue(k MetricKind, room tiko.Room) (any, bool) {
	switch k {
	case MetricTemperature:
		return deref(room.CurrentTemperature)
	case MetricTargetTemperature:
		return deref(room.TargetTemperature)
	case MetricHumidity:
		return deref(room.Humidity)
	case MetricHeating:
		return room.Status.HeatingOperating, true
	case MetricBatteryLow:
		return room.Status.SensorBatteryLow, true
	case MetricMode:
		return string(room.Mode.Active()), true
	case MetricHVACMode:
		return HVACMode(room), true
	case MetricHVACAction:
		return HVACAction(room), true
	case MetricPreset:
		return Preset(room), true
	default:
		return nil, false
	}
}

// ConsumptionValue returns the room's energy in kWh.
func ConsumptionValue(rc tiko.RoomConsumption) (float64, bool) {
	return rc.KWh()
}

func deref(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

// RoomStateValues collects every reported state metric keyed by name.
func RoomStateValues(room tiko.Room) map[string]any {
	values := make(map[string]any, len(stateMetrics))
	for _, k := range stateMetrics {
		if v, ok := RoomValue(k, room); ok {
			values[k.String()] = v
		}
	}
	return values
}

// HVACMode is "off" while heating is disabled and "heat" otherwise.
func HVACMode(room tiko.Room) string {
	if room.Mode.DisableHeating {
		return HVACModeOff
	}
	return HVACModeHeat
}

// HVACAction reports what the radiator is doing right now.
func HVACAction(room tiko.Room) string {
	switch {
	case room.Status.HeatingOperating:
		return HVACActionHeating
	case room.Mode.DisableHeating:
		return HVACActionOff
	default:
		return HVACActionIdle
	}
}

// Preset maps the active vendor mode to a Home Assistant preset.
func Preset(room tiko.Room) string {
	switch room.Mode.Active() {
	case tiko.ModeComfort:
		return PresetComfort
	case tiko.ModeAbsence:
		return PresetEco
	case tiko.ModeSleep:
		return PresetNight
	case tiko.ModeFrost:
		return PresetFrost
	case tiko.ModeBoost:
		return PresetBoost
	default:
		return PresetNone
	}
}

// ModeForPreset maps a Home Assistant preset back to a vendor mode.
func ModeForPreset(preset string) (tiko.Mode, error) {
	mode, ok := presetToMode[strings.ToLower(strings.TrimSpace(preset))]
	if !ok {
		return "", fmt.Errorf("%w: unknown preset %q", tiko.ErrInvalidMode, preset)
	}
	return mode, nil
}

// ModeForHVAC maps a Home Assistant HVAC mode to a vendor mode. "heat"
// clears any preset.
func ModeForHVAC(hvacMode string) (tiko.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(hvacMode)) {
	case HVACModeOff:
		return tiko.ModeDisableHeating, nil
	case HVACModeHeat:
		return tiko.ModeNone, nil
	default:
		return "", fmt.Errorf("%w: unknown hvac mode %q", tiko.ErrInvalidMode, hvacMode)
	}
}

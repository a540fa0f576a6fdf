package climate

import (
	"fmt"

	"github.com/nerrad567/tiko-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// discoveryManufacturer is shown on every announced device.
const discoveryManufacturer = "Tiko"

// DiscoveryMessage is a Home Assistant MQTT discovery config. Only the
// fields the bridge uses are modelled.
type DiscoveryMessage struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	ObjectID          string          `json:"object_id,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            DiscoveryDevice `json:"device"`

	StateTopic        string `json:"state_topic,omitempty"`
	ValueTemplate     string `json:"value_template,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	StateOn           string `json:"state_on,omitempty"`
	StateOff          string `json:"state_off,omitempty"`
	CommandTopic      string `json:"command_topic,omitempty"`

	// Climate
	CurrentTemperatureTopic     string   `json:"current_temperature_topic,omitempty"`
	CurrentTemperatureTemplate  string   `json:"current_temperature_template,omitempty"`
	CurrentHumidityTopic        string   `json:"current_humidity_topic,omitempty"`
	CurrentHumidityTemplate     string   `json:"current_humidity_template,omitempty"`
	TemperatureStateTopic       string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTemplate    string   `json:"temperature_state_template,omitempty"`
	TemperatureCommandTopic     string   `json:"temperature_command_topic,omitempty"`
	TemperatureCommandTemplate  string   `json:"temperature_command_template,omitempty"`
	ModeStateTopic              string   `json:"mode_state_topic,omitempty"`
	ModeStateTemplate           string   `json:"mode_state_template,omitempty"`
	ModeCommandTopic            string   `json:"mode_command_topic,omitempty"`
	ModeCommandTemplate         string   `json:"mode_command_template,omitempty"`
	Modes                       []string `json:"modes,omitempty"`
	ActionTopic                 string   `json:"action_topic,omitempty"`
	ActionTemplate              string   `json:"action_template,omitempty"`
	PresetModeStateTopic        string   `json:"preset_mode_state_topic,omitempty"`
	PresetModeValueTemplate     string   `json:"preset_mode_value_template,omitempty"`
	PresetModeCommandTopic      string   `json:"preset_mode_command_topic,omitempty"`
	PresetModeCommandTemplate   string   `json:"preset_mode_command_template,omitempty"`
	PresetModes                 []string `json:"preset_modes,omitempty"`
	MinTemp                     float64  `json:"min_temp,omitempty"`
	MaxTemp                     float64  `json:"max_temp,omitempty"`
	TempStep                    float64  `json:"temp_step,omitempty"`
	Precision                   float64  `json:"precision,omitempty"`
	TemperatureUnit             string   `json:"temperature_unit,omitempty"`
	JSONAttributesTopic         string   `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate      string   `json:"json_attributes_template,omitempty"`
}

// DiscoveryDevice groups a room's entities under one device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryConfig is a discovery topic and its payload.
type DiscoveryConfig struct {
	Topic   string
	Message DiscoveryMessage
}

// modeSwitches are the per-mode switches announced for every room.
var modeSwitches = []tiko.Mode{tiko.ModeBoost, tiko.ModeAbsence, tiko.ModeFrost, tiko.ModeDisableHeating}

func commandTemplate(command, value string) string {
	return fmt.Sprintf(`{"command":%q,"value":%s}`, command, value)
}

// RoomDiscovery builds every discovery config for one room: the climate
// entity, its sensors and binary sensors, the energy sensor and one switch
// per exclusive mode.
func RoomDiscovery(discoveryPrefix string, topics mqtt.Topics, property tiko.Property, room tiko.Room, version string) []DiscoveryConfig {
	pid, rid := property.ID.String(), room.ID.String()
	nodeID := fmt.Sprintf("%s_%s_%s", topics.Prefix(), pid, rid)
	stateTopic := topics.RoomState(pid, rid)
	commandTopic := topics.RoomCommand(pid, rid)

	device := DiscoveryDevice{
		Identifiers:  []string{nodeID},
		Name:         room.Name,
		Manufacturer: discoveryManufacturer,
		Model:        "Tiko Equipment",
		SWVersion:    version,
	}
	base := func(objectID, name string) DiscoveryMessage {
		return DiscoveryMessage{
			Name:              name,
			UniqueID:          nodeID + "_" + objectID,
			ObjectID:          nodeID + "_" + objectID,
			AvailabilityTopic: topics.Health(),
			Device:            device,
		}
	}

	thermostat := base("thermostat", "")
	thermostat.CurrentTemperatureTopic = stateTopic
	thermostat.CurrentTemperatureTemplate = valueTemplate(MetricTemperature)
	thermostat.CurrentHumidityTopic = stateTopic
	thermostat.CurrentHumidityTemplate = valueTemplate(MetricHumidity)
	thermostat.TemperatureStateTopic = stateTopic
	thermostat.TemperatureStateTemplate = valueTemplate(MetricTargetTemperature)
	thermostat.TemperatureCommandTopic = commandTopic
	thermostat.TemperatureCommandTemplate = commandTemplate(CommandSetTemperature, "{{ value }}")
	thermostat.ModeStateTopic = stateTopic
	thermostat.ModeStateTemplate = valueTemplate(MetricHVACMode)
	thermostat.ModeCommandTopic = commandTopic
	thermostat.ModeCommandTemplate = commandTemplate(CommandSetHVACMode, `"{{ value }}"`)
	thermostat.Modes = []string{HVACModeOff, HVACModeHeat}
	thermostat.ActionTopic = stateTopic
	thermostat.ActionTemplate = valueTemplate(MetricHVACAction)
	thermostat.PresetModeStateTopic = stateTopic
	thermostat.PresetModeValueTemplate = valueTemplate(MetricPreset)
	thermostat.PresetModeCommandTopic = commandTopic
	thermostat.PresetModeCommandTemplate = commandTemplate(CommandSetPreset, `"{{ value }}"`)
	thermostat.PresetModes = presetModes
	thermostat.MinTemp = tiko.MinTemperature
	thermostat.MaxTemp = tiko.MaxTemperature
	thermostat.TempStep = tiko.TemperatureStep
	thermostat.Precision = tiko.TemperatureStep
	thermostat.TemperatureUnit = "C"

	configs := []DiscoveryConfig{{Topic: mqtt.DiscoveryConfig(discoveryPrefix, "climate", nodeID, "thermostat"), Message: thermostat}}

	for _, k := range []MetricKind{MetricTemperature, MetricHumidity, MetricHeating, MetricBatteryLow} {
		info := metrics[k]
		msg := base(info.key, info.name)
		msg.StateTopic = stateTopic
		msg.DeviceClass = info.deviceClass
		msg.UnitOfMeasurement = info.unit
		msg.StateClass = info.stateClass
		if info.component == "binary_sensor" {
			msg.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.state.%s else 'OFF' }}", info.key)
		} else {
			msg.ValueTemplate = valueTemplate(k)
		}
		configs = append(configs, DiscoveryConfig{Topic: mqtt.DiscoveryConfig(discoveryPrefix, info.component, nodeID, info.key), Message: msg})
	}

	energy := metrics[MetricConsumption]
	energyMsg := base(energy.key, energy.name)
	energyMsg.StateTopic = topics.RoomConsumption(pid, rid)
	energyMsg.ValueTemplate = "{{ value_json.energy_kwh }}"
	energyMsg.DeviceClass = energy.deviceClass
	energyMsg.UnitOfMeasurement = energy.unit
	energyMsg.StateClass = energy.stateClass
	energyMsg.JSONAttributesTopic = energyMsg.StateTopic
	energyMsg.JSONAttributesTemplate = `{{ {"period": value_json.period, "window_start": value_json.window_start} | tojson }}`
	configs = append(configs, DiscoveryConfig{Topic: mqtt.DiscoveryConfig(discoveryPrefix, energy.component, nodeID, energy.key), Message: energyMsg})

	for _, mode := range modeSwitches {
		objectID := "mode_" + string(mode)
		msg := base(objectID, fmt.Sprintf("%s mode", modeLabel(mode)))
		msg.StateTopic = stateTopic
		msg.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.state.%s == '%s' else 'OFF' }}", MetricMode, mode)
		msg.CommandTopic = commandTopic
		msg.PayloadOn = commandTemplate(CommandSetMode, fmt.Sprintf("%q", mode))
		msg.PayloadOff = commandTemplate(CommandSetMode, fmt.Sprintf("%q", tiko.ModeNone))
		msg.StateOn = "ON"
		msg.StateOff = "OFF"
		configs = append(configs, DiscoveryConfig{Topic: mqtt.DiscoveryConfig(discoveryPrefix, "switch", nodeID, objectID), Message: msg})
	}

	return configs
}

func valueTemplate(k MetricKind) string {
	return fmt.Sprintf("{{ value_json.state.%s }}", k)
}

func modeLabel(m tiko.Mode) string {
	switch m {
	case tiko.ModeBoost:
		return "Boost"
	case tiko.ModeAbsence:
		return "Absence"
	case tiko.ModeFrost:
		return "Frost"
	case tiko.ModeDisableHeating:
		return "Disable heating"
	default:
		return string(m)
	}
}

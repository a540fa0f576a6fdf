// Package climate exposes Tiko rooms to MQTT consumers such as Home
// Assistant.
//
// The bridge sits between the poll coordinators and the broker:
//
//	┌──────────────────┐  updates   ┌─────────────────┐   MQTT
//	│   coordinators   │───────────►│  climate.Bridge │◄─────────► broker
//	│ (state, energy)  │◄───────────│   (this pkg)    │
//	└──────────────────┘  commands  └─────────────────┘
//
// # Outbound
//
// After every coordinator cycle the bridge publishes one retained JSON
// payload per room on {prefix}/state/{property}/{room}. Rooms whose state did
// not change are skipped. When the coordinator served its previous snapshot
// after a failed refresh, the payload carries "stale": true.
//
// Consumption is published on {prefix}/consumption/{property}/{room} after
// every consumption cycle.
//
// The first time a room is seen, Home Assistant discovery configs are
// published for it: a climate entity, temperature and humidity sensors,
// heating and battery binary sensors, an energy sensor and one switch per
// exclusive mode.
//
// # Inbound
//
// Commands arrive on {prefix}/command/{property}/{room}:
//
//	{"id": "cmd-1", "command": "set_preset", "value": "eco"}
//	{"command": "set_temperature", "value": 21.5}
//
// Each command is acknowledged on {prefix}/ack/{property}/{room}: "accepted"
// once validated, then "completed" or "failed". Invalid commands get a single
// "failed" ack and never reach the vendor. Every command is written to the
// audit log when a recorder is configured.
//
// # Status
//
// StatusReporter publishes a retained summary of the coordinators on
// {prefix}/status/coordinator. Broker availability itself is the retained
// online/offline payload on {prefix}/health, owned by the MQTT client.
package climate

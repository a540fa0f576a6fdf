package mqtt

import (
	"fmt"
	"strings"
)

// Default topic roots.
const (
	DefaultTopicPrefix     = "tiko"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Availability payloads published on the health topic. Home Assistant's
// availability defaults match them.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's MQTT topics under a configurable prefix.
//
//	topics := mqtt.NewTopics("tiko")
//	topics.RoomState("1234", "5678")
//	// Returns: "tiko/state/1234/5678"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Leading and trailing slashes are
// dropped; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// =============================================================================
// Room Topics
// =============================================================================

// RoomState returns the retained state topic for a room.
//
// Example: tiko/state/1234/5678
func (t Topics) RoomState(propertyID, roomID string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.Prefix(), propertyID, roomID)
}

// RoomConsumption returns the retained consumption topic for a room.
//
// Example: tiko/consumption/1234/5678
func (t Topics) RoomConsumption(propertyID, roomID string) string {
	return fmt.Sprintf("%s/consumption/%s/%s", t.Prefix(), propertyID, roomID)
}

// RoomCommand returns the command topic for a room.
//
// Example: tiko/command/1234/5678
func (t Topics) RoomCommand(propertyID, roomID string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.Prefix(), propertyID, roomID)
}

// RoomAck returns the command acknowledgement topic for a room.
//
// Example: tiko/ack/1234/5678
func (t Topics) RoomAck(propertyID, roomID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", t.Prefix(), propertyID, roomID)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Health returns the retained availability topic. It carries the LWT.
//
// Example: tiko/health
func (t Topics) Health() string {
	return t.Prefix() + "/health"
}

// CoordinatorStatus returns the retained coordinator status topic.
//
// Example: tiko/status/coordinator
func (t Topics) CoordinatorStatus() string {
	return t.Prefix() + "/status/coordinator"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllRoomCommands matches commands for every room.
//
// Pattern: tiko/command/+/+
func (t Topics) AllRoomCommands() string {
	return t.Prefix() + "/command/+/+"
}

// ParseRoomTopic splits a room topic into its kind ("state", "command", ...)
// and ids. ok is false when topic is not a room topic under this prefix.
func (t Topics) ParseRoomTopic(topic string) (kind, propertyID, roomID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// =============================================================================
// Home Assistant Discovery
// =============================================================================

// DiscoveryConfig returns a Home Assistant discovery config topic.
//
// Example: homeassistant/climate/tiko_1234_5678/thermostat/config
func DiscoveryConfig(discoveryPrefix, component, nodeID, objectID string) string {
	discoveryPrefix = strings.Trim(discoveryPrefix, "/")
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, nodeID, objectID)
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Measurement names.
const (
	MeasurementRoomReading     = "room_reading"
	MeasurementRoomConsumption = "room_consumption"
)

func roomTags(propertyID, roomID tiko.ID, roomName string) map[string]string {
	return map[string]string{
		"property_id": propertyID.String(),
		"room_id":     roomID.String(),
		"room_name":   roomName,
	}
}

// WriteRoomReading records one room's thermostat state.
//
// Temperatures and humidity are only written when the vendor reported
// them. The flags are always written.
//
// Parameters:
//   - propertyID: Property the room belongs to
//   - room: Room as found in the state snapshot
//   - at: Observation time (the snapshot's fetch time)
func (c *Client) WriteRoomReading(propertyID tiko.ID, room tiko.Room, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{
		"heating":     room.Status.HeatingOperating,
		"battery_low": room.Status.SensorBatteryLow,
		"mode":        string(room.Mode.Active()),
	}
	if room.CurrentTemperature != nil {
		fields["temperature"] = *room.CurrentTemperature
	}
	if room.TargetTemperature != nil {
		fields["target_temperature"] = *room.TargetTemperature
	}
	if room.Humidity != nil {
		fields["humidity"] = *room.Humidity
	}

	c.writer.WritePoint(write.NewPoint(MeasurementRoomReading, roomTags(propertyID, room.ID, room.Name), fields, at))
}

// WriteRoomConsumption records one room's energy over a window. Rooms
// without a usable figure are skipped.
func (c *Client) WriteRoomConsumption(propertyID tiko.ID, room tiko.RoomConsumption, window tiko.Window, at time.Time) {
	if !c.IsConnected() {
		return
	}
	kwh, ok := room.KWh()
	if !ok {
		return
	}

	tags := roomTags(propertyID, room.ID, room.Name)
	tags["resolution"] = string(window.Resolution)
	if window.Period != "" {
		tags["period"] = string(window.Period)
	}

	c.writer.WritePoint(write.NewPoint(MeasurementRoomConsumption, tags, map[string]any{
		"energy_kwh":   kwh,
		"window_start": window.Start.UnixMilli(),
	}, at))
}

// RecordSnapshot writes a room_reading point for every room.
func (c *Client) RecordSnapshot(s *tiko.Snapshot) {
	if s == nil {
		return
	}
	at := s.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}
	for _, p := range s.Properties {
		for _, r := range p.Rooms {
			c.WriteRoomReading(p.ID, r, at)
		}
	}
}

// RecordConsumption writes a room_consumption point for every room.
func (c *Client) RecordConsumption(s *tiko.ConsumptionSnapshot) {
	if s == nil {
		return
	}
	at := s.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}
	for _, p := range s.Properties {
		for _, r := range p.Rooms {
			c.WriteRoomConsumption(p.PropertyID, r, s.Window, at)
		}
	}
}

// WritePoint writes a custom point at the current time.
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"site": "home"},
//	    map[string]any{"logins": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

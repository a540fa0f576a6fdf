// Package influxdb exports room telemetry to InfluxDB v2.
//
// Each successful state refresh becomes one room_reading point per room
// (temperature, target, humidity, heating and battery flags) and each
// consumption refresh one room_consumption point per room (energy_kwh).
// Points are tagged with property_id, room_id and room_name.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write", "error", err) })
//	client.RecordSnapshot(snapshot)
package influxdb

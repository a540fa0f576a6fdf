// Package api implements the local HTTP status API and WebSocket push for
// the Tiko bridge.
//
// This package provides:
//   - Read endpoints for the current room snapshot, consumption and
//     coordinator status
//   - Command endpoints for room mode and target temperature
//   - The command audit trail
//   - A WebSocket hub relaying every coordinator cycle
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/status
//	GET  /api/v1/metrics
//	GET  /api/v1/properties
//	GET  /api/v1/properties/{propertyID}/rooms/{roomID}
//	PUT  /api/v1/properties/{propertyID}/rooms/{roomID}/mode
//	PUT  /api/v1/properties/{propertyID}/rooms/{roomID}/temperature
//	GET  /api/v1/consumption
//	PUT  /api/v1/consumption/period
//	GET  /api/v1/audit?limit=
//	GET  /api/v1/ws
//
// Errors use one JSON envelope: {"status": 404, "code": "not_found", "message": "..."}.
//
// # WebSocket
//
// Clients subscribe to "snapshot.updated" and/or "consumption.updated":
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["snapshot.updated"]}}
//
// # Authentication
//
// With api.auth.jwt_secret set, every route except /health needs a bearer
// token (see package auth). Read routes need the "read" scope and PUT
// routes need "control". The WebSocket also accepts ?token=. Without a
// secret the API is open; bind it to a trusted interface.
package api

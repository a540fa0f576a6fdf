// Package coordinator keeps the last-known-good vendor snapshots fresh.
//
// A Coordinator runs one refresh cycle at a time, either on its interval or
// on demand after a command. Each cycle logs in when no session is held,
// fetches, and on an expired session invalidates, logs in once more and
// retries the fetch once. When everything fails the previous snapshot stays
// exposed (degraded); with no previous snapshot the cycle returns
// ErrUpdateFailed.
//
// Two coordinators are built on it:
//
//   - StateCoordinator: live room state every 30s, plus SetRoomMode and
//     SetRoomTemperature, each followed by exactly one forced refresh.
//   - ConsumptionCoordinator: per-room energy for a period preset every 5m.
//
// Both share a SessionSource so a process holds one vendor session and
// concurrent logins collapse into one request.
package coordinator

// Package tiko is a client for the Tiko heating vendor's GraphQL API.
//
// It covers three layers:
//   - Transport (Client.Send): one POST per call, auth headers in, session
//     cookies out as a TokenDelta
//   - Session manager (Session): login with a bounded attempt budget
//   - Domain operations (Client.FetchState, FetchConsumption, SetRoomMode,
//     SetRoomTemperature): typed responses validated once at this boundary
//
// The package holds no session state. Callers own SessionTokens and pass
// them into every operation; internal/coordinator is the usual owner.
//
// Usage:
//
//	client, err := tiko.NewClient(tiko.ClientOptions{Endpoint: "tiko.fr"})
//	session, err := tiko.NewSession(tiko.SessionOptions{Client: client, Credentials: creds})
//	tokens, err := session.Login(ctx)
//	snap, delta, err := client.FetchState(ctx, tokens)
//	tokens = tokens.Merge(delta)
//
// Errors are typed: *TransportError, *AuthError and *OperationError carry a
// Kind and unwrap to their cause. IsSessionExpired decides whether a failure
// warrants a re-login.
package tiko

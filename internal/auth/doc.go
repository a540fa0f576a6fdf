// Package auth issues and validates the bearer tokens that protect the
// local HTTP API.
//
// Tokens are HS256 JWTs signed with the api.auth.jwt_secret setting. Each
// names its client in the subject and carries one of two scopes:
//   - read: status, rooms, consumption and the audit trail
//   - control: everything read allows, plus room commands
//
// Tokens are minted offline with the "token" subcommand of the daemon and
// are not stored; rotating the secret revokes every issued token.
package auth

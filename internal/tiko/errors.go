package tiko

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Domain errors for the tiko package.
var (
	// ErrNotAuthenticated is returned when an operation is attempted without
	// session tokens.
	ErrNotAuthenticated = errors.New("tiko: not authenticated")

	// ErrAttemptsExhausted is returned when the login attempt budget is used up.
	ErrAttemptsExhausted = errors.New("tiko: login attempts exhausted")

	// ErrInvalidMode is returned when a room mode is not one of the known presets.
	ErrInvalidMode = errors.New("tiko: invalid room mode")

	// ErrInvalidPeriod is returned for an unknown consumption period name.
	ErrInvalidPeriod = errors.New("tiko: invalid consumption period")

	// ErrInvalidWindow is returned when a consumption window ends before it starts.
	ErrInvalidWindow = errors.New("tiko: invalid consumption window")

	// ErrTemperatureOutOfRange is returned when a target temperature is
	// outside the range accepted by the thermostats.
	ErrTemperatureOutOfRange = errors.New("tiko: temperature out of range")

	// ErrInvalidCredentials is returned when email or password is empty.
	ErrInvalidCredentials = errors.New("tiko: email and password are required")
)

// TransportErrorKind distinguishes network failures from HTTP status failures.
type TransportErrorKind int

const (
	// TransportNetwork covers connection errors, timeouts and cancellation.
	TransportNetwork TransportErrorKind = iota

	// TransportStatus is a non-2xx HTTP response.
	TransportStatus

	// TransportDecode is a 2xx response whose body is not a GraphQL envelope.
	TransportDecode
)

// String returns the kind name used in logs.
func (k TransportErrorKind) String() string {
	switch k {
	case TransportNetwork:
		return "network"
	case TransportStatus:
		return "status"
	case TransportDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// TransportError is returned by Client.Send. It is never retried by the
// transport itself.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportStatus:
		return fmt.Sprintf("tiko: http status %d: %s", e.StatusCode, truncate(e.Body, maxErrorBody))
	case TransportDecode:
		return fmt.Sprintf("tiko: decoding response: %v", e.Err)
	default:
		return fmt.Sprintf("tiko: request failed: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the vendor rejected the session at HTTP level.
func (e *TransportError) Unauthorized() bool {
	return e.Kind == TransportStatus &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// AuthErrorKind enumerates login failure causes.
type AuthErrorKind int

const (
	// AuthNoResponse means the login request never produced a usable response.
	AuthNoResponse AuthErrorKind = iota

	// AuthMalformedResponse means the body lacked the login result or user id.
	AuthMalformedResponse

	// AuthServerError means the vendor returned an errors list.
	AuthServerError

	// AuthMissingToken means the login result carried no token.
	AuthMissingToken

	// AuthNotAuthenticated means an operation was called without tokens.
	AuthNotAuthenticated

	// AuthAttemptsExhausted means the login attempt budget is used up.
	AuthAttemptsExhausted
)

// String returns the kind name used in logs.
func (k AuthErrorKind) String() string {
	switch k {
	case AuthNoResponse:
		return "no_response"
	case AuthMalformedResponse:
		return "malformed_response"
	case AuthServerError:
		return "server_error"
	case AuthMissingToken:
		return "missing_token"
	case AuthNotAuthenticated:
		return "not_authenticated"
	case AuthAttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "unknown"
	}
}

// AuthError describes a failed login or a missing session.
type AuthError struct {
	Kind     AuthErrorKind
	Messages []string
	Err      error
}

func (e *AuthError) Error() string {
	msg := "tiko: authentication failed (" + e.Kind.String() + ")"
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// OperationErrorKind enumerates domain operation failure causes.
type OperationErrorKind int

const (
	// OpTransport wraps a TransportError.
	OpTransport OperationErrorKind = iota

	// OpServer means HTTP 200 with a GraphQL errors list.
	OpServer

	// OpMalformed means HTTP 200 with an unexpected data shape.
	OpMalformed
)

// String returns the kind name used in logs.
func (k OperationErrorKind) String() string {
	switch k {
	case OpTransport:
		return "transport"
	case OpServer:
		return "server_error"
	case OpMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// OperationError is returned by the domain operations.
type OperationError struct {
	Op       string
	Kind     OperationErrorKind
	Messages []string
	Err      error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("tiko: %s failed (%s)", e.Op, e.Kind)
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsSessionExpired reports whether err should be treated as an invalid
// session, i.e. whether re-authenticating and retrying can help.
//
// GraphQL-level failures on HTTP 200 count as expiry because the vendor
// reports a dead session that way. Network failures and 5xx responses do not.
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind == AuthNotAuthenticated
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Unauthorized()
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind == OpServer || opErr.Kind == OpMalformed
	}

	return false
}

// maxErrorBody caps response bodies embedded in error strings.
const maxErrorBody = 256

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// errorMessages flattens a GraphQL errors list for error reporting.
func errorMessages(errs []GraphQLError) []string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Message == "" {
			msgs = append(msgs, "unspecified error")
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return msgs
}

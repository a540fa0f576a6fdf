package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope is the access level a token grants.
type Scope string

const (
	// ScopeRead allows the status, room, consumption and audit endpoints.
	ScopeRead Scope = "read"

	// ScopeControl additionally allows room commands and period changes.
	ScopeControl Scope = "control"
)

// MinSecretLength is the shortest accepted HMAC signing secret.
const MinSecretLength = 32

// issuer is stamped into every token and checked on parse.
const issuer = "tiko-bridge"

var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrScopeDenied    = errors.New("token scope does not allow this operation")
	ErrSecretTooShort = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	ErrInvalidScope   = errors.New("invalid scope")
)

// ParseScope accepts "read" or "control", case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeRead:
		return ScopeRead, nil
	case ScopeControl:
		return ScopeControl, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Allows reports whether a token with scope s may perform an operation
// that needs required.
func (s Scope) Allows(required Scope) bool {
	switch required {
	case ScopeRead:
		return s == ScopeRead || s == ScopeControl
	case ScopeControl:
		return s == ScopeControl
	default:
		return false
	}
}

// Claims extends JWT standard claims with the granted scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// GenerateToken creates a signed HS256 token for a named client.
//
// Parameters:
//   - subject: Client name, e.g. "home-assistant"
//   - scope: Granted access level
//   - secret: HMAC signing secret, at least MinSecretLength bytes
//   - ttl: Lifetime; zero issues a token without expiry
//
// Returns:
//   - string: Compact serialised token
//   - error: If the inputs are invalid or signing fails
func GenerateToken(subject string, scope Scope, secret string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrTokenInvalid)
	}
	if _, err := ParseScope(string(scope)); err != nil {
		return "", err
	}
	if len(secret) < MinSecretLength {
		return "", ErrSecretTooShort
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		Scope: scope,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims.
// It checks the signature, the issuer, expiry when present, and the scope.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if _, err := ParseScope(string(claims.Scope)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	return claims, nil
}

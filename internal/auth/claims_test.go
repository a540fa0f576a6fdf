package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("home-assistant", ScopeControl, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "home-assistant" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "home-assistant")
	}
	if claims.Scope != ScopeControl {
		t.Errorf("Scope = %q, want %q", claims.Scope, ScopeControl)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.ExpiresAt == nil {
		t.Error("ExpiresAt should be set for a positive ttl")
	}
}

func TestGenerateToken_NoExpiry(t *testing.T) {
	token, err := GenerateToken("grafana", ScopeRead, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", claims.ExpiresAt)
	}
}

func TestGenerateToken_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		scope   Scope
		secret  string
		want    error
	}{
		{"empty subject", " ", ScopeRead, testSecret, ErrTokenInvalid},
		{"unknown scope", "ha", Scope("admin"), testSecret, ErrInvalidScope},
		{"short secret", "ha", ScopeRead, "short", ErrSecretTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateToken(tt.subject, tt.scope, tt.secret, time.Hour)
			if !errors.Is(err, tt.want) {
				t.Errorf("GenerateToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("ha", ScopeRead, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	_, err = ParseToken(token, "another-secret-key-for-jwt-signing-987654")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := ParseToken("not-a-valid-jwt", testSecret); err == nil {
		t.Error("ParseToken() should fail with invalid token string")
	}
}

func TestParseToken_Expired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "ha",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
		Scope: ScopeRead,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_RejectsForeignClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
	}{
		{"wrong issuer", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", Subject: "ha"}, Scope: ScopeRead}},
		{"missing subject", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}, Scope: ScopeRead}},
		{"unknown scope", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "ha"}, Scope: "owner"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("signing: %v", err)
			}
			if _, err := ParseToken(signed, testSecret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "ha"}, Scope: ScopeControl}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseToken(unsigned, testSecret); err == nil {
		t.Error("ParseToken() should reject alg=none")
	}
}

func TestScopeAllows(t *testing.T) {
	tests := []struct {
		have, need Scope
		want       bool
	}{
		{ScopeRead, ScopeRead, true},
		{ScopeRead, ScopeControl, false},
		{ScopeControl, ScopeRead, true},
		{ScopeControl, ScopeControl, true},
		{Scope(""), ScopeRead, false},
		{ScopeControl, Scope("admin"), false},
	}

	for _, tt := range tests {
		if got := tt.have.Allows(tt.need); got != tt.want {
			t.Errorf("%q.Allows(%q) = %v, want %v", tt.have, tt.need, got, tt.want)
		}
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(" Control "); err != nil || s != ScopeControl {
		t.Errorf("ParseScope(Control) = %q, %v", s, err)
	}
	if _, err := ParseScope("admin"); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("ParseScope(admin) error = %v, want ErrInvalidScope", err)
	}
}

package tiko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxLoginAttempts is the login budget before Login fails fast.
const DefaultMaxLoginAttempts = 3

// DefaultLoginCooldown is how long an exhausted budget stays closed before
// Login restores it on its own.
const DefaultLoginCooldown = 5 * time.Minute

// loginLanguage is the language code sent with every login.
const loginLanguage = "fr"

// Session performs logins for one account and enforces the attempt budget.
//
// Session does not hold tokens; callers own the SessionTokens it returns.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	client      *Client
	creds       Credentials
	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time
	logger      Logger

	mu          sync.Mutex
	attempts    int
	exhaustedAt time.Time
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Client is the transport used for login requests.
	Client *Client

	// Credentials are the account email and password.
	Credentials Credentials

	// MaxAttempts bounds consecutive logins. Default: DefaultMaxLoginAttempts.
	MaxAttempts int

	// Cooldown is how long Login fails fast once the budget is spent.
	// Default: DefaultLoginCooldown.
	Cooldown time.Duration

	// Now overrides the clock.
	Now func() time.Time

	// Logger is optional.
	Logger Logger
}

// NewSession creates a session manager.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("tiko client is required")
	}
	if strings.TrimSpace(opts.Credentials.Email) == "" || opts.Credentials.Password == "" {
		return nil, ErrInvalidCredentials
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultLoginCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		client:      opts.Client,
		creds:       opts.Credentials,
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		now:         now,
		logger:      opts.Logger,
	}, nil
}

// Login authenticates and returns a fresh token set.
//
// Every call consumes one attempt before any network I/O. Once the budget is
// spent, Login returns an AuthAttemptsExhausted error without contacting the
// vendor until ResetAttempts is called or the cooldown has elapsed since the
// last permitted attempt. A successful login resets the budget.
//
// Returns:
//   - SessionTokens: account id and token from the body, cookies from the response
//   - error: *AuthError describing why no session was produced
func (s *Session) Login(ctx context.Context) (SessionTokens, error) {
	s.mu.Lock()
	if s.attempts >= s.maxAttempts {
		if s.now().Sub(s.exhaustedAt) < s.cooldown {
			attempts, retryAt := s.attempts, s.exhaustedAt.Add(s.cooldown)
			s.mu.Unlock()
			s.logWarn("login refused, attempt budget exhausted",
				"attempts", attempts, "retry_at", retryAt.Format(time.RFC3339))
			return SessionTokens{}, &AuthError{Kind: AuthAttemptsExhausted, Err: ErrAttemptsExhausted}
		}
		s.attempts = 0
		s.logInfo("login budget restored after cooldown", "cooldown", s.cooldown.String())
	}
	s.attempts++
	attempt := s.attempts
	if s.attempts == s.maxAttempts {
		s.exhaustedAt = s.now()
	}
	s.mu.Unlock()

	resp, err := s.client.Send(ctx, mutationLogin, map[string]any{
		"email":         s.creds.Email,
		"password":      s.creds.Password,
		"langCode":      loginLanguage,
		"retainSession": true,
	}, SessionTokens{})
	if err != nil {
		s.logWarn("login request failed", "attempt", attempt, "error", err)
		return SessionTokens{}, &AuthError{Kind: AuthNoResponse, Err: err}
	}

	tokens, err := parseLogin(resp)
	if err != nil {
		s.logWarn("login rejected", "attempt", attempt, "error", err)
		return SessionTokens{}, err
	}

	s.ResetAttempts()
	s.logInfo("logged in", "account_id", tokens.AccountID, "attempt", attempt)

	return tokens, nil
}

// parseLogin validates a login response and builds the token set.
func parseLogin(resp *Response) (SessionTokens, error) {
	if resp.HasErrors() {
		return SessionTokens{}, &AuthError{Kind: AuthServerError, Messages: errorMessages(resp.Errors)}
	}

	var data struct {
		LogIn *struct {
			User *struct {
				ID flexString `json:"id"`
			} `json:"user"`
			Token *string `json:"token"`
		} `json:"logIn"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return SessionTokens{}, &AuthError{Kind: AuthMalformedResponse, Err: err}
	}
	if data.LogIn == nil {
		return SessionTokens{}, &AuthError{Kind: AuthMalformedResponse, Messages: []string{"missing logIn"}}
	}
	if data.LogIn.User == nil || data.LogIn.User.ID == "" {
		return SessionTokens{}, &AuthError{Kind: AuthMalformedResponse, Messages: []string{"missing user id"}}
	}
	if data.LogIn.Token == nil || *data.LogIn.Token == "" {
		return SessionTokens{}, &AuthError{Kind: AuthMissingToken}
	}

	tokens := SessionTokens{
		AccountID: string(data.LogIn.User.ID),
		AuthToken: *data.LogIn.Token,
	}
	return tokens.Merge(resp.Delta), nil
}

// Attempts returns the number of logins consumed since the last reset.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// MaxAttempts returns the login budget.
func (s *Session) MaxAttempts() int {
	return s.maxAttempts
}

// Exhausted reports whether Login is currently failing fast.
func (s *Session) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts >= s.maxAttempts && s.now().Sub(s.exhaustedAt) < s.cooldown
}

// ResetAttempts restores the full login budget.
func (s *Session) ResetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.exhaustedAt = time.Time{}
	s.mu.Unlock()
}

// flexString decodes a JSON string or number into its text form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// decodeData unmarshals the GraphQL data member, rejecting a missing or null one.
func decodeData(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/tiko-bridge/internal/tiko"
)

// Authenticator performs vendor logins. Satisfied by *tiko.Session.
type Authenticator interface {
	Login(ctx context.Context) (tiko.SessionTokens, error)
	ResetAttempts()
}

// Session is the token holder a Coordinator refreshes against.
// Satisfied by *SessionSource.
type Session interface {
	// Tokens returns the current tokens, ok=false when none are held.
	Tokens() (tiko.SessionTokens, bool)

	// Login authenticates and stores the resulting tokens.
	Login(ctx context.Context) (tiko.SessionTokens, error)

	// Invalidate drops the held tokens if they are still stale.
	Invalidate(stale tiko.SessionTokens)

	// Apply merges a token delta into the held tokens.
	Apply(delta tiko.TokenDelta)

	// ResetAttempts restores the login budget.
	ResetAttempts()
}

// loginKey is the single-flight key; there is one account per source.
const loginKey = "login"

// SessionSource holds the SessionTokens shared by the coordinators of one
// account. Concurrent logins collapse into one vendor call and every caller
// observes its result.
//
// Thread Safety: All methods are safe for concurrent use.
type SessionSource struct {
	auth Authenticator

	mu     sync.RWMutex
	tokens tiko.SessionTokens

	group  singleflight.Group
	logins atomic.Uint64
}

// NewSessionSource creates a source with no tokens.
func NewSessionSource(auth Authenticator) *SessionSource {
	return &SessionSource{auth: auth}
}

// Tokens returns a copy of the held tokens.
func (s *SessionSource) Tokens() (tiko.SessionTokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, s.tokens.Valid()
}

// Login authenticates once on behalf of all concurrent callers. The login
// replaces any held tokens; nothing from the previous session is kept.
//
// The shared login is detached from any single caller's cancellation and
// is bounded by the transport's request timeout. A caller whose ctx ends
// first returns ctx.Err() and leaves the login to the others.
func (s *SessionSource) Login(ctx context.Context) (tiko.SessionTokens, error) {
	loginCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(loginKey, func() (any, error) {
		s.logins.Add(1)
		tokens, err := s.auth.Login(loginCtx)
		if err != nil {
			return tiko.SessionTokens{}, err
		}
		s.mu.Lock()
		s.tokens = tokens
		s.mu.Unlock()
		return tokens, nil
	})

	select {
	case <-ctx.Done():
		return tiko.SessionTokens{}, fmt.Errorf("waiting for login: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return tiko.SessionTokens{}, res.Err
		}
		return res.Val.(tiko.SessionTokens), nil //nolint:forcetypeassert // only SessionTokens is stored
	}
}

// Invalidate clears the held tokens when they carry stale's auth token.
// Tokens already replaced by a newer login are kept.
func (s *SessionSource) Invalidate(stale tiko.SessionTokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens.AuthToken == stale.AuthToken {
		s.tokens = tiko.SessionTokens{}
	}
}

// Apply merges delta into the held tokens. It is a no-op without a session.
func (s *SessionSource) Apply(delta tiko.TokenDelta) {
	if delta.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens.Valid() {
		s.tokens = s.tokens.Merge(delta)
	}
}

// ResetAttempts restores the authenticator's login budget.
func (s *SessionSource) ResetAttempts() {
	s.auth.ResetAttempts()
}

// Logins returns how many vendor logins this source has started.
func (s *SessionSource) Logins() uint64 {
	return s.logins.Load()
}

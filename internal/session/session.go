package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("session: token is empty")
	ErrExpiredToken = errors.New("session: token is expired")
	ErrNoUserID     = errors.New("session: token carries no user id")
)

// Identity is the authenticated user as far as the client is
// concerned: the id the server routes pushes to, plus the bearer
// credential for REST calls.
type Identity struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Store owns the session identity. It changes rarely (login/logout)
// and every change drives a connection lifecycle transition. Absence
// of an identity is a valid quiescent state, not an error.
type Store struct {
	mu       sync.Mutex
	identity *Identity
	ready    chan struct{}
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		ready: make(chan struct{}),
		now:   time.Now,
	}
}

type tokenClaims struct {
	UserID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// Set installs the identity extracted from the bearer token and closes
// the readiness channel. The token signature is NOT verified: the
// server is the verifier, the client only needs the routing id and
// expiry from the claims.
func (s *Store) Set(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}

	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("session: failed to parse token: %w", err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, ErrNoUserID
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
		if expiresAt.Before(s.now()) {
			return Identity{}, ErrExpiredToken
		}
	}

	id := Identity{UserID: userID, Token: token, ExpiresAt: expiresAt}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	select {
	case <-s.ready:
		// Already closed: same-session token refresh.
	default:
		close(s.ready)
	}

	return id, nil
}

// Clear drops the identity and re-arms the readiness channel so future
// waiters block until the next sign-in.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return
	}
	s.identity = nil
	s.ready = make(chan struct{})
}

// Identity returns the current identity, if any.
func (s *Store) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Ready returns a channel that is closed while an identity is set.
// Callers racing a cold start select on it against their own timeout.
func (s *Store) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

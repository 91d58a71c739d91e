package sheetsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ideamans/go-sheetsync/localstore"
	"golang.org/x/oauth2"
)

// GrantStore persists the authorized resource list received at login.
type GrantStore interface {
	SetAuthorizedResources(ctx context.Context, grants []localstore.ResourceGrant) error
}

// Session is the authenticated state shared by the synchronizer and the
// interception layer. It is created by Login and cleared by Logout.
type Session struct {
	mu        sync.RWMutex
	token     string
	expiry    time.Time
	user      json.RawMessage
	resources []localstore.ResourceGrant
	listeners []func(token string)
}

// NewSession builds a session from an already issued token.
func NewSession(token string, user json.RawMessage, resources []localstore.ResourceGrant) *Session {
	return &Session{
		token:     token,
		expiry:    tokenExpiry(token),
		user:      user,
		resources: append([]localstore.ResourceGrant(nil), resources...),
	}
}

// Login authenticates against remote and persists the granted resources to
// store (best effort, bounded by DefaultConfig().StoreTimeout).
func Login(ctx context.Context, remote Remote, store GrantStore, email, password string) (*Session, error) {
	if remote == nil {
		return nil, ErrRemoteRequired
	}

	resp, err := remote.Call(ctx, ActionLogin, map[string]any{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if !resp.Success || resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "Login failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}

	sess := NewSession(resp.Token, resp.User, resp.Resources)
	if store != nil && len(resp.Resources) > 0 {
		WithTimeout(ctx, DefaultConfig().StoreTimeout, struct{}{}, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, store.SetAuthorizedResources(ctx, resp.Resources)
		})
	}
	return sess, nil
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return nil, ErrNotAuthenticated
	}
	if !s.expiry.IsZero() && time.Now().After(s.expiry) {
		return nil, fmt.Errorf("%w: session expired", ErrNotAuthenticated)
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer", Expiry: s.expiry}, nil
}

// AccessToken returns the raw token, empty after Logout.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the profile delivered at login.
func (s *Session) User() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Resources returns a copy of the authorized resource list.
func (s *Session) Resources() []localstore.ResourceGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]localstore.ResourceGrant(nil), s.resources...)
}

// Resource looks up one authorized resource by name.
func (s *Session) Resource(name string) (localstore.ResourceGrant, bool) {
	if s == nil {
		return localstore.ResourceGrant{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.resources {
		if r.Name == name {
			return r, true
		}
	}
	return localstore.ResourceGrant{}, false
}

// SetResources replaces the authorized resource list.
func (s *Session) SetResources(resources []localstore.ResourceGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = append([]localstore.ResourceGrant(nil), resources...)
}

// SetToken replaces the token and notifies listeners.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.expiry = tokenExpiry(token)
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// OnTokenChange registers fn and immediately calls it with the current token.
func (s *Session) OnTokenChange(fn func(token string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	token := s.token
	s.mu.Unlock()

	fn(token)
}

// Logout clears the session and pushes an empty token to listeners.
func (s *Session) Logout() {
	s.mu.Lock()
	s.user = nil
	s.resources = nil
	s.mu.Unlock()

	s.SetToken("")
}

// tokenExpiry reads the exp claim when token is a JWT. Signature
// verification is the server's job; opaque tokens have no expiry.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

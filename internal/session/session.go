// Package session owns the portal token: handshake, confirmation, profile activation
// and the cached token with its expiry.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/snapetech/stalkerm3u/internal/cache"
	"github.com/snapetech/stalkerm3u/internal/metrics"
	"github.com/snapetech/stalkerm3u/internal/portal"
)

// DefaultTTL applies when a Manager is built with TTL 0.
const DefaultTTL = 10 * time.Minute

// Authenticator is the slice of portal.Client the session flow needs.
type Authenticator interface {
	Handshake(ctx context.Context, token string) (string, error)
	GetProfile(ctx context.Context, token string) error
}

// Manager hands out a token for one portal deployment. Safe for concurrent use;
// establishment is serialized so concurrent misses do not open parallel sessions.
type Manager struct {
	Auth    Authenticator
	Store   cache.Store
	Portal  string        // deployment name, used for the cache key, logs and metrics
	TTL     time.Duration // how long a fresh token is reused
	Confirm bool          // send the confirmation handshake with the first token
	Metrics *metrics.Metrics
	Now     func() time.Time

	mu sync.Mutex
}

// New returns a Manager backed by store. store nil = in-memory.
func New(auth Authenticator, store cache.Store, name string, ttl time.Duration, confirm bool, m *metrics.Metrics) *Manager {
	if store == nil {
		store = cache.NewMemory()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		Auth:    auth,
		Store:   store,
		Portal:  name,
		TTL:     ttl,
		Confirm: confirm,
		Metrics: m,
		Now:     time.Now,
	}
}

func (m *Manager) key() string { return "session:" + m.Portal }

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Token returns a usable token. A cached, unexpired token is returned without any
// network call unless force is set.
func (m *Manager) Token(ctx context.Context, force bool) (string, error) {
	if !force {
		if tok, ok := m.cached(ctx); ok {
			return tok, nil
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reason := "forced"
	if !force {
		// Another caller may have established a session while we waited.
		if tok, ok := m.cached(ctx); ok {
			return tok, nil
		}
		reason = "expired"
	}
	return m.establish(ctx, reason)
}

// Refresh forces a new session unless the cached token has already moved on from
// stale, in which case the newer token is returned. Concurrent failures on the same
// token therefore cost one re-authentication, not one each.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.cached(ctx); ok && tok != stale {
		return tok, nil
	}
	return m.establish(ctx, "forced")
}

// Invalidate drops the cached token.
func (m *Manager) Invalidate(ctx context.Context) error {
	return m.Store.Delete(ctx, m.key())
}

// ExpiresAt reports the cached token's expiry; ok is false when no fresh token is held.
func (m *Manager) ExpiresAt(ctx context.Context) (time.Time, bool) {
	e, ok, err := m.Store.Get(ctx, m.key())
	if err != nil || !ok || !e.Fresh(m.now()) {
		return time.Time{}, false
	}
	return e.ExpiresAt, true
}

func (m *Manager) cached(ctx context.Context) (string, bool) {
	e, ok, err := m.Store.Get(ctx, m.key())
	if err != nil {
		log.Printf("session %s: cache read: %v", m.Portal, err)
		return "", false
	}
	if !ok || !e.Fresh(m.now()) {
		return "", false
	}
	return string(e.Value), true
}

// establish runs handshake, optional confirmation and get_profile, then caches the token.
// No token after both handshakes is an AuthError.
// Caller holds m.mu.
func (m *Manager) establish(ctx context.Context, reason string) (string, error) {
	tok, err := m.Auth.Handshake(ctx, "")
	if err != nil {
		return "", &portal.AuthError{Portal: m.Portal, Err: fmt.Errorf("handshake: %w", err)}
	}
	if m.Confirm {
		// With an empty first token this is a second fresh handshake.
		confirmed, err := m.Auth.Handshake(ctx, tok)
		if err != nil {
			return "", &portal.AuthError{Portal: m.Portal, Err: fmt.Errorf("confirm handshake: %w", err)}
		}
		if confirmed != "" {
			tok = confirmed
		}
	}
	if tok == "" {
		_ = m.Store.Delete(ctx, m.key())
		return "", &portal.AuthError{Portal: m.Portal, Err: fmt.Errorf("handshake returned no token")}
	}
	if err := m.Auth.GetProfile(ctx, tok); err != nil {
		return "", &portal.AuthError{Portal: m.Portal, Err: fmt.Errorf("get_profile: %w", err)}
	}
	exp := m.now().Add(m.TTL)
	if err := m.Store.Set(ctx, m.key(), cache.Entry{Value: []byte(tok), ExpiresAt: exp}); err != nil {
		log.Printf("session %s: cache write: %v", m.Portal, err)
	}
	m.Metrics.SessionRenewed(m.Portal, reason)
	log.Printf("session %s: new token (%s), valid until %s", m.Portal, reason, exp.Format(time.RFC3339))
	return tok, nil
}

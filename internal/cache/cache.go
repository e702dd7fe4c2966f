// Package cache stores session tokens and catalog snapshots with explicit expiry.
//
// Memory is per process; SQLite survives restarts and is shared by every process
// pointing at the same file, which is what lets short-lived invocations reuse a
// session instead of handshaking on every request.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached value and the instant it stops being usable.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Fresh reports whether e can still be served at now.
func (e Entry) Fresh(now time.Time) bool {
	return len(e.Value) > 0 && now.Before(e.ExpiresAt)
}

// Store is the cache backend. Get returns ok=false for absent keys; expired entries
// are returned as-is and callers decide with Fresh.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	return e, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, e Entry) error {
	v := make([]byte, len(e.Value))
	copy(v, e.Value)
	m.mu.Lock()
	m.entries[key] = Entry{Value: v, ExpiresAt: e.ExpiresAt}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

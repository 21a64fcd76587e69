// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrNoSession is returned for unknown, invalidated or idle-expired sessions.
var ErrNoSession = errors.New("no active session")

// Record is one server-side session.
type Record struct {
	ID           string        `json:"id"`
	Username     string        `json:"username"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastAccessed time.Time     `json:"lastAccessed"`
	MaxInactive  time.Duration `json:"maxInactive"`
}

// Remaining is the idle time left at now, never negative.
func (r *Record) Remaining(now time.Time) time.Duration {
	left := r.MaxInactive - now.Sub(r.LastAccessed)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the session has been idle for MaxInactive.
func (r *Record) Expired(now time.Time) bool {
	return now.Sub(r.LastAccessed) >= r.MaxInactive
}

// Registry stores server-side sessions. A user holds at most one session:
// Create replaces any previous one.
type Registry interface {
	Create(ctx context.Context, username string, maxInactive time.Duration) (*Record, error)
	// Get returns ErrNoSession for missing or expired sessions. It does not
	// count as access.
	Get(ctx context.Context, id string) (*Record, error)
	// Touch marks the session accessed now.
	Touch(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

func newSessionID() string {
	return uuid.NewString()
}

// =============================================================================
// MEMORY REGISTRY
// =============================================================================

// MemoryRegistry keeps sessions in process memory.
type MemoryRegistry struct {
	clock clockwork.Clock

	mu     sync.Mutex
	byID   map[string]*Record
	byUser map[string]string
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(clock clockwork.Clock) *MemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRegistry{
		clock:  clock,
		byID:   make(map[string]*Record),
		byUser: make(map[string]string),
	}
}

func (m *MemoryRegistry) Create(_ context.Context, username string, maxInactive time.Duration) (*Record, error) {
	now := m.clock.Now()
	rec := &Record{
		ID:           newSessionID(),
		Username:     username,
		CreatedAt:    now,
		LastAccessed: now,
		MaxInactive:  maxInactive,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byUser[username]; ok {
		delete(m.byID, old)
	}
	m.byID[rec.ID] = rec
	m.byUser[username] = rec.ID

	cp := *rec
	return &cp, nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.liveLocked(id)
	if err != nil {
		return nil, err
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRegistry) Touch(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.liveLocked(id)
	if err != nil {
		return nil, err
	}
	rec.LastAccessed = m.clock.Now()
	cp := *rec
	return &cp, nil
}

func (m *MemoryRegistry) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

func (m *MemoryRegistry) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for id, rec := range m.byID {
		if rec.Expired(now) {
			m.removeLocked(id)
		}
	}
	return len(m.byID), nil
}

func (m *MemoryRegistry) Close() error { return nil }

// liveLocked drops expired sessions on sight.
func (m *MemoryRegistry) liveLocked(id string) (*Record, error) {
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNoSession
	}
	if rec.Expired(m.clock.Now()) {
		m.removeLocked(id)
		return nil, ErrNoSession
	}
	return rec, nil
}

func (m *MemoryRegistry) removeLocked(id string) {
	rec, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	if m.byUser[rec.Username] == id {
		delete(m.byUser, rec.Username)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"
)

// CheckResult is the parsed response of the session-check endpoint.
type CheckResult struct {
	Valid bool
	// TimeRemaining is only meaningful when HasTimeRemaining is set.
	TimeRemaining    time.Duration
	HasTimeRemaining bool
	// LastAccessed is zero when the server did not report it.
	LastAccessed time.Time
}

// RefreshResult is the parsed response of the session-refresh endpoint.
type RefreshResult struct {
	// Timeout is the authoritative remaining time; zero when the response
	// carried neither timeRemaining nor sessionTimeout.
	Timeout time.Duration
}

// SyncClient talks to the server-side session endpoints. Implementations
// return an error wrapping ErrUnauthenticated for 401/403 responses.
type SyncClient interface {
	Check(ctx context.Context) (CheckResult, error)
	Refresh(ctx context.Context) (RefreshResult, error)
	Invalidate(ctx context.Context) error
}

// HintStore persists the client-side hints that outlive a page: the last
// known timeout and the path to restore after login.
type HintStore interface {
	LoadTimeout(ctx context.Context) (time.Duration, bool, error)
	SaveTimeout(ctx context.Context, timeout time.Duration) error
	StashRedirect(ctx context.Context, path string) error
}

// MemoryHints is an in-process HintStore.
type MemoryHints struct {
	mu       sync.Mutex
	timeout  time.Duration
	redirect string
}

func (m *MemoryHints) LoadTimeout(_ context.Context) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout, m.timeout > 0, nil
}

func (m *MemoryHints) SaveTimeout(_ context.Context, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

func (m *MemoryHints) StashRedirect(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirect = path
	return nil
}

// Redirect returns the stashed path.
func (m *MemoryHints) Redirect() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redirect
}

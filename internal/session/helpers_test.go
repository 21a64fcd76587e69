// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	pollInt = 5 * time.Millisecond
)

var epoch0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// event is one recorded listener callback.
type event struct {
	kind   string
	at     time.Time
	reason ExpireReason
	snap   Snapshot
}

// recorder implements Listener and keeps every callback.
type recorder struct {
	clock clockwork.Clock

	mu     sync.Mutex
	events []event
}

func newRecorder(clock clockwork.Clock) *recorder {
	return &recorder{clock: clock}
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.at = r.clock.Now()
	r.events = append(r.events, e)
}

func (r *recorder) OnActive(s Snapshot)  { r.add(event{kind: "active", snap: s}) }
func (r *recorder) OnWarning(s Snapshot) { r.add(event{kind: "warning", snap: s}) }
func (r *recorder) OnExpired(reason ExpireReason, s Snapshot) {
	r.add(event{kind: "expired", reason: reason, snap: s})
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) first(kind string) (event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.kind == kind {
			return e, true
		}
	}
	return event{}, false
}

// fakeView implements View.
type fakeView struct {
	mu        sync.Mutex
	warnings  int
	hides     int
	expired   []ExpireReason
	status    Status
	remaining time.Duration

	// gate, when set, holds the next SetStatus call until it is closed.
	gate    chan struct{}
	holding chan struct{}
}

// holdNextStatus makes the next SetStatus block. The returned channel is
// closed once a caller is held; release lets it go.
func (v *fakeView) holdNextStatus() (held <-chan struct{}, release func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gate = make(chan struct{})
	v.holding = make(chan struct{})
	gate := v.gate
	return v.holding, func() { close(gate) }
}

func (v *fakeView) ShowWarning(Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.warnings++
}

func (v *fakeView) HideWarning() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hides++
}

func (v *fakeView) ShowExpired(reason ExpireReason) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expired = append(v.expired, reason)
}

func (v *fakeView) SetStatus(s Status, remaining time.Duration) {
	v.mu.Lock()
	gate, holding := v.gate, v.holding
	v.gate, v.holding = nil, nil
	v.mu.Unlock()
	if gate != nil {
		close(holding)
		<-gate
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = s
	v.remaining = remaining
}

func (v *fakeView) warningCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.warnings
}

func (v *fakeView) expiredReasons() []ExpireReason {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]ExpireReason(nil), v.expired...)
}

// fakeRedirector records redirect targets.
type fakeRedirector struct {
	mu      sync.Mutex
	targets []string
}

func (r *fakeRedirector) Redirect(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

func (r *fakeRedirector) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

// fakeSync is a scriptable SyncClient.
type fakeSync struct {
	mu          sync.Mutex
	check       func() (CheckResult, error)
	refresh     func() (RefreshResult, error)
	checks      int
	refreshes   int
	invalidates int
}

func newFakeSync() *fakeSync {
	return &fakeSync{
		check: func() (CheckResult, error) {
			return CheckResult{Valid: true}, nil
		},
		refresh: func() (RefreshResult, error) {
			return RefreshResult{}, nil
		},
	}
}

func (f *fakeSync) Check(context.Context) (CheckResult, error) {
	f.mu.Lock()
	f.checks++
	fn := f.check
	f.mu.Unlock()
	return fn()
}

func (f *fakeSync) Refresh(context.Context) (RefreshResult, error) {
	f.mu.Lock()
	f.refreshes++
	fn := f.refresh
	f.mu.Unlock()
	return fn()
}

func (f *fakeSync) Invalidate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidates++
	return nil
}

func (f *fakeSync) setCheck(fn func() (CheckResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.check = fn
}

func (f *fakeSync) setRefresh(fn func() (RefreshResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = fn
}

func (f *fakeSync) counts() (checks, refreshes, invalidates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.refreshes, f.invalidates
}

// newTestTimer returns an armed timer on a fake clock.
func newTestTimer(t *testing.T, timeout, warning time.Duration) (*Timer, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch0)
	rec := newRecorder(clock)
	tm, err := NewTimer(clock, TimerConfig{Timeout: timeout, Warning: warning, TickInterval: time.Hour}, rec)
	require.NoError(t, err)
	require.NoError(t, tm.Reschedule())
	t.Cleanup(tm.Stop)
	return tm, clock, rec
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/posgateway/amlsession/internal/metrics"
)

// Listener receives timer transitions. Calls are serialized and delivered in
// transition order. A Listener must not call mutating Timer methods from
// inside a callback; reading Snapshot is fine.
type Listener interface {
	OnActive(s Snapshot)
	OnWarning(s Snapshot)
	OnExpired(reason ExpireReason, s Snapshot)
}

// TimerConfig configures a Timer.
type TimerConfig struct {
	Timeout      time.Duration
	Warning      time.Duration
	TickInterval time.Duration
}

// Timer owns the SessionState and its ACTIVE -> WARNING -> EXPIRED countdown.
//
// Only the next deadline has an armed clock timer: the warning timer while
// ACTIVE, the expiry timer while WARNING. Each armed callback carries the
// epoch it was armed for and is ignored once the epoch moved on.
type Timer struct {
	clock    clockwork.Clock
	listener Listener
	tick     time.Duration

	// transMu serializes transitions together with their notifications.
	transMu sync.Mutex

	// mu guards the fields below.
	mu           sync.Mutex
	lastActivity time.Time
	timeout      time.Duration
	warning      time.Duration
	warningShown bool
	state        State
	epoch        uint64
	deadlines    Deadlines
	pending      clockwork.Timer
	stopped      bool
}

// NewTimer creates a timer in the ACTIVE state anchored at the current time.
// Call Reschedule (or Adopt) to arm it and Run to start the safety-net tick.
func NewTimer(clock clockwork.Clock, cfg TimerConfig, listener Listener) (*Timer, error) {
	if err := validateDurations(cfg.Timeout, cfg.Warning); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	now := clock.Now()
	return &Timer{
		clock:        clock,
		listener:     listener,
		tick:         cfg.TickInterval,
		lastActivity: now,
		timeout:      cfg.Timeout,
		warning:      cfg.Warning,
		state:        StateActive,
		deadlines:    computeDeadlines(0, now, cfg.Timeout, cfg.Warning),
	}, nil
}

// Snapshot returns a copy of the current session state.
func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timer) snapshotLocked() Snapshot {
	return Snapshot{
		LastActivityAt: t.lastActivity,
		Timeout:        t.timeout,
		Warning:        t.warning,
		WarningShown:   t.warningShown,
		State:          t.state,
		Deadlines:      t.deadlines,
	}
}

// Reschedule re-arms the countdown for the current last-activity time and
// timeout. It is what every activity and sync ultimately calls.
func (t *Timer) Reschedule() error {
	return t.transition(func() ([]func(), error) {
		return t.rescheduleLocked(), nil
	})
}

// Touch records activity at the given time and reschedules. It returns the
// previous last-activity time.
func (t *Timer) Touch(at time.Time) (time.Time, error) {
	var prev time.Time
	err := t.transition(func() ([]func(), error) {
		prev = t.lastActivity
		if at.After(t.lastActivity) {
			t.lastActivity = at
		}
		return t.rescheduleLocked(), nil
	})
	return prev, err
}

// Adopt replaces the activity epoch and timeout with values reconciled from
// the server, clears the warning flag and reschedules.
func (t *Timer) Adopt(lastActivity time.Time, timeout time.Duration) error {
	return t.transition(func() ([]func(), error) {
		if err := validateDurations(timeout, t.warning); err != nil {
			return nil, err
		}
		t.lastActivity = lastActivity
		t.timeout = timeout
		t.warningShown = false
		return t.rescheduleLocked(), nil
	})
}

// Expire forces the EXPIRED transition. It reports whether this call
// performed the transition; repeated calls are no-ops.
func (t *Timer) Expire(reason ExpireReason) bool {
	var fired bool
	_ = t.transition(func() ([]func(), error) {
		notes := t.expireLocked(reason)
		fired = len(notes) > 0
		return notes, nil
	})
	return fired
}

// Evaluate re-checks the deadlines against the clock. It catches callbacks
// that were delayed or suppressed and is idempotent past expiry.
func (t *Timer) Evaluate() {
	_ = t.transition(func() ([]func(), error) {
		return t.evaluateLocked(), nil
	})
}

// Run drives the periodic re-evaluation tick until ctx is cancelled.
func (t *Timer) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Evaluate()
		}
	}
}

// Stop disarms the timer. No further transitions or notifications happen.
func (t *Timer) Stop() {
	t.transMu.Lock()
	defer t.transMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.disarmLocked()
}

// transition runs fn under both locks and then delivers the notifications it
// produced while still holding transMu.
func (t *Timer) transition(fn func() ([]func(), error)) error {
	t.transMu.Lock()
	defer t.transMu.Unlock()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	if t.state == StateExpired {
		t.mu.Unlock()
		return ErrExpired
	}
	notes, err := fn()
	t.mu.Unlock()

	for _, n := range notes {
		n()
	}
	return err
}

func (t *Timer) rescheduleLocked() []func() {
	t.disarmLocked()
	t.epoch++
	t.deadlines = computeDeadlines(t.epoch, t.lastActivity, t.timeout, t.warning)

	now := t.clock.Now()
	switch {
	case !now.Before(t.deadlines.Expiry):
		return t.expireLocked(ReasonInactivity)
	case !now.Before(t.deadlines.Warning):
		if t.state == StateWarning {
			t.warningShown = true
			t.armLocked()
			return nil
		}
		return t.enterWarningLocked()
	default:
		wasWarning := t.state == StateWarning
		t.state = StateActive
		t.warningShown = false
		t.armLocked()
		if wasWarning {
			metrics.SessionTransitions.WithLabelValues(StateActive.String()).Inc()
			return []func(){t.notifyActive(t.snapshotLocked())}
		}
		return nil
	}
}

func (t *Timer) evaluateLocked() []func() {
	now := t.clock.Now()
	switch {
	case t.state == StateExpired:
		return nil
	case !now.Before(t.deadlines.Expiry):
		return t.expireLocked(ReasonInactivity)
	case t.state == StateActive && !now.Before(t.deadlines.Warning):
		return t.enterWarningLocked()
	default:
		if t.pending == nil {
			t.armLocked()
		}
		return nil
	}
}

func (t *Timer) enterWarningLocked() []func() {
	t.state = StateWarning
	t.warningShown = true
	t.armLocked()
	snap := t.snapshotLocked()
	slog.Info("SESSION_WARNING", "epoch", snap.Deadlines.Epoch, "expires_at", snap.Deadlines.Expiry)
	metrics.SessionTransitions.WithLabelValues(StateWarning.String()).Inc()
	return []func(){func() {
		if t.listener != nil {
			t.listener.OnWarning(snap)
		}
	}}
}

func (t *Timer) expireLocked(reason ExpireReason) []func() {
	if t.state == StateExpired {
		return nil
	}
	t.disarmLocked()
	t.state = StateExpired
	t.warningShown = false
	snap := t.snapshotLocked()
	slog.Info("SESSION_EXPIRED", "epoch", snap.Deadlines.Epoch, "reason", reason.String())
	metrics.SessionTransitions.WithLabelValues(StateExpired.String()).Inc()
	metrics.SessionExpirations.WithLabelValues(reason.String()).Inc()
	return []func(){func() {
		if t.listener != nil {
			t.listener.OnExpired(reason, snap)
		}
	}}
}

func (t *Timer) notifyActive(snap Snapshot) func() {
	return func() {
		if t.listener != nil {
			t.listener.OnActive(snap)
		}
	}
}

// armLocked arms the clock timer for the next deadline of the current state.
func (t *Timer) armLocked() {
	t.disarmLocked()

	var at time.Time
	switch t.state {
	case StateActive:
		at = t.deadlines.Warning
	case StateWarning:
		at = t.deadlines.Expiry
	default:
		return
	}

	epoch := t.epoch
	delay := at.Sub(t.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t.pending = t.clock.AfterFunc(delay, func() { t.fire(epoch) })
}

func (t *Timer) disarmLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// fire handles an armed callback; stale epochs are dropped.
func (t *Timer) fire(epoch uint64) {
	_ = t.transition(func() ([]func(), error) {
		if epoch != t.epoch {
			return nil, nil
		}
		t.pending = nil
		return t.evaluateLocked(), nil
	})
}

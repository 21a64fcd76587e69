// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds the keeper timings.
type Config struct {
	// Timeout is the inactivity timeout used when no hint is cached.
	Timeout time.Duration
	// Warning is how long before expiry the warning opens.
	Warning time.Duration
	// TickInterval is the timer's safety-net re-evaluation period.
	TickInterval time.Duration
	// SyncInterval is the background check period; longer than TickInterval.
	SyncInterval time.Duration
	// RefreshAfterIdle: activity after at least this much idleness also
	// refreshes the server session.
	RefreshAfterIdle time.Duration
	// KeepAliveAfter and KeepAliveUntil bound the idle window in which the
	// background check pings the server to keep its session alive.
	KeepAliveAfter time.Duration
	KeepAliveUntil time.Duration
	// NoticeDelay is how long the expiry notice is shown before redirecting.
	NoticeDelay time.Duration
	// LoginURL is the login entry point.
	LoginURL string
	// Page is the path being worked on, restored after login.
	Page string
}

// DefaultConfig returns the back-office defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		Warning:          DefaultWarning,
		TickInterval:     DefaultTickInterval,
		SyncInterval:     DefaultSyncInterval,
		RefreshAfterIdle: DefaultRefreshAfterIdle,
		KeepAliveAfter:   DefaultKeepAliveAfter,
		KeepAliveUntil:   DefaultKeepAliveUntil,
		NoticeDelay:      DefaultNoticeDelay,
		LoginURL:         "/login.html",
	}
}

// Options carries the keeper's collaborators. Only Sync is required.
type Options struct {
	Clock      clockwork.Clock
	Sync       SyncClient
	Hints      HintStore
	View       View
	Redirector Redirector
}

// Keeper is one page's session lifecycle: the tracker, the timer, the sync
// loop and the presenter, created by Open and torn down by Close.
type Keeper struct {
	cfg       Config
	clock     clockwork.Clock
	sync      SyncClient
	hints     HintStore
	view      View
	tracker   *Tracker
	timer     *Timer
	presenter *Presenter

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open creates a keeper and starts it. The initial timeout comes from the
// cached hint when one exists. A validity check is issued right away.
func Open(ctx context.Context, cfg Config, opts Options) (*Keeper, error) {
	if opts.Sync == nil {
		return nil, errors.New("session: sync client is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Hints == nil {
		opts.Hints = &MemoryHints{}
	}
	if opts.View == nil {
		opts.View = NopView{}
	}
	cfg = withDefaults(cfg)

	timeout := cfg.Timeout
	if hint, ok, err := opts.Hints.LoadTimeout(ctx); err != nil {
		slog.Warn("SESSION_HINT_LOAD_FAILED", "error", err)
	} else if ok && hint > cfg.Warning {
		timeout = hint
	}

	presenter := NewPresenter(opts.Clock, PresenterConfig{
		LoginURL:    cfg.LoginURL,
		Page:        cfg.Page,
		NoticeDelay: cfg.NoticeDelay,
	}, opts.View, opts.Redirector, opts.Sync, opts.Hints)

	timer, err := NewTimer(opts.Clock, TimerConfig{
		Timeout:      timeout,
		Warning:      cfg.Warning,
		TickInterval: cfg.TickInterval,
	}, presenter)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	k := &Keeper{
		cfg:       cfg,
		clock:     opts.Clock,
		sync:      opts.Sync,
		hints:     opts.Hints,
		view:      opts.View,
		tracker:   NewTracker(opts.Clock),
		timer:     timer,
		presenter: presenter,
		cancel:    cancel,
	}

	if err := timer.Reschedule(); err != nil {
		cancel()
		return nil, err
	}
	slog.Info("SESSION_OPENED", "timeout", timeout, "warning", cfg.Warning, "page", cfg.Page)

	k.wg.Add(2)
	go func() {
		defer k.wg.Done()
		timer.Run(runCtx)
	}()
	go func() {
		defer k.wg.Done()
		k.loop(runCtx)
	}()
	k.async(runCtx, func(ctx context.Context) { _ = k.Check(ctx) })

	return k, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Warning <= 0 {
		cfg.Warning = def.Warning
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.RefreshAfterIdle <= 0 {
		cfg.RefreshAfterIdle = def.RefreshAfterIdle
	}
	if cfg.KeepAliveAfter <= 0 {
		cfg.KeepAliveAfter = def.KeepAliveAfter
	}
	if cfg.KeepAliveUntil <= 0 {
		cfg.KeepAliveUntil = def.KeepAliveUntil
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = def.LoginURL
	}
	return cfg
}

// Close tears the keeper down. It does not invalidate the server session.
func (k *Keeper) Close() {
	k.closeOnce.Do(func() {
		k.cancel()
		k.timer.Stop()
		k.tracker.Close()
		k.presenter.Close()
		k.wg.Wait()
		slog.Info("SESSION_CLOSED")
	})
}

// Record reports user activity of the given kind.
func (k *Keeper) Record(kind ActivityKind) {
	k.tracker.Record(kind)
}

// Snapshot returns the current session state.
func (k *Keeper) Snapshot() Snapshot {
	return k.timer.Snapshot()
}

// Done is closed after the expiry redirect was issued.
func (k *Keeper) Done() <-chan struct{} {
	return k.presenter.Done()
}

// Extend is the explicit "extend session" action: local activity plus a
// server refresh.
func (k *Keeper) Extend(ctx context.Context) error {
	if _, err := k.timer.Touch(k.clock.Now()); err != nil {
		return err
	}
	return k.refresh(ctx)
}

// Logout forces expiry immediately.
func (k *Keeper) Logout() {
	k.timer.Expire(ReasonLogout)
}

// Check reconciles with the session-check endpoint.
func (k *Keeper) Check(ctx context.Context) error {
	res, err := k.sync.Check(ctx)
	if err != nil {
		return k.syncFailed("check", err)
	}
	if !res.Valid || (res.HasTimeRemaining && res.TimeRemaining <= 0) {
		slog.Info("SESSION_CHECK_INVALID", "valid", res.Valid)
		k.timer.Expire(ReasonRejected)
		return ErrUnauthenticated
	}
	if !res.HasTimeRemaining {
		return nil
	}

	now := k.clock.Now()
	anchor := now
	if !res.LastAccessed.IsZero() {
		since := now.Sub(res.LastAccessed)
		if since < 0 {
			since = 0
		}
		if since > maxServerAnchor {
			since = maxServerAnchor
		}
		anchor = now.Add(-since)
	}
	if err := k.adopt(ctx, anchor, res.TimeRemaining); err != nil {
		return err
	}
	slog.Debug("SESSION_CHECKED", "time_remaining", res.TimeRemaining, "anchor", anchor)
	return nil
}

func (k *Keeper) refresh(ctx context.Context) error {
	res, err := k.sync.Refresh(ctx)
	if err != nil {
		return k.syncFailed("refresh", err)
	}
	timeout := res.Timeout
	if timeout <= 0 {
		timeout = k.timer.Snapshot().Timeout
	}
	if err := k.adopt(ctx, k.clock.Now(), timeout); err != nil {
		return err
	}
	slog.Info("SESSION_REFRESHED", "timeout", timeout)
	return nil
}

// keepAlive pings refresh for the server's sake only; the local epoch and the
// warning state are left alone.
func (k *Keeper) keepAlive(ctx context.Context) {
	res, err := k.sync.Refresh(ctx)
	if err != nil {
		_ = k.syncFailed("keepalive", err)
		return
	}
	if res.Timeout > 0 {
		k.saveHint(ctx, res.Timeout)
	}
	slog.Debug("SESSION_KEEPALIVE", "timeout", res.Timeout)
}

// adopt applies a server-reported remaining time anchored at the given
// instant. A remaining time that does not exceed the warning period keeps
// the local timeout and moves the epoch back so expiry still lands at
// anchor+remaining.
func (k *Keeper) adopt(ctx context.Context, anchor time.Time, remaining time.Duration) error {
	snap := k.timer.Snapshot()
	if remaining <= snap.Warning {
		return k.timer.Adopt(anchor.Add(remaining-snap.Timeout), snap.Timeout)
	}
	if err := k.timer.Adopt(anchor, remaining); err != nil {
		return err
	}
	k.saveHint(ctx, remaining)
	return nil
}

func (k *Keeper) saveHint(ctx context.Context, timeout time.Duration) {
	if err := k.hints.SaveTimeout(ctx, timeout); err != nil {
		slog.Warn("SESSION_HINT_SAVE_FAILED", "error", err)
	}
}

// syncFailed classifies a sync error. Auth rejections expire the session;
// everything else is logged and swallowed.
func (k *Keeper) syncFailed(op string, err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		slog.Info("SESSION_REJECTED", "operation", op, "error", err)
		k.timer.Expire(ReasonRejected)
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		slog.Warn("SYNC_FAILED", "operation", op, "error", err)
		return err
	}
}

func (k *Keeper) loop(ctx context.Context) {
	ticker := k.clock.NewTicker(k.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-k.tracker.C():
			if !ok {
				return
			}
			k.onActivity(ctx, a)
		case <-ticker.Chan():
			k.background(ctx)
		}
	}
}

func (k *Keeper) onActivity(ctx context.Context, a Activity) {
	// Events dropped while the loop lagged still moved Last.
	at := a.At
	if last := k.tracker.Last(); last.After(at) {
		at = last
	}

	wasWarning := k.timer.Snapshot().State == StateWarning
	prev, err := k.timer.Touch(at)
	if err != nil {
		return
	}
	snap := k.timer.Snapshot()
	k.view.SetStatus(StatusActive, snap.Deadlines.Remaining(at))

	switch {
	case wasWarning:
		// Any interaction while the warning is up counts as "extend".
		k.async(ctx, func(ctx context.Context) { _ = k.refresh(ctx) })
	case at.Sub(prev) > k.cfg.RefreshAfterIdle:
		k.async(ctx, func(ctx context.Context) { _ = k.refresh(ctx) })
	}
	if a.Kind == ActivityVisible {
		k.async(ctx, func(ctx context.Context) { _ = k.Check(ctx) })
	}
}

func (k *Keeper) background(ctx context.Context) {
	snap := k.timer.Snapshot()
	if snap.State == StateExpired {
		return
	}
	now := k.clock.Now()
	remaining := snap.Deadlines.Remaining(now)
	k.view.SetStatus(StatusFor(remaining, snap.Warning), remaining)

	idle := now.Sub(snap.LastActivityAt)
	if idle > k.cfg.KeepAliveAfter && idle < k.cfg.KeepAliveUntil {
		k.async(ctx, k.keepAlive)
	}
}

// async runs fn on its own goroutine; Close waits for it.
func (k *Keeper) async(ctx context.Context, fn func(context.Context)) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		fn(ctx)
	}()
}

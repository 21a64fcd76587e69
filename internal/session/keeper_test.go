// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keeperFixture struct {
	k      *Keeper
	clock  *clockwork.FakeClock
	view   *fakeView
	redir  *fakeRedirector
	client *fakeSync
	hints  *MemoryHints
}

// openKeeper opens a keeper on a fake clock and waits until its timers are
// registered and the initial check went out.
func openKeeper(t *testing.T, cfg Config, client *fakeSync, hints *MemoryHints) *keeperFixture {
	t.Helper()
	if client == nil {
		client = newFakeSync()
	}
	if hints == nil {
		hints = &MemoryHints{}
	}
	f := &keeperFixture{
		clock:  clockwork.NewFakeClockAt(epoch0),
		view:   &fakeView{},
		redir:  &fakeRedirector{},
		client: client,
		hints:  hints,
	}

	k, err := Open(context.Background(), cfg, Options{
		Clock:      f.clock,
		Sync:       client,
		Hints:      hints,
		View:       f.view,
		Redirector: f.redir,
	})
	require.NoError(t, err)
	f.k = k
	t.Cleanup(k.Close)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	// warning timer + evaluation ticker + sync ticker
	require.NoError(t, f.clock.BlockUntilContext(ctx, 3))
	require.Eventually(t, func() bool {
		checks, _, _ := client.counts()
		return checks >= 1
	}, waitFor, pollInt)
	return f
}

func TestOpen_RequiresSyncClient(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig(), Options{})
	assert.Error(t, err)
}

func TestOpen_RejectsBadDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Warning = cfg.Timeout
	_, err := Open(context.Background(), cfg, Options{Sync: newFakeSync(), Clock: clockwork.NewFakeClock()})
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestOpen_UsesCachedTimeoutHint(t *testing.T) {
	hints := &MemoryHints{}
	require.NoError(t, hints.SaveTimeout(context.Background(), 1500*time.Second))

	f := openKeeper(t, DefaultConfig(), nil, hints)
	assert.Equal(t, 1500*time.Second, f.k.Snapshot().Timeout)
}

func TestOpen_IgnoresHintShorterThanWarning(t *testing.T) {
	hints := &MemoryHints{}
	require.NoError(t, hints.SaveTimeout(context.Background(), 4*time.Minute))

	f := openKeeper(t, DefaultConfig(), nil, hints)
	assert.Equal(t, DefaultTimeout, f.k.Snapshot().Timeout)
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestKeeper_IdleSessionWarnsExpiresAndRedirects(t *testing.T) {
	hints := &MemoryHints{}
	require.NoError(t, hints.SaveTimeout(context.Background(), 1500*time.Second))
	cfg := DefaultConfig()
	cfg.Warning = 300 * time.Second
	cfg.Page = "/cases/42"

	f := openKeeper(t, cfg, nil, hints)

	f.clock.Advance(1200 * time.Second)
	require.Eventually(t, func() bool { return f.view.warningCount() == 1 }, waitFor, pollInt)
	assert.Equal(t, StateWarning, f.k.Snapshot().State)
	assert.Empty(t, f.view.expiredReasons())

	f.clock.Advance(300 * time.Second)
	require.Eventually(t, func() bool { return len(f.view.expiredReasons()) == 1 }, waitFor, pollInt)
	assert.Equal(t, ReasonInactivity, f.view.expiredReasons()[0])
	assert.Equal(t, StateExpired, f.k.Snapshot().State)
	assert.Empty(t, f.redir.all())

	f.clock.Advance(DefaultNoticeDelay)
	require.Eventually(t, func() bool { return len(f.redir.all()) == 1 }, waitFor, pollInt)
	assert.Equal(t, "/login.html?expired=true", f.redir.all()[0])
	assert.Equal(t, "/cases/42", f.hints.Redirect())
	require.Eventually(t, func() bool {
		_, _, inv := f.client.counts()
		return inv == 1
	}, waitFor, pollInt)

	select {
	case <-f.k.Done():
	case <-time.After(waitFor):
		t.Fatal("Done not closed")
	}
	assert.Equal(t, 1, f.view.warningCount())
}

func TestKeeper_UnauthorizedCheckForcesExpiry(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 20*time.Minute, f.k.Snapshot().Deadlines.Remaining(f.clock.Now()))

	f.client.setCheck(func() (CheckResult, error) {
		return CheckResult{}, fmt.Errorf("check: %w", ErrUnauthenticated)
	})
	err := f.k.Check(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Equal(t, StateExpired, f.k.Snapshot().State)
	assert.Equal(t, []string{"/login.html?expired=true"}, f.redir.all())
	assert.Empty(t, f.view.expiredReasons())
}

func TestKeeper_ExtendAdoptsServerTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 25 * time.Minute
	f := openKeeper(t, cfg, nil, nil)
	f.client.setRefresh(func() (RefreshResult, error) {
		return RefreshResult{Timeout: 1800 * time.Second}, nil
	})
	before := f.k.Snapshot().Deadlines.Epoch

	f.clock.Advance(100 * time.Second)
	require.NoError(t, f.k.Extend(context.Background()))

	s := f.k.Snapshot()
	assert.Greater(t, s.Deadlines.Epoch, before)
	assert.Equal(t, 30*time.Minute, s.Timeout)
	assert.Equal(t, epoch0.Add(100*time.Second), s.LastActivityAt)
	assert.Equal(t, epoch0.Add(100*time.Second+30*time.Minute), s.Deadlines.Expiry)

	hint, ok, err := f.hints.LoadTimeout(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1800*time.Second, hint)
}

func TestKeeper_LogoutShowsNoticeThenRedirects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Page = "/alerts/7"
	f := openKeeper(t, cfg, nil, nil)

	f.k.Logout()
	assert.Equal(t, []ExpireReason{ReasonLogout}, f.view.expiredReasons())
	assert.ErrorIs(t, f.k.Extend(context.Background()), ErrExpired)

	f.clock.Advance(DefaultNoticeDelay)
	require.Eventually(t, func() bool { return len(f.redir.all()) == 1 }, waitFor, pollInt)
	assert.Equal(t, "/alerts/7", f.hints.Redirect())
}

func TestKeeper_CloseDuringNoticeFinishesExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Page = "/alerts/7"
	f := openKeeper(t, cfg, nil, nil)

	f.k.Logout()
	assert.Empty(t, f.redir.all())

	f.k.Close()
	assert.Equal(t, "/alerts/7", f.hints.Redirect())
	assert.Equal(t, []string{"/login.html?expired=true"}, f.redir.all())
	_, _, invalidates := f.client.counts()
	assert.Equal(t, 1, invalidates)
	select {
	case <-f.k.Done():
	default:
		t.Fatal("Done not closed by Close")
	}

	// The cancelled notice timer must not redirect again.
	f.clock.Advance(DefaultNoticeDelay)
	assert.Never(t, func() bool { return len(f.redir.all()) > 1 }, 50*time.Millisecond, pollInt)
}

// =============================================================================
// CHECK RECONCILIATION
// =============================================================================

func TestKeeper_CheckAnchorsOnLastAccess(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)
	now := f.clock.Now()
	f.client.setCheck(func() (CheckResult, error) {
		return CheckResult{
			Valid:            true,
			TimeRemaining:    10 * time.Minute,
			HasTimeRemaining: true,
			LastAccessed:     now.Add(-time.Minute),
		}, nil
	})

	require.NoError(t, f.k.Check(context.Background()))
	s := f.k.Snapshot()
	assert.Equal(t, 10*time.Minute, s.Timeout)
	assert.Equal(t, now.Add(9*time.Minute), s.Deadlines.Expiry)
}

func TestKeeper_CheckClampsStaleLastAccess(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)
	now := f.clock.Now()
	f.client.setCheck(func() (CheckResult, error) {
		return CheckResult{
			Valid:            true,
			TimeRemaining:    20 * time.Minute,
			HasTimeRemaining: true,
			LastAccessed:     now.Add(-time.Hour),
		}, nil
	})

	require.NoError(t, f.k.Check(context.Background()))
	assert.Equal(t, now.Add(15*time.Minute), f.k.Snapshot().Deadlines.Expiry)
}

func TestKeeper_CheckWithinWarningKeepsLocalTimeout(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)
	now := f.clock.Now()
	f.client.setCheck(func() (CheckResult, error) {
		return CheckResult{Valid: true, TimeRemaining: 3 * time.Minute, HasTimeRemaining: true}, nil
	})

	require.NoError(t, f.k.Check(context.Background()))
	s := f.k.Snapshot()
	assert.Equal(t, DefaultTimeout, s.Timeout)
	assert.Equal(t, StateWarning, s.State)
	assert.Equal(t, now.Add(3*time.Minute), s.Deadlines.Expiry)
	assert.Equal(t, 1, f.view.warningCount())
}

func TestKeeper_CheckInvalidExpires(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)
	f.client.setCheck(func() (CheckResult, error) {
		return CheckResult{Valid: false}, nil
	})

	assert.ErrorIs(t, f.k.Check(context.Background()), ErrUnauthenticated)
	assert.Equal(t, StateExpired, f.k.Snapshot().State)
}

func TestKeeper_CheckTransportErrorKeepsSession(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)
	f.client.setCheck(func() (CheckResult, error) {
		return CheckResult{}, fmt.Errorf("dial tcp: connection refused")
	})

	assert.Error(t, f.k.Check(context.Background()))
	assert.Equal(t, StateActive, f.k.Snapshot().State)
}

// =============================================================================
// ACTIVITY
// =============================================================================

func TestKeeper_ActivityDuringWarningExtends(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)

	f.clock.Advance(25 * time.Minute)
	require.Eventually(t, func() bool { return f.view.warningCount() == 1 }, waitFor, pollInt)

	f.k.Record(ActivityKeyboard)
	require.Eventually(t, func() bool {
		_, refreshes, _ := f.client.counts()
		return refreshes == 1 && f.k.Snapshot().State == StateActive
	}, waitFor, pollInt)
}

func TestKeeper_RefreshOnlyAfterIdleGap(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)

	f.clock.Advance(time.Minute)
	f.k.Record(ActivityPointer)
	require.Eventually(t, func() bool {
		return f.k.Snapshot().LastActivityAt.Equal(epoch0.Add(time.Minute))
	}, waitFor, pollInt)
	assert.Never(t, func() bool {
		_, refreshes, _ := f.client.counts()
		return refreshes > 0
	}, 50*time.Millisecond, pollInt)

	f.clock.Advance(3 * time.Minute)
	f.k.Record(ActivityScroll)
	require.Eventually(t, func() bool {
		_, refreshes, _ := f.client.counts()
		return refreshes == 1
	}, waitFor, pollInt)
}

func TestKeeper_DroppedActivityStillCounts(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)

	held, release := f.view.holdNextStatus()
	f.clock.Advance(10 * time.Second)
	f.k.Record(ActivityKeyboard)
	select {
	case <-held:
	case <-time.After(waitFor):
		t.Fatal("activity loop never reached the view")
	}

	// The loop is stuck in the view: fill the buffer, then overflow it.
	for i := 0; i < activityBuffer; i++ {
		f.k.Record(ActivityPointer)
	}
	f.clock.Advance(10 * time.Minute)
	f.k.Record(ActivityKeyboard)
	latest := epoch0.Add(10*time.Minute + 10*time.Second)

	release()
	require.Eventually(t, func() bool {
		return f.k.Snapshot().LastActivityAt.Equal(latest)
	}, waitFor, pollInt)
	assert.Equal(t, latest.Add(DefaultTimeout), f.k.Snapshot().Deadlines.Expiry)
}

func TestKeeper_VisibilityTriggersCheck(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)

	f.k.Record(ActivityVisible)
	require.Eventually(t, func() bool {
		checks, _, _ := f.client.counts()
		return checks == 2
	}, waitFor, pollInt)
}

func TestKeeper_KeepAliveDoesNotResetCountdown(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)
	before := f.k.Snapshot()

	f.clock.Advance(6 * time.Minute)
	require.Eventually(t, func() bool {
		_, refreshes, _ := f.client.counts()
		return refreshes >= 1
	}, waitFor, pollInt)

	after := f.k.Snapshot()
	assert.Equal(t, before.LastActivityAt, after.LastActivityAt)
	assert.Equal(t, before.Deadlines, after.Deadlines)
}

func TestKeeper_CloseIsIdempotent(t *testing.T) {
	f := openKeeper(t, DefaultConfig(), nil, nil)

	f.k.Close()
	f.k.Close()
	assert.NotPanics(t, func() { f.k.Record(ActivityTouch) })
}

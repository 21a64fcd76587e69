// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewTimer_RejectsWarningNotShorterThanTimeout(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch0)

	_, err := NewTimer(clock, TimerConfig{Timeout: 5 * time.Minute, Warning: 5 * time.Minute}, nil)
	assert.True(t, errors.Is(err, ErrInvalidTimeout))

	_, err = NewTimer(clock, TimerConfig{Timeout: 5 * time.Minute, Warning: 0}, nil)
	assert.True(t, errors.Is(err, ErrInvalidTimeout))
}

func TestNewTimer_StartsActive(t *testing.T) {
	tm, _, _ := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	s := tm.Snapshot()
	assert.Equal(t, StateActive, s.State)
	assert.False(t, s.WarningShown)
	assert.Equal(t, epoch0, s.LastActivityAt)
	assert.Equal(t, epoch0.Add(25*time.Minute), s.Deadlines.Warning)
	assert.Equal(t, epoch0.Add(30*time.Minute), s.Deadlines.Expiry)
}

// =============================================================================
// COUNTDOWN
// =============================================================================

func TestTimer_WarningStrictlyBeforeExpiry(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	clock.Advance(25*time.Minute - time.Second)
	assert.Never(t, func() bool { return rec.count("warning") > 0 }, 50*time.Millisecond, pollInt)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return rec.count("warning") == 1 }, waitFor, pollInt)
	assert.Equal(t, StateWarning, tm.Snapshot().State)
	assert.True(t, tm.Snapshot().WarningShown)

	clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool { return rec.count("expired") == 1 }, waitFor, pollInt)

	warn, _ := rec.first("warning")
	exp, _ := rec.first("expired")
	assert.Equal(t, epoch0.Add(25*time.Minute), warn.at)
	assert.Equal(t, epoch0.Add(30*time.Minute), exp.at)
	assert.Equal(t, 5*time.Minute, exp.at.Sub(warn.at))
	assert.Equal(t, ReasonInactivity, exp.reason)
	assert.Equal(t, StateExpired, tm.Snapshot().State)
}

func TestTimer_RescheduleCancelsPendingWarning(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	clock.Advance(10 * time.Minute)
	_, err := tm.Touch(clock.Now())
	require.NoError(t, err)

	// The original 25m warning must not fire.
	clock.Advance(15 * time.Minute)
	assert.Never(t, func() bool { return rec.count("warning") > 0 }, 50*time.Millisecond, pollInt)

	clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return rec.count("warning") == 1 }, waitFor, pollInt)
	warn, _ := rec.first("warning")
	assert.Equal(t, epoch0.Add(35*time.Minute), warn.at)
	assert.Equal(t, epoch0.Add(40*time.Minute), warn.snap.Deadlines.Expiry)
}

func TestTimer_ActivityDuringWarningReturnsToActive(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	clock.Advance(26 * time.Minute)
	require.Eventually(t, func() bool { return rec.count("warning") == 1 }, waitFor, pollInt)

	before := tm.Snapshot().Deadlines.Epoch
	_, err := tm.Touch(clock.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count("active") == 1 }, waitFor, pollInt)
	s := tm.Snapshot()
	assert.Equal(t, StateActive, s.State)
	assert.False(t, s.WarningShown)
	assert.Greater(t, s.Deadlines.Epoch, before)

	// The old expiry must not fire.
	clock.Advance(5 * time.Minute)
	assert.Never(t, func() bool { return rec.count("expired") > 0 }, 50*time.Millisecond, pollInt)
}

func TestTimer_TouchIgnoresOlderTimestamps(t *testing.T) {
	tm, clock, _ := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	clock.Advance(time.Minute)
	prev, err := tm.Touch(clock.Now())
	require.NoError(t, err)
	assert.Equal(t, epoch0, prev)

	_, err = tm.Touch(epoch0)
	require.NoError(t, err)
	assert.Equal(t, epoch0.Add(time.Minute), tm.Snapshot().LastActivityAt)
}

func TestTimer_ReschedulePastExpiryExpires(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)
	tm.Stop()

	// A fresh timer whose anchor is already stale.
	tm2, err := NewTimer(clock, TimerConfig{Timeout: 30 * time.Minute, Warning: 5 * time.Minute}, rec)
	require.NoError(t, err)
	t.Cleanup(tm2.Stop)

	clock.Advance(31 * time.Minute)
	require.NoError(t, tm2.Reschedule())

	assert.Equal(t, StateExpired, tm2.Snapshot().State)
	assert.Equal(t, 1, rec.count("expired"))
	assert.Equal(t, 0, rec.count("warning"))
}

func TestTimer_EvaluateCatchesMissedDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch0)
	rec := newRecorder(clock)
	tm, err := NewTimer(clock, TimerConfig{Timeout: 30 * time.Minute, Warning: 5 * time.Minute}, rec)
	require.NoError(t, err)
	t.Cleanup(tm.Stop)

	// Never armed: only Evaluate can notice the deadline.
	clock.Advance(26 * time.Minute)
	tm.Evaluate()
	assert.Equal(t, StateWarning, tm.Snapshot().State)
	assert.Equal(t, 1, rec.count("warning"))

	tm.Evaluate()
	assert.Equal(t, 1, rec.count("warning"))
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestTimer_ExpireIsIdempotent(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	assert.True(t, tm.Expire(ReasonLogout))
	assert.False(t, tm.Expire(ReasonLogout))
	assert.False(t, tm.Expire(ReasonInactivity))

	clock.Advance(time.Hour)
	tm.Evaluate()

	assert.Never(t, func() bool { return rec.count("expired") > 1 }, 50*time.Millisecond, pollInt)
	exp, ok := rec.first("expired")
	require.True(t, ok)
	assert.Equal(t, ReasonLogout, exp.reason)
	assert.Equal(t, 0, rec.count("warning"))
}

func TestTimer_MutationsAfterExpiryFail(t *testing.T) {
	tm, clock, _ := newTestTimer(t, 30*time.Minute, 5*time.Minute)
	tm.Expire(ReasonInactivity)

	_, err := tm.Touch(clock.Now())
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, tm.Reschedule(), ErrExpired)
	assert.ErrorIs(t, tm.Adopt(clock.Now(), 30*time.Minute), ErrExpired)
}

func TestTimer_StopSilencesCallbacks(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)
	tm.Stop()

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return rec.total() > 0 }, 50*time.Millisecond, pollInt)
	assert.False(t, tm.Expire(ReasonLogout))
}

// =============================================================================
// ADOPT
// =============================================================================

func TestTimer_AdoptResetsEpoch(t *testing.T) {
	tm, clock, _ := newTestTimer(t, 25*time.Minute, 5*time.Minute)
	before := tm.Snapshot().Deadlines.Epoch

	clock.Advance(100 * time.Second)
	require.NoError(t, tm.Adopt(clock.Now(), 1800*time.Second))

	s := tm.Snapshot()
	assert.Greater(t, s.Deadlines.Epoch, before)
	assert.Equal(t, 30*time.Minute, s.Timeout)
	assert.Equal(t, epoch0.Add(100*time.Second), s.LastActivityAt)
	assert.Equal(t, epoch0.Add(100*time.Second+30*time.Minute), s.Deadlines.Expiry)
	assert.Equal(t, epoch0.Add(100*time.Second+25*time.Minute), s.Deadlines.Warning)
}

func TestTimer_AdoptRejectsShortTimeout(t *testing.T) {
	tm, clock, _ := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	err := tm.Adopt(clock.Now(), 5*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	assert.Equal(t, 30*time.Minute, tm.Snapshot().Timeout)
}

func TestTimer_AdoptIntoWarningWindow(t *testing.T) {
	tm, clock, rec := newTestTimer(t, 30*time.Minute, 5*time.Minute)

	// Server says 3 minutes left.
	require.NoError(t, tm.Adopt(clock.Now().Add(3*time.Minute-30*time.Minute), 30*time.Minute))

	assert.Equal(t, StateWarning, tm.Snapshot().State)
	assert.Equal(t, 1, rec.count("warning"))

	clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool { return rec.count("expired") == 1 }, waitFor, pollInt)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Defaults match the back-office session policy: 30 minute inactivity timeout,
// warning 5 minutes before it.
const (
	DefaultTimeout          = 30 * time.Minute
	DefaultWarning          = 5 * time.Minute
	DefaultTickInterval     = 30 * time.Second
	DefaultSyncInterval     = 60 * time.Second
	DefaultRefreshAfterIdle = 2 * time.Minute
	DefaultKeepAliveAfter   = 5 * time.Minute
	DefaultKeepAliveUntil   = 10 * time.Minute
	DefaultNoticeDelay      = 2 * time.Second

	// maxServerAnchor bounds how far back a server-reported last access may
	// move the local activity epoch.
	maxServerAnchor = 5 * time.Minute
)

var (
	// ErrUnauthenticated marks a definitive rejection by the server (401/403).
	ErrUnauthenticated = errors.New("session rejected by server")

	// ErrExpired is returned by operations attempted after the session expired.
	ErrExpired = errors.New("session expired")

	// ErrInvalidTimeout is returned when the warning period is not strictly
	// shorter than the timeout.
	ErrInvalidTimeout = errors.New("warning period must be shorter than timeout")
)

// State is the countdown state of a session.
type State int

const (
	// StateActive means no warning is due yet.
	StateActive State = iota
	// StateWarning means the warning deadline passed and expiry is pending.
	StateWarning
	// StateExpired is terminal.
	StateExpired
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateWarning:
		return "WARNING"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Status is the coarse indicator shown next to the page header.
type Status int

const (
	StatusActive Status = iota
	StatusWarning
	StatusExpiring
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWarning:
		return "warning"
	case StatusExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// StatusFor classifies the remaining time: under warning is expiring, under
// twice the warning is warning.
func StatusFor(remaining, warning time.Duration) Status {
	switch {
	case remaining < warning:
		return StatusExpiring
	case remaining < 2*warning:
		return StatusWarning
	default:
		return StatusActive
	}
}

// ExpireReason records why a session ended.
type ExpireReason int

const (
	// ReasonInactivity is the local countdown running out.
	ReasonInactivity ExpireReason = iota
	// ReasonLogout is an explicit "logout now".
	ReasonLogout
	// ReasonRejected is the server refusing the session.
	ReasonRejected
)

func (r ExpireReason) String() string {
	switch r {
	case ReasonInactivity:
		return "inactivity"
	case ReasonLogout:
		return "logout"
	case ReasonRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Deadlines are derived once per activity epoch and never mutated.
type Deadlines struct {
	Epoch   uint64
	Warning time.Time
	Expiry  time.Time
}

// computeDeadlines derives the deadlines for an epoch.
func computeDeadlines(epoch uint64, lastActivity time.Time, timeout, warning time.Duration) Deadlines {
	expiry := lastActivity.Add(timeout)
	return Deadlines{
		Epoch:   epoch,
		Warning: expiry.Add(-warning),
		Expiry:  expiry,
	}
}

// Remaining returns the time left until expiry, floored at zero.
func (d Deadlines) Remaining(now time.Time) time.Duration {
	r := d.Expiry.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// Snapshot is a read-only copy of the timer-owned SessionState.
type Snapshot struct {
	LastActivityAt time.Time
	Timeout        time.Duration
	Warning        time.Duration
	WarningShown   bool
	State          State
	Deadlines      Deadlines
}

func validateDurations(timeout, warning time.Duration) error {
	if warning <= 0 || timeout <= 0 || warning >= timeout {
		return fmt.Errorf("%w: timeout=%v warning=%v", ErrInvalidTimeout, timeout, warning)
	}
	return nil
}

// FormatCountdown renders the warning countdown: whole minutes while more than
// a minute remains, seconds after that.
func FormatCountdown(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs <= 0 {
		return "0 seconds"
	}
	if secs > 60 {
		mins := secs / 60
		return plural(mins, "minute")
	}
	return plural(secs, "second")
}

// FormatExpiresIn renders the status-indicator text, rounding minutes up.
func FormatExpiresIn(d time.Duration) string {
	mins := int(math.Ceil(d.Minutes()))
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("Expires in %dm", mins)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

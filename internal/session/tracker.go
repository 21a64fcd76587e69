// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ActivityKind identifies the input source of an activity event.
type ActivityKind int

const (
	ActivityPointer ActivityKind = iota
	ActivityKeyboard
	ActivityScroll
	ActivityTouch
	// ActivityVisible is the page (or terminal) regaining visibility/focus.
	ActivityVisible
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityPointer:
		return "pointer"
	case ActivityKeyboard:
		return "keyboard"
	case ActivityScroll:
		return "scroll"
	case ActivityTouch:
		return "touch"
	case ActivityVisible:
		return "visible"
	default:
		return "unknown"
	}
}

// Activity is one timestamped presence signal.
type Activity struct {
	Kind ActivityKind
	At   time.Time
}

const activityBuffer = 64

// Tracker records user presence and publishes it on a channel.
// Record never blocks: when the subscriber lags, the event is dropped but
// Last still reflects it.
type Tracker struct {
	clock clockwork.Clock
	ch    chan Activity

	mu     sync.Mutex
	last   time.Time
	closed bool
}

// NewTracker creates a tracker. The initial last-activity time is now.
func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{
		clock: clock,
		ch:    make(chan Activity, activityBuffer),
		last:  clock.Now(),
	}
}

// Record stamps an activity of the given kind.
func (t *Tracker) Record(kind ActivityKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	a := Activity{Kind: kind, At: t.clock.Now()}
	t.last = a.At
	select {
	case t.ch <- a:
	default:
	}
}

// C returns the activity channel. It is closed by Close.
func (t *Tracker) C() <-chan Activity {
	return t.ch
}

// Last returns the time of the most recent recorded activity.
func (t *Tracker) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Close stops the tracker and closes its channel.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}

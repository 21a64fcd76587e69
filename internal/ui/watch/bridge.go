// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"slices"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/posgateway/amlsession/internal/session"
)

// =============================================================================
// SESSION EVENT MESSAGES
// =============================================================================

// WarningMsg opens the countdown modal.
type WarningMsg struct {
	Snapshot session.Snapshot
}

// HideWarningMsg closes the countdown modal.
type HideWarningMsg struct{}

// ExpiredMsg shows the expiry notice.
type ExpiredMsg struct {
	Reason session.ExpireReason
}

// StatusMsg updates the status indicator.
type StatusMsg struct {
	Status    session.Status
	Remaining time.Duration
}

// RedirectMsg ends the program; the caller prints the login URL.
type RedirectMsg struct {
	URL string
}

// Bridge turns keeper callbacks into Bubble Tea messages. It implements
// session.View and session.Redirector. The model reads one message at a time
// through Wait, so events keep their order and nothing is lost before the
// program starts. Delivery never blocks: keeper callbacks run under the
// timer's lock, and the only reader is the program's event loop. Only the
// latest pending StatusMsg is kept.
type Bridge struct {
	mu    sync.Mutex
	queue []tea.Msg
	ready chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge creates an open bridge.
func NewBridge() *Bridge {
	return &Bridge{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

var (
	_ session.View       = (*Bridge)(nil)
	_ session.Redirector = (*Bridge)(nil)
)

func (b *Bridge) ShowWarning(s session.Snapshot) { b.deliver(WarningMsg{Snapshot: s}) }

func (b *Bridge) HideWarning() { b.deliver(HideWarningMsg{}) }

func (b *Bridge) ShowExpired(reason session.ExpireReason) { b.deliver(ExpiredMsg{Reason: reason}) }

func (b *Bridge) SetStatus(s session.Status, remaining time.Duration) {
	b.deliver(StatusMsg{Status: s, Remaining: remaining})
}

func (b *Bridge) Redirect(loginURL string) { b.deliver(RedirectMsg{URL: loginURL}) }

// deliver queues msg. A newer StatusMsg replaces a pending one. Messages
// sent after Close are dropped.
func (b *Bridge) deliver(msg tea.Msg) {
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return
	default:
	}
	if _, ok := msg.(StatusMsg); ok {
		b.queue = slices.DeleteFunc(b.queue, func(m tea.Msg) bool {
			_, pending := m.(StatusMsg)
			return pending
		})
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *Bridge) next() (tea.Msg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	msg := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	if len(b.queue) > 0 {
		b.signal()
	}
	return msg, true
}

// Wait returns a command that yields the next session event.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		for {
			if msg, ok := b.next(); ok {
				return msg
			}
			select {
			case <-b.ready:
			case <-b.done:
				return nil
			}
		}
	}
}

// Close drops further events and releases waiters.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/posgateway/amlsession/internal/session"
)

// =============================================================================
// PLAIN OUTPUT
// =============================================================================

// PlainView writes session events as timestamped lines for terminals without
// a TTY or for logs. Status lines are only written when the status changes.
type PlainView struct {
	mu         sync.Mutex
	w          io.Writer
	clock      clockwork.Clock
	lastStatus session.Status
	hasStatus  bool
	redirected chan string
}

// NewPlainView writes to w. A nil clock uses real time.
func NewPlainView(w io.Writer, clock clockwork.Clock) *PlainView {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PlainView{w: w, clock: clock, redirected: make(chan string, 1)}
}

var (
	_ session.View       = (*PlainView)(nil)
	_ session.Redirector = (*PlainView)(nil)
)

func (v *PlainView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, "%s  "+format+"\n", append([]any{v.clock.Now().Format(time.TimeOnly)}, args...)...)
}

func (v *PlainView) ShowWarning(s session.Snapshot) {
	v.printf("WARNING  session will expire in %s; press Enter to stay signed in",
		session.FormatCountdown(s.Deadlines.Remaining(v.clock.Now())))
}

func (v *PlainView) HideWarning() {
	v.printf("ACTIVE   session extended")
}

func (v *PlainView) ShowExpired(reason session.ExpireReason) {
	v.printf("EXPIRED  session ended (%s)", reason)
}

func (v *PlainView) SetStatus(s session.Status, remaining time.Duration) {
	v.mu.Lock()
	changed := !v.hasStatus || s != v.lastStatus
	v.lastStatus, v.hasStatus = s, true
	v.mu.Unlock()
	if !changed {
		return
	}
	if s == session.StatusActive {
		v.printf("STATUS   active")
		return
	}
	v.printf("STATUS   %s, %s", s, session.FormatExpiresIn(remaining))
}

// Redirect prints the login URL and releases Redirected.
func (v *PlainView) Redirect(loginURL string) {
	v.printf("REDIRECT sign in again at %s", loginURL)
	select {
	case v.redirected <- loginURL:
	default:
	}
}

// Redirected yields the login URL once the session ended.
func (v *PlainView) Redirected() <-chan string {
	return v.redirected
}

// ReadActivity records one keyboard activity per input line until r ends or
// ctx is cancelled. A line reading "logout" ends the session instead.
func ReadActivity(ctx context.Context, r io.Reader, sess Session) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case line := <-lines:
			if line == "logout" {
				sess.Logout()
				continue
			}
			sess.Record(session.ActivityKeyboard)
		}
	}
}

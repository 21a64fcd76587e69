// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// View renders the warning modal, the expiry notice and the status indicator.
type View interface {
	// ShowWarning opens the countdown modal. The countdown is derived from
	// the snapshot's expiry deadline.
	ShowWarning(s Snapshot)
	HideWarning()
	ShowExpired(reason ExpireReason)
	SetStatus(status Status, remaining time.Duration)
}

// Redirector navigates to the login entry point.
type Redirector interface {
	Redirect(loginURL string)
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(loginURL string)

func (f RedirectFunc) Redirect(loginURL string) { f(loginURL) }

// NopView discards all presentation calls.
type NopView struct{}

func (NopView) ShowWarning(Snapshot) {}

func (NopView) HideWarning() {}

func (NopView) ShowExpired(ExpireReason) {}

func (NopView) SetStatus(Status, time.Duration) {}

// PresenterConfig configures the expiry flow.
type PresenterConfig struct {
	// LoginURL is the login entry point, e.g. https://aml.example/login.html.
	LoginURL string
	// Page is the current path to restore after login.
	Page string
	// NoticeDelay is how long the expiry notice stays before redirecting.
	NoticeDelay time.Duration
}

// closeGrace bounds how long Close waits for a pending invalidate.
const closeGrace = 2 * time.Second

// Presenter turns timer transitions into view updates and runs the expiry
// flow exactly once: notice, best-effort invalidate, redirect.
type Presenter struct {
	clock      clockwork.Clock
	cfg        PresenterConfig
	view       View
	redirector Redirector
	sync       SyncClient
	hints      HintStore

	once         sync.Once
	redirectOnce sync.Once
	done         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	notice clockwork.Timer
	closed bool
}

// NewPresenter creates a presenter. view, redirector, sync and hints may be nil.
func NewPresenter(clock clockwork.Clock, cfg PresenterConfig, view View, redirector Redirector, client SyncClient, hints HintStore) *Presenter {
	if view == nil {
		view = NopView{}
	}
	if cfg.NoticeDelay < 0 {
		cfg.NoticeDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Presenter{
		ctx:        ctx,
		cancel:     cancel,
		clock:      clock,
		cfg:        cfg,
		view:       view,
		redirector: redirector,
		sync:       client,
		hints:      hints,
		done:       make(chan struct{}),
	}
}

// Done is closed once the redirect has been issued.
func (p *Presenter) Done() <-chan struct{} {
	return p.done
}

func (p *Presenter) OnActive(s Snapshot) {
	p.view.HideWarning()
	p.view.SetStatus(StatusActive, s.Deadlines.Remaining(p.clock.Now()))
}

func (p *Presenter) OnWarning(s Snapshot) {
	p.view.SetStatus(StatusExpiring, s.Deadlines.Remaining(p.clock.Now()))
	p.view.ShowWarning(s)
}

func (p *Presenter) OnExpired(reason ExpireReason, _ Snapshot) {
	p.once.Do(func() {
		p.view.HideWarning()

		// The server already dropped the session: go straight to login.
		if reason == ReasonRejected {
			p.redirect()
			return
		}

		p.view.ShowExpired(reason)

		p.mu.Lock()
		if p.sync != nil && !p.closed {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				if err := p.sync.Invalidate(p.ctx); err != nil {
					slog.Debug("SESSION_INVALIDATE_FAILED", "error", err)
				}
			}()
		}
		now := p.cfg.NoticeDelay == 0 || p.closed
		if !now {
			p.notice = p.clock.AfterFunc(p.cfg.NoticeDelay, p.redirect)
		}
		p.mu.Unlock()
		if now {
			p.redirect()
		}
	})
}

// Close cuts a pending expiry notice short: the page is stashed and the
// redirect issued before Close returns. It then waits up to closeGrace for
// the invalidate call.
func (p *Presenter) Close() {
	p.mu.Lock()
	p.closed = true
	notice := p.notice
	p.mu.Unlock()

	if notice != nil {
		notice.Stop()
		p.redirect()
	}

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-p.clock.After(closeGrace):
		p.cancel()
		<-waited
	}
	p.cancel()
}

// redirect runs once; a second caller waits for the first to finish.
func (p *Presenter) redirect() {
	p.redirectOnce.Do(func() {
		if StashablePath(p.cfg.Page) && p.hints != nil {
			if err := p.hints.StashRedirect(context.Background(), p.cfg.Page); err != nil {
				slog.Warn("SESSION_STASH_FAILED", "path", p.cfg.Page, "error", err)
			}
		}

		target := ExpiredLoginURL(p.cfg.LoginURL)
		slog.Info("SESSION_REDIRECT", "target", target, "from", p.cfg.Page)
		if p.redirector != nil {
			p.redirector.Redirect(target)
		}
		close(p.done)
	})
}

// StashablePath reports whether a path is worth restoring after login.
func StashablePath(path string) bool {
	return path != "" && path != "/" && path != "/login.html"
}

// ExpiredLoginURL appends expired=true to the login entry point.
func ExpiredLoginURL(loginURL string) string {
	if loginURL == "" {
		loginURL = "/login.html"
	}
	u, err := url.Parse(loginURL)
	if err != nil {
		return loginURL + "?expired=true"
	}
	q := u.Query()
	q.Set("expired", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresenter(page string, delay time.Duration) (*Presenter, *clockwork.FakeClock, *fakeView, *fakeRedirector, *fakeSync, *MemoryHints) {
	clock := clockwork.NewFakeClockAt(epoch0)
	view := &fakeView{}
	redir := &fakeRedirector{}
	client := newFakeSync()
	hints := &MemoryHints{}
	p := NewPresenter(clock, PresenterConfig{
		LoginURL:    "/login.html",
		Page:        page,
		NoticeDelay: delay,
	}, view, redir, client, hints)
	return p, clock, view, redir, client, hints
}

func TestPresenter_InactivityShowsNoticeThenRedirects(t *testing.T) {
	p, clock, view, redir, client, hints := newTestPresenter("/cases/42", 2*time.Second)

	p.OnExpired(ReasonInactivity, Snapshot{})

	assert.Equal(t, []ExpireReason{ReasonInactivity}, view.expiredReasons())
	require.Eventually(t, func() bool {
		_, _, inv := client.counts()
		return inv == 1
	}, waitFor, pollInt)
	assert.Empty(t, redir.all())

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(redir.all()) == 1 }, waitFor, pollInt)
	assert.Equal(t, "/login.html?expired=true", redir.all()[0])
	assert.Equal(t, "/cases/42", hints.Redirect())

	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after redirect")
	}
}

func TestPresenter_ExpiryFlowRunsOnce(t *testing.T) {
	p, _, view, redir, client, _ := newTestPresenter("/alerts", 0)

	p.OnExpired(ReasonLogout, Snapshot{})
	p.OnExpired(ReasonLogout, Snapshot{})
	p.OnExpired(ReasonInactivity, Snapshot{})

	assert.Len(t, view.expiredReasons(), 1)
	assert.Len(t, redir.all(), 1)
	assert.Never(t, func() bool {
		_, _, inv := client.counts()
		return inv > 1
	}, 50*time.Millisecond, pollInt)
}

func TestPresenter_RejectedRedirectsImmediately(t *testing.T) {
	p, _, view, redir, client, _ := newTestPresenter("/cases/42", 2*time.Second)

	p.OnExpired(ReasonRejected, Snapshot{})

	assert.Empty(t, view.expiredReasons())
	assert.Equal(t, []string{"/login.html?expired=true"}, redir.all())
	assert.Never(t, func() bool {
		_, _, inv := client.counts()
		return inv > 0
	}, 50*time.Millisecond, pollInt)
}

func TestPresenter_LoginPageIsNotStashed(t *testing.T) {
	p, _, _, _, _, hints := newTestPresenter("/login.html", 0)

	p.OnExpired(ReasonLogout, Snapshot{})
	assert.Empty(t, hints.Redirect())
}

func TestPresenter_WarningAndActive(t *testing.T) {
	p, _, view, _, _, _ := newTestPresenter("/", 0)
	snap := Snapshot{Deadlines: Deadlines{Expiry: epoch0.Add(5 * time.Minute)}}

	p.OnWarning(snap)
	assert.Equal(t, 1, view.warningCount())
	view.mu.Lock()
	assert.Equal(t, StatusExpiring, view.status)
	assert.Equal(t, 5*time.Minute, view.remaining)
	view.mu.Unlock()

	p.OnActive(Snapshot{Deadlines: Deadlines{Expiry: epoch0.Add(30 * time.Minute)}})
	view.mu.Lock()
	assert.Equal(t, StatusActive, view.status)
	assert.Equal(t, 1, view.hides)
	view.mu.Unlock()
}

func TestExpiredLoginURL(t *testing.T) {
	assert.Equal(t, "/login.html?expired=true", ExpiredLoginURL(""))
	assert.Equal(t, "/login.html?expired=true", ExpiredLoginURL("/login.html"))
	assert.Equal(t, "https://aml.example/login.html?expired=true&lang=en",
		ExpiredLoginURL("https://aml.example/login.html?lang=en"))
}

func TestStashablePath(t *testing.T) {
	assert.True(t, StashablePath("/cases/42"))
	assert.False(t, StashablePath(""))
	assert.False(t, StashablePath("/"))
	assert.False(t, StashablePath("/login.html"))
}

func TestPresenter_CloseWithoutExpiryDoesNotRedirect(t *testing.T) {
	p, _, _, redir, _, hints := newTestPresenter("/cases/42", 2*time.Second)

	p.Close()

	assert.Empty(t, redir.all())
	assert.Empty(t, hints.Redirect())
	select {
	case <-p.Done():
		t.Fatal("Done closed without an expiry")
	default:
	}
}

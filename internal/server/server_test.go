// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/sessionapi"
)

var serverEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

type fixture struct {
	srv   *Server
	clock *clockwork.FakeClock
	url   string
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(serverEpoch)
	opts := Options{
		SessionTimeout: 30 * time.Minute,
		Users:          map[string]string{"analyst": hash(t, "s3cret")},
		Clock:          clock,
		CookieSecret:   []byte("0123456789abcdef0123456789abcdef"),
	}
	for _, m := range mutate {
		m(&opts)
	}
	srv, err := New(opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, clock: clock, url: ts.URL}
}

func (f *fixture) client(t *testing.T) *sessionapi.Client {
	t.Helper()
	c, err := sessionapi.New(sessionapi.Config{BaseURL: f.url})
	require.NoError(t, err)
	return c
}

func (f *fixture) login(t *testing.T) *sessionapi.Client {
	t.Helper()
	c := f.client(t)
	res, err := c.Login(context.Background(), "analyst", "s3cret")
	require.NoError(t, err)
	require.True(t, res.Success)
	return c
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	srv, err := New(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, srv.Addr())
	assert.Equal(t, DefaultSessionTimeout, srv.sessionTimeout())
	assert.Equal(t, sessionapi.DefaultCookieName, srv.cookieName)
	assert.Nil(t, srv.limiter)
}

// =============================================================================
// SESSION API
// =============================================================================

func TestCheck_WithoutSessionIs401(t *testing.T) {
	f := newFixture(t)
	_, err := f.client(t).Check(context.Background())
	assert.True(t, errors.Is(err, session.ErrUnauthenticated))
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)

	_, err := c.Login(context.Background(), "analyst", "wrong")
	assert.ErrorIs(t, err, session.ErrUnauthenticated)

	_, err = c.Login(context.Background(), "nobody", "s3cret")
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
	assert.Empty(t, c.SessionCookie())
}

func TestLogin_BadBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.url+sessionapi.PathLogin, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheck_IsPassive(t *testing.T) {
	f := newFixture(t)
	c := f.login(t)
	assert.NotEmpty(t, c.SessionCookie())

	res, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 30*time.Minute, res.TimeRemaining)
	assert.True(t, serverEpoch.Equal(res.LastAccessed))

	f.clock.Advance(10 * time.Minute)
	res, err = c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, res.TimeRemaining)
	assert.True(t, serverEpoch.Equal(res.LastAccessed))
}

func TestRefresh_ResetsIdleClock(t *testing.T) {
	f := newFixture(t)
	c := f.login(t)

	f.clock.Advance(10 * time.Minute)
	rr, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, rr.Timeout)

	res, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, res.TimeRemaining)
	assert.True(t, serverEpoch.Add(10*time.Minute).Equal(res.LastAccessed))
}

func TestSession_ExpiresAfterIdleTimeout(t *testing.T) {
	f := newFixture(t)
	c := f.login(t)

	f.clock.Advance(30 * time.Minute)
	_, err := c.Check(context.Background())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)

	_, err = c.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
}

func TestInfo(t *testing.T) {
	f := newFixture(t)

	info, err := f.client(t).Info(context.Background())
	require.NoError(t, err)
	assert.False(t, info.Active)

	c := f.login(t)
	info, err = c.Info(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, "analyst", info.Username)
	assert.Equal(t, int64(1800), info.MaxInactiveInterval)
	assert.NotEmpty(t, info.SessionID)
	assert.True(t, serverEpoch.Equal(info.CreatedAt))
}

func TestInvalidate_DropsSession(t *testing.T) {
	f := newFixture(t)
	c := f.login(t)

	require.NoError(t, c.Invalidate(context.Background()))

	_, err := c.Check(context.Background())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)

	// A second invalidate is still a 200.
	assert.NoError(t, c.Invalidate(context.Background()))
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	first := f.login(t)
	second := f.login(t)

	_, err := first.Check(context.Background())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)

	res, err := second.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestCheck_TamperedCookieIs401(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	c.SetSessionCookie("not-a-signed-cookie")

	_, err := c.Check(context.Background())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
}

func TestSetUsers_TakesEffect(t *testing.T) {
	f := newFixture(t)
	f.srv.SetUsers(map[string]string{"lead": hash(t, "pw")})

	c := f.client(t)
	_, err := c.Login(context.Background(), "analyst", "s3cret")
	assert.ErrorIs(t, err, session.ErrUnauthenticated)

	res, err := c.Login(context.Background(), "lead", "pw")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSetSessionTimeout_AppliesToNewSessions(t *testing.T) {
	f := newFixture(t)
	f.srv.SetSessionTimeout(15 * time.Minute)
	f.srv.SetSessionTimeout(0)

	c := f.login(t)
	res, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, res.TimeRemaining)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestHandler_SecurityAndSessionHeaders(t *testing.T) {
	f := newFixture(t)
	c := f.login(t)

	req := httptest.NewRequest(http.MethodGet, sessionapi.PathCheck, nil)
	req.AddCookie(&http.Cookie{Name: sessionapi.DefaultCookieName, Value: c.SessionCookie()})
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "1800", rec.Header().Get("X-Session-Expires-In"))
}

func TestHandler_RateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RateLimitRPS = 0.001
		o.RateLimitBurst = 2
	})
	h := f.srv.Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client still has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.10:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, sessionapi.PathRefresh, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, rec.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.5:1234", "", "", "203.0.113.5"},
		{"untrusted proxy ignored", "203.0.113.5:1234", "198.51.100.1", "", "203.0.113.5"},
		{"trusted proxy xff", "10.0.0.2:1234", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"trusted proxy real ip", "127.0.0.1:1234", "", "198.51.100.7", "198.51.100.7"},
		{"garbage header", "127.0.0.1:1234", "not-an-ip", "", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sessionapi is the HTTP client for the back-office session
// endpoints under /api/v1/auth.
//
// The client is cookie-authenticated: it keeps the server's session cookie in
// a jar and sends it with every call, exactly like the browser pages do.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/posgateway/amlsession/internal/metrics"
	"github.com/posgateway/amlsession/internal/session"
)

// Endpoint paths.
const (
	PathCheck      = "/api/v1/auth/session/check"
	PathRefresh    = "/api/v1/auth/session/refresh"
	PathInvalidate = "/api/v1/auth/session/invalidate"
	PathInfo       = "/api/v1/auth/session/info"
	PathLogin      = "/api/v1/auth/login"
)

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultCookieName is the servlet container's session cookie.
	DefaultCookieName = "JSESSIONID"

	// MaxResponseSize caps response bodies.
	MaxResponseSize = 1 << 20
)

// ErrNoBaseURL is returned when the client has nowhere to talk to.
var ErrNoBaseURL = errors.New("session API base URL not configured")

// StatusError is a non-2xx response. 401 and 403 unwrap to
// session.ErrUnauthenticated.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return session.ErrUnauthenticated
	}
	return nil
}

// Config configures a Client.
type Config struct {
	// BaseURL is the back-office origin, e.g. https://aml.example.
	BaseURL string
	// Timeout bounds each request except invalidate. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// CookieName is the session cookie name. Empty means JSESSIONID.
	CookieName string
	// HTTPClient overrides the transport. Its Jar is replaced.
	HTTPClient *http.Client
}

// Client calls the session endpoints. It implements session.SyncClient.
type Client struct {
	base       *url.URL
	cookieName string
	http       *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
}

var _ session.SyncClient = (*Client)(nil)

// New creates a client for the given back-office origin.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	hc.Jar = jar

	return &Client{
		base:       base,
		cookieName: cfg.CookieName,
		http:       hc,
		timeout:    cfg.Timeout,
		breaker:    newBreaker(),
	}, nil
}

// newBreaker trips after five consecutive transport failures. Auth
// rejections are definitive answers, not failures.
func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				(errors.As(err, &se) && se.Code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("SYNC_BREAKER_STATE", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// SessionCookie returns the current session cookie value, or "".
func (c *Client) SessionCookie() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == c.cookieName {
			return ck.Value
		}
	}
	return ""
}

// SetSessionCookie installs a previously stored session cookie.
func (c *Client) SetSessionCookie(value string) {
	if value == "" {
		return
	}
	c.http.Jar.SetCookies(c.base, []*http.Cookie{{
		Name:  c.cookieName,
		Value: value,
		Path:  "/",
	}})
}

// BaseURL returns the configured origin.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

type checkResponse struct {
	Valid               bool            `json:"valid"`
	TimeRemaining       *float64        `json:"timeRemaining"`
	MaxInactiveInterval *int64          `json:"maxInactiveInterval"`
	LastAccessedTime    json.RawMessage `json:"lastAccessedTime"`
	Username            string          `json:"username"`
	Message             string          `json:"message"`
}

// Check calls the session-check endpoint.
func (c *Client) Check(ctx context.Context) (session.CheckResult, error) {
	var resp checkResponse
	if err := c.do(ctx, "check", http.MethodGet, PathCheck, nil, &resp); err != nil {
		return session.CheckResult{}, err
	}

	res := session.CheckResult{Valid: resp.Valid}
	if resp.TimeRemaining != nil && *resp.TimeRemaining >= 0 {
		res.TimeRemaining, res.HasTimeRemaining = seconds(*resp.TimeRemaining)
	}
	if t, ok := parseTimestamp(resp.LastAccessedTime); ok {
		res.LastAccessed = t
	}
	return res, nil
}

type refreshResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	TimeRemaining  *float64 `json:"timeRemaining"`
	SessionTimeout *float64 `json:"sessionTimeout"`
	Username       string   `json:"username"`
}

// Refresh calls the session-refresh endpoint. timeRemaining wins over
// sessionTimeout; zero or missing values leave Timeout unset.
func (c *Client) Refresh(ctx context.Context) (session.RefreshResult, error) {
	var resp refreshResponse
	if err := c.do(ctx, "refresh", http.MethodPost, PathRefresh, nil, &resp); err != nil {
		return session.RefreshResult{}, err
	}

	var res session.RefreshResult
	for _, v := range []*float64{resp.TimeRemaining, resp.SessionTimeout} {
		if v == nil || *v <= 0 {
			continue
		}
		if d, ok := seconds(*v); ok {
			res.Timeout = d
			break
		}
	}
	return res, nil
}

// Invalidate asks the server to drop the session. The outcome only matters
// for logging; the caller redirects either way. Only ctx bounds it.
func (c *Client) Invalidate(ctx context.Context) error {
	return c.do(ctx, "invalidate", http.MethodPost, PathInvalidate, nil, nil)
}

// Info describes the server-side session.
type Info struct {
	Active              bool      `json:"active"`
	SessionID           string    `json:"sessionId,omitempty"`
	MaxInactiveInterval int64     `json:"maxInactiveInterval,omitempty"`
	CreatedAt           time.Time `json:"createdAt,omitempty"`
	LastAccessedAt      time.Time `json:"lastAccessedAt,omitempty"`
	Username            string    `json:"username,omitempty"`
}

type infoResponse struct {
	Active              bool            `json:"active"`
	SessionID           string          `json:"sessionId"`
	MaxInactiveInterval int64           `json:"maxInactiveInterval"`
	CreatedAt           json.RawMessage `json:"createdAt"`
	LastAccessedAt      json.RawMessage `json:"lastAccessedAt"`
	Username            string          `json:"username"`
}

// Info calls the session-info endpoint.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var resp infoResponse
	if err := c.do(ctx, "info", http.MethodGet, PathInfo, nil, &resp); err != nil {
		return Info{}, err
	}
	info := Info{
		Active:              resp.Active,
		SessionID:           resp.SessionID,
		MaxInactiveInterval: resp.MaxInactiveInterval,
		Username:            resp.Username,
	}
	info.CreatedAt, _ = parseTimestamp(resp.CreatedAt)
	info.LastAccessedAt, _ = parseTimestamp(resp.LastAccessedAt)
	return info, nil
}

// LoginResult is the login endpoint's answer.
type LoginResult struct {
	Success     bool   `json:"success"`
	Token       string `json:"token,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Login authenticates and stores the resulting session cookie in the jar.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var res LoginResult
	if err := c.do(ctx, "login", http.MethodPost, PathLogin, body, &res); err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do runs one request through the breaker and decodes a 2xx JSON body into
// out (when non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if op != "invalidate" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, in, out)
	})
	metrics.SyncDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.SyncRequests.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		slog.Debug("SYNC_REQUEST", "operation", op, "path", path, "error", err)
		return err
	}
	slog.Debug("SYNC_REQUEST", "operation", op, "path", path, "duration", time.Since(start))
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.As(err, &se):
		return "http_error"
	default:
		return "transport_error"
	}
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		return body.Message
	}
	return ""
}

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// seconds converts a server-reported second count. Values a Duration cannot
// hold are reported as absent.
func seconds(s float64) (time.Duration, bool) {
	if math.IsNaN(s) || s < 0 || s > maxSeconds {
		return 0, false
	}
	return time.Duration(s * float64(time.Second)), true
}

// parseTimestamp accepts epoch milliseconds or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		if ms <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/posgateway/amlsession/internal/metrics"
	"github.com/posgateway/amlsession/internal/sessionapi"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8085"

	// DefaultSessionTimeout is the server-side idle timeout.
	DefaultSessionTimeout = 30 * time.Minute

	// MaxRequestBodySize caps login bodies.
	MaxRequestBodySize = 64 * 1024

	// DefaultRedirectURL is returned to clients after a successful login.
	DefaultRedirectURL = "/"

	sessionIDKey = "sid"
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server. Zero values get defaults.
type Options struct {
	Addr           string
	SessionTimeout time.Duration
	CookieName     string
	// CookieSecret signs the session cookie. A random key is generated when
	// empty, which invalidates cookies on restart.
	CookieSecret []byte
	// Users maps usernames to bcrypt hashes.
	Users    map[string]string
	Registry Registry
	Clock    clockwork.Clock
	// RateLimitRPS <= 0 disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is a development stand-in for the back-office session API. It
// speaks the same JSON as the production endpoints so the keeper can be run
// end to end without the back-office.
type Server struct {
	addr       string
	cookieName string
	registry   Registry
	cookies    *sessions.CookieStore
	clock      clockwork.Clock
	limiter    *RateLimiter
	router     *mux.Router

	mu      sync.RWMutex
	users   map[string]string
	timeout time.Duration

	httpServer *http.Server
}

// New creates a Server with its routes registered.
func New(opts Options) (*Server, error) {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.CookieName == "" {
		opts.CookieName = sessionapi.DefaultCookieName
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Registry == nil {
		opts.Registry = NewMemoryRegistry(opts.Clock)
	}
	if len(opts.CookieSecret) == 0 {
		opts.CookieSecret = securecookie.GenerateRandomKey(32)
		if opts.CookieSecret == nil {
			return nil, errors.New("failed to generate cookie secret")
		}
	}

	store := sessions.NewCookieStore(opts.CookieSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		addr:       opts.Addr,
		cookieName: opts.CookieName,
		registry:   opts.Registry,
		cookies:    store,
		clock:      opts.Clock,
		router:     mux.NewRouter(),
		users:      copyUsers(opts.Users),
		timeout:    opts.SessionTimeout,
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	s.setupRoutes()
	return s, nil
}

func copyUsers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SetUsers replaces the accepted logins. Existing sessions stay valid.
func (s *Server) SetUsers(users map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = copyUsers(users)
}

// SetSessionTimeout changes the idle timeout for sessions created or
// refreshed from now on.
func (s *Server) SetSessionTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *Server) sessionTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

func (s *Server) passwordHash(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.users[username]
	return h, ok
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(metricsMiddleware)

	r.HandleFunc(sessionapi.PathCheck, s.handleCheck).Methods(http.MethodGet)
	r.HandleFunc(sessionapi.PathRefresh, s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc(sessionapi.PathInfo, s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc(sessionapi.PathInvalidate, s.handleInvalidate).Methods(http.MethodPost)
	r.HandleFunc(sessionapi.PathLogin, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(slog.Default()),
	}
	if s.limiter != nil {
		mws = append(mws, RateLimitMiddleware(s.limiter))
	}
	return Chain(mws...)(s.router)
}

// ============================================================================
// SESSION LOOKUP
// ============================================================================

// current resolves the request's cookie to a live server session. The
// cookie session is returned even when the lookup fails so callers can
// clear it.
func (s *Server) current(r *http.Request) (*Record, *sessions.Session, error) {
	// A cookie signed with an old key decodes with an error but still
	// yields a fresh session.
	cs, _ := s.cookies.Get(r, s.cookieName)
	id, ok := cs.Values[sessionIDKey].(string)
	if !ok || id == "" {
		return nil, cs, ErrNoSession
	}
	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		return nil, cs, err
	}
	return rec, cs, nil
}

func (s *Server) clearCookie(w http.ResponseWriter, r *http.Request, cs *sessions.Session) {
	delete(cs.Values, sessionIDKey)
	cs.Options.MaxAge = -1
	if err := cs.Save(r, w); err != nil {
		slog.Warn("SESSION_COOKIE_CLEAR_FAILED", "error", err)
	}
}

func (s *Server) refreshGauge(ctx context.Context) {
	n, err := s.registry.Count(ctx)
	if err != nil {
		slog.Warn("SESSION_COUNT_FAILED", "error", err)
		return
	}
	metrics.ServerSessionsActive.Set(float64(n))
}

// setSessionHeaders mirrors the session state on every authenticated
// response.
func setSessionHeaders(w http.ResponseWriter, rec *Record, now time.Time) {
	w.Header().Set("X-Session-Expires-In", fmt.Sprintf("%d", int64(rec.Remaining(now).Seconds())))
	w.Header().Set("X-Session-Timeout-Max", fmt.Sprintf("%d", int64(rec.MaxInactive.Seconds())))
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("SERVER_START", "addr", s.addr, "timeout", s.sessionTimeout())
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully stops the HTTP server and closes the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("SERVER_SHUTDOWN")
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if cerr := s.registry.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("RESPONSE_WRITE_FAILED", "error", err)
	}
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func wholeSeconds(d time.Duration) int64 { return int64(d / time.Second) }

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy spends a bcrypt comparison on unknown usernames so they take
// as long as wrong passwords.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("amlsession-dummy"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

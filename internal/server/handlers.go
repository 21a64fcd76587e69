// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/posgateway/amlsession/internal/metrics"
)

// ============================================================================
// CHECK
// ============================================================================

// handleCheck reports validity and idle time left. It is passive and
// does not count as access, so polling never keeps an idle session alive.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.current(r)
	if err != nil {
		s.unauthorized(w, err, map[string]any{"valid": false, "message": "No active session"})
		return
	}

	now := s.clock.Now()
	setSessionHeaders(w, rec, now)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":               true,
		"timeRemaining":       wholeSeconds(rec.Remaining(now)),
		"maxInactiveInterval": wholeSeconds(rec.MaxInactive),
		"lastAccessedTime":    millis(rec.LastAccessed),
		"username":            rec.Username,
	})
}

// ============================================================================
// REFRESH
// ============================================================================

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.current(r)
	if err != nil {
		s.unauthorized(w, err, map[string]any{"success": false, "message": "No active session"})
		return
	}

	rec, err = s.registry.Touch(r.Context(), rec.ID)
	if err != nil {
		s.unauthorized(w, err, map[string]any{"success": false, "message": "No active session"})
		return
	}

	now := s.clock.Now()
	slog.Debug("SESSION_TOUCHED", "session_id", rec.ID, "username", rec.Username)
	setSessionHeaders(w, rec, now)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Session refreshed",
		"sessionTimeout": wholeSeconds(rec.MaxInactive),
		"timeRemaining":  wholeSeconds(rec.Remaining(now)),
		"username":       rec.Username,
	})
}

// ============================================================================
// INFO
// ============================================================================

// handleInfo answers 200 either way; a missing session is {"active": false}.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	rec, _, err := s.current(r)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			slog.Warn("SESSION_LOOKUP_FAILED", "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active":              true,
		"sessionId":           rec.ID,
		"maxInactiveInterval": wholeSeconds(rec.MaxInactive),
		"createdAt":           millis(rec.CreatedAt),
		"lastAccessedAt":      millis(rec.LastAccessed),
		"username":            rec.Username,
	})
}

// ============================================================================
// INVALIDATE
// ============================================================================

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	rec, cs, err := s.current(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "No active session"})
		return
	}

	if err := s.registry.Delete(r.Context(), rec.ID); err != nil {
		slog.Error("SESSION_INVALIDATE_FAILED", "session_id", rec.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Could not invalidate session"})
		return
	}
	s.clearCookie(w, r, cs)
	s.refreshGauge(r.Context())

	slog.Info("SESSION_INVALIDATED", "session_id", rec.ID, "username", rec.Username)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Session invalidated"})
}

// ============================================================================
// LOGIN
// ============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin checks a bcrypt password and starts a new session. Any
// previous session of the same user is dropped.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ServerLogins.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	hash, ok := s.passwordHash(req.Username)
	if !ok {
		compareDummy(req.Password)
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		metrics.ServerLogins.WithLabelValues("failure").Inc()
		slog.Warn("LOGIN_FAILED", "username", req.Username, "ip", GetClientIP(r))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
		return
	}

	rec, err := s.registry.Create(r.Context(), req.Username, s.sessionTimeout())
	if err != nil {
		metrics.ServerLogins.WithLabelValues("error").Inc()
		slog.Error("SESSION_CREATE_FAILED", "username", req.Username, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Could not create session"})
		return
	}

	cs, _ := s.cookies.Get(r, s.cookieName)
	cs.Values[sessionIDKey] = rec.ID
	if err := cs.Save(r, w); err != nil {
		metrics.ServerLogins.WithLabelValues("error").Inc()
		slog.Error("SESSION_COOKIE_FAILED", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Could not create session"})
		return
	}
	s.refreshGauge(r.Context())

	metrics.ServerLogins.WithLabelValues("success").Inc()
	slog.Info("SESSION_CREATED", "session_id", rec.ID, "username", rec.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"token":       rec.ID,
		"redirectUrl": DefaultRedirectURL,
		"user":        map[string]any{"username": rec.Username},
	})
}

// ============================================================================
// HEALTH
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.registry.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": n})
}

func (s *Server) unauthorized(w http.ResponseWriter, err error, body map[string]any) {
	if !errors.Is(err, ErrNoSession) {
		slog.Warn("SESSION_LOOKUP_FAILED", "error", err)
	}
	writeJSON(w, http.StatusUnauthorized, body)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a development implementation of the back-office
// session API, so the session keeper can be exercised without the real
// back-office.
//
// # Endpoints
//
//   - GET  /api/v1/auth/session/check      - validity and idle time left (401 without a session)
//   - POST /api/v1/auth/session/refresh    - mark the session accessed
//   - GET  /api/v1/auth/session/info       - session details, {"active": false} without one
//   - POST /api/v1/auth/session/invalidate - drop the session
//   - POST /api/v1/auth/login              - bcrypt login, sets the JSESSIONID cookie
//   - GET  /health                         - liveness and session count
//   - GET  /metrics                        - Prometheus metrics
//
// The cookie is a signed gorilla/sessions cookie holding the session id.
// Sessions live in a Registry: in memory by default, or Redis when several
// servers share state. One session per user; a new login replaces the old.
//
// # Usage
//
//	srv, err := server.New(server.Options{
//		Addr:  ":8085",
//		Users: map[string]string{"analyst": bcryptHash},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package server

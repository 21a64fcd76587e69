// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the client-side session hints in a local SQLite
// database.
//
// # Keys
//
//   - sessionTimeout: last known server timeout, in milliseconds
//   - redirectAfterLogin: page to restore after the next login
//   - sessionCookie: the session cookie from the last login
//
// # Usage
//
//	store, err := storage.Open(filepath.Join(dataDir, "amlsession.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	k, err := session.Open(ctx, cfg, session.Options{Hints: store, ...})
package storage

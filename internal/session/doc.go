// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps a back-office page's authenticated session alive
// while the operator works and ends it cleanly when they walk away.
//
// # Key Types
//
//   - Tracker: non-blocking activity recorder
//   - Timer: ACTIVE -> WARNING -> EXPIRED countdown with one armed deadline
//   - Presenter: warning modal, expiry notice and redirect to login
//   - Keeper: ties the above to a SyncClient and a HintStore
//
// # Usage
//
//	k, err := session.Open(ctx, session.DefaultConfig(), session.Options{
//	    Sync:  client,
//	    Hints: store,
//	    View:  view,
//	})
//	if err != nil {
//	    return err
//	}
//	defer k.Close()
//
//	k.Record(session.ActivityKeyboard)
//
// The warning always opens exactly Warning before expiry. Expiry happens at
// most once per keeper; after it every mutating call returns ErrExpired.
package session

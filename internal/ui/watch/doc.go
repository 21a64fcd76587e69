// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch is the terminal front end of a running session keeper.
//
// Model is a Bubble Tea program that shows the countdown, the status
// indicator and the timeout overlay, and reports every key, click and scroll
// as activity. Keeper callbacks reach the model through a Bridge, which
// implements session.View and session.Redirector and hands events over as
// messages in order.
//
// Typical wiring:
//
//	bridge := watch.NewBridge()
//	keeper, err := session.Open(ctx, cfg, session.Options{
//		Sync: client, Hints: store, View: bridge, Redirector: bridge,
//	})
//	m := watch.New(ctx, keeper, bridge, watch.Options{Page: cfg.Page})
//	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
//
// PlainView and ReadActivity cover terminals without a TTY: events are
// printed as lines and each input line counts as activity.
package watch

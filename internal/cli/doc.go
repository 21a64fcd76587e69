// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for amlsession.
//
// # Commands
//
//   - watch (default): run the session keeper with the TUI, or plain lines
//     when stdin or stdout is not a terminal
//   - login, logout: manage the stored session cookie
//   - check, refresh, info: one-shot calls to the session endpoints
//   - serve: the development session server
//   - config: show, path, init, get, set, keys, hash-password
//
// Every command accepts --json and answers with a JSONResponse envelope.
// ExitCode maps returned errors to process exit statuses.
//
// # Usage
//
//	cmd, args := cli.Parse()
//	if err := cli.Run(ctx, cmd, args); err != nil {
//	    os.Exit(cli.ExitCode(err))
//	}
package cli

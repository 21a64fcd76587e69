// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the CLI and the terminal UI.
//
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - TruncateWidth, TruncatePath: display-width aware truncation
package util

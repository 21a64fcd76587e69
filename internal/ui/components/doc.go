// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the visual pieces of the watch screen: the
// session timeout overlay, the status bar and the in-flight spinner.
//
// Components are plain structs. The overlay follows the Bubble Tea
// Update/View shape and reports button presses as messages. The status bar
// and spinner are only rendered.
package components

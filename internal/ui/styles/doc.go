// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the palette and lipgloss styles of the watch screen.
//
// Colors are lipgloss.AdaptiveColor values so they follow the terminal's
// light or dark background. Every status color is paired with an ASCII
// indicator from StatusIndicators. NewTheme detects the color profile with
// termenv; an Ascii profile gets a colorless theme.
package styles

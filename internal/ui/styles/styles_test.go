// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// RENDER HELPER TESTS
// =============================================================================

func TestRenderHelpersIncludeIndicator(t *testing.T) {
	tests := []struct {
		name      string
		got       string
		indicator string
	}{
		{"success", RenderSuccess("saved"), StatusIndicators.Success},
		{"error", RenderError("failed"), StatusIndicators.Error},
		{"warning", RenderWarning("soon"), StatusIndicators.Warning},
		{"info", RenderInfo("note"), StatusIndicators.Info},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.got, tt.indicator) {
				t.Errorf("%q missing indicator %q", tt.got, tt.indicator)
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	if !strings.Contains(RenderStatus(true, "ok"), StatusIndicators.Success) {
		t.Error("RenderStatus(true) should use the success indicator")
	}
	if !strings.Contains(RenderStatus(false, "no"), StatusIndicators.Error) {
		t.Error("RenderStatus(false) should use the error indicator")
	}
}

// =============================================================================
// THEME TESTS
// =============================================================================

func TestNewThemeForProfile(t *testing.T) {
	th := NewThemeForProfile(termenv.TrueColor, true)
	if !th.HasTrueColor || !th.IsDark {
		t.Errorf("capabilities not recorded: %+v", th)
	}

	ascii := NewThemeForProfile(termenv.Ascii, false)
	if ascii.HasTrueColor {
		t.Error("ascii theme should not report true color")
	}
	if _, ok := ascii.StatusActive.GetForeground().(lipgloss.NoColor); !ok {
		t.Errorf("ascii theme should drop foreground colors, got %T", ascii.StatusActive.GetForeground())
	}
}

func TestLayoutMode(t *testing.T) {
	th := NewThemeForProfile(termenv.Ascii, true)
	tests := []struct {
		width int
		want  LayoutMode
	}{
		{40, LayoutNarrow},
		{59, LayoutNarrow},
		{60, LayoutMedium},
		{99, LayoutMedium},
		{100, LayoutWide},
	}
	for _, tt := range tests {
		th.SetSize(tt.width, 24)
		if got := th.GetLayoutMode(); got != tt.want {
			t.Errorf("width %d: got %v, want %v", tt.width, got, tt.want)
		}
	}
}

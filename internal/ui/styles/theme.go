// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the watch screen. It records the
// terminal's color capability so plain terminals get readable output.
type Theme struct {
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderPage  lipgloss.Style

	// Status bar
	StatusBar      lipgloss.Style
	StatusActive   lipgloss.Style
	StatusWarning  lipgloss.Style
	StatusExpiring lipgloss.Style
	StatusUser     lipgloss.Style
	StatusSync     lipgloss.Style

	// Body
	Label lipgloss.Style
	Value lipgloss.Style
	Muted lipgloss.Style

	// Modal
	ModalWarning lipgloss.Style
	ModalExpired lipgloss.Style
	ModalTitle   lipgloss.Style
	Countdown    lipgloss.Style
	Button       lipgloss.Style
	ButtonActive lipgloss.Style

	// Footer
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
}

// NewTheme detects the terminal and builds the styles.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()
	return NewThemeForProfile(profile, termenv.HasDarkBackground())
}

// NewThemeForProfile builds the styles for a known profile. Ascii profiles
// drop all color.
func NewThemeForProfile(profile termenv.Profile, isDark bool) *Theme {
	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Bold(true).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 2)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.HeaderPage = lipgloss.NewStyle().Foreground(Cyan)

	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.StatusActive = lipgloss.NewStyle().Bold(true).Foreground(Emerald)
	t.StatusWarning = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.StatusExpiring = lipgloss.NewStyle().Bold(true).Foreground(Rose)
	t.StatusUser = lipgloss.NewStyle().Foreground(TextPrimary)
	t.StatusSync = lipgloss.NewStyle().Foreground(TextMuted)

	t.Label = lipgloss.NewStyle().Foreground(TextSecondary).Width(16)
	t.Value = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)

	t.ModalWarning = lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(Amber).
		Padding(1, 3).
		Align(lipgloss.Center)
	t.ModalExpired = t.ModalWarning.BorderForeground(Rose)
	t.ModalTitle = lipgloss.NewStyle().Bold(true)
	t.Countdown = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.Button = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(Overlay).
		Padding(0, 2).
		MarginRight(2)
	t.ButtonActive = t.Button.
		Foreground(Surface).
		Background(Purple).
		Bold(true)

	t.ShortcutKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)

	if t.ColorProfile == termenv.Ascii {
		t.stripColor()
	}
}

// stripColor keeps layout and emphasis but removes every color.
func (t *Theme) stripColor() {
	for _, s := range []*lipgloss.Style{
		&t.HeaderTitle, &t.HeaderPage, &t.StatusActive, &t.StatusWarning,
		&t.StatusExpiring, &t.StatusUser, &t.StatusSync, &t.Label, &t.Value,
		&t.Muted, &t.ModalTitle, &t.Countdown, &t.ShortcutKey, &t.ShortcutDesc,
	} {
		*s = s.UnsetForeground()
	}
	t.Header = t.Header.UnsetBorderForeground()
	t.StatusBar = t.StatusBar.UnsetBackground().UnsetForeground()
	t.ModalWarning = t.ModalWarning.UnsetBorderForeground()
	t.ModalExpired = t.ModalExpired.UnsetBorderForeground()
	t.Button = t.Button.UnsetBackground().UnsetForeground()
	t.ButtonActive = t.ButtonActive.UnsetBackground().UnsetForeground().Reverse(true)
}

// SetSize updates the theme dimensions.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the layout mode for the current width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode is the responsive layout class.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // >= 100 columns
)

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/ui/styles"
	"github.com/posgateway/amlsession/internal/util"
)

// =============================================================================
// STATUS BAR COMPONENT
// =============================================================================

// SyncState is the outcome of the last server call.
type SyncState int

const (
	SyncUnknown SyncState = iota
	SyncOK
	SyncFailed
)

// StatusBar is the bottom line of the watch screen: session indicator, page
// path, user and last sync.
type StatusBar struct {
	Status    session.Status
	Remaining time.Duration
	Expired   bool
	Page      string
	Username  string
	Sync      SyncState
	Width     int

	theme *styles.Theme
}

// NewStatusBar creates a status bar for an active session.
func NewStatusBar(theme *styles.Theme) *StatusBar {
	return &StatusBar{Status: session.StatusActive, Width: 80, theme: theme}
}

// SetWidth updates the status bar width.
func (s *StatusBar) SetWidth(width int) {
	s.Width = width
}

// SetStatus updates the indicator.
func (s *StatusBar) SetStatus(status session.Status, remaining time.Duration) {
	s.Status = status
	s.Remaining = remaining
}

// SetExpired pins the indicator to the expired state.
func (s *StatusBar) SetExpired() {
	s.Expired = true
	s.Remaining = 0
}

// SetSync records the last server call outcome.
func (s *StatusBar) SetSync(ok bool) {
	if ok {
		s.Sync = SyncOK
	} else {
		s.Sync = SyncFailed
	}
}

// Indicator returns the uncolored indicator text.
func (s *StatusBar) Indicator() string {
	switch {
	case s.Expired:
		return styles.StatusIndicators.Error + " Expired"
	case s.Status == session.StatusExpiring:
		return styles.StatusIndicators.Error + " " + session.FormatExpiresIn(s.Remaining)
	case s.Status == session.StatusWarning:
		return styles.StatusIndicators.Warning + " " + session.FormatExpiresIn(s.Remaining)
	default:
		return styles.StatusIndicators.Active + " Active"
	}
}

func (s *StatusBar) indicatorStyle() lipgloss.Style {
	switch {
	case s.Expired, s.Status == session.StatusExpiring:
		return s.theme.StatusExpiring
	case s.Status == session.StatusWarning:
		return s.theme.StatusWarning
	default:
		return s.theme.StatusActive
	}
}

func (s *StatusBar) syncText() string {
	switch s.Sync {
	case SyncOK:
		return "synced"
	case SyncFailed:
		return "offline"
	default:
		return "not synced"
	}
}

// View renders the status bar at its width.
func (s *StatusBar) View() string {
	t := s.theme
	bar := t.StatusBar.Width(s.Width)
	left := s.indicatorStyle().Render(s.Indicator())

	if s.Width < 60 {
		return bar.Render(left)
	}

	sep := t.StatusSync.Render(" | ")
	var right []string
	if s.Username != "" {
		right = append(right, t.StatusUser.Render(s.Username))
	}
	right = append(right, t.StatusSync.Render(s.syncText()))
	rightText := strings.Join(right, sep)

	// Horizontal padding of the bar plus the two separators around the page.
	inner := s.Width - bar.GetHorizontalFrameSize()
	room := inner - lipgloss.Width(left) - lipgloss.Width(rightText) - 2*lipgloss.Width(sep)

	middle := ""
	if s.Page != "" && room > 4 {
		middle = t.HeaderPage.Render(util.TruncatePath(s.Page, room))
	}

	line := left
	if middle != "" {
		line += sep + middle
	}
	gap := inner - lipgloss.Width(line) - lipgloss.Width(rightText)
	if gap < 1 {
		gap = 1
	}
	return bar.Render(line + strings.Repeat(" ", gap) + rightText)
}

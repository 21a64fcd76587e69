// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"

	"github.com/posgateway/amlsession/internal/ui/styles"
)

// =============================================================================
// SPINNER MODEL
// =============================================================================

// Spinner marks a server call in flight. Frames advance on Step so the
// owner's own refresh tick drives it.
type Spinner struct {
	spinner   spinner.Model
	message   string
	startTime time.Time
	active    bool
	theme     *styles.Theme
}

// NewSpinner creates an idle ASCII line spinner.
func NewSpinner(theme *styles.Theme) Spinner {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = theme.Countdown
	return Spinner{spinner: s, theme: theme}
}

// Start shows message with the elapsed time counted from now.
func (s *Spinner) Start(message string, now time.Time) {
	s.message = message
	s.startTime = now
	s.active = true
}

// Stop hides the spinner.
func (s *Spinner) Stop() {
	s.active = false
}

// IsActive reports whether a call is in flight.
func (s Spinner) IsActive() bool {
	return s.active
}

// Step advances one frame.
func (s *Spinner) Step() {
	if !s.active {
		return
	}
	// The follow-up tick command is dropped; the caller's clock paces us.
	s.spinner, _ = s.spinner.Update(s.spinner.Tick())
}

// View renders "| Message..." with the elapsed seconds once past one second.
func (s Spinner) View(now time.Time) string {
	if !s.active {
		return ""
	}
	text := s.message + "..."
	if elapsed := now.Sub(s.startTime); elapsed >= time.Second {
		text += fmt.Sprintf(" (%ds)", int(elapsed.Seconds()))
	}
	return s.spinner.View() + " " + s.theme.Muted.Render(text)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/ui/styles"
)

// =============================================================================
// SESSION TIMEOUT OVERLAY
// =============================================================================

// OverlayChoice is the button picked in the warning modal.
type OverlayChoice int

const (
	ChoiceExtend OverlayChoice = iota
	ChoiceLogout
)

func (c OverlayChoice) String() string {
	switch c {
	case ChoiceExtend:
		return "Stay signed in"
	case ChoiceLogout:
		return "Log out now"
	default:
		return "unknown"
	}
}

// OverlayChoiceMsg reports an activated modal button.
type OverlayChoiceMsg struct {
	Choice OverlayChoice
}

// OverlayDismissedMsg reports a key that was not a modal command. While the
// warning is up any such key counts as staying signed in.
type OverlayDismissedMsg struct{}

// overlayKeys are the keys the modal handles itself.
type overlayKeys struct {
	Next    key.Binding
	Prev    key.Binding
	Confirm key.Binding
}

var defaultOverlayKeys = overlayKeys{
	Next:    key.NewBinding(key.WithKeys("tab", "right", "l")),
	Prev:    key.NewBinding(key.WithKeys("shift+tab", "left", "h")),
	Confirm: key.NewBinding(key.WithKeys("enter", " ")),
}

// SessionTimeoutOverlay is the warning modal with its live countdown and the
// expiry notice that replaces it.
type SessionTimeoutOverlay struct {
	visible  bool
	expired  bool
	reason   session.ExpireReason
	expiry   time.Time
	now      time.Time
	selected OverlayChoice

	theme  *styles.Theme
	keys   overlayKeys
	width  int
	height int
}

// NewSessionTimeoutOverlay creates a hidden overlay.
func NewSessionTimeoutOverlay(theme *styles.Theme) SessionTimeoutOverlay {
	return SessionTimeoutOverlay{theme: theme, keys: defaultOverlayKeys}
}

// SetSize sets the area the overlay is centered in.
func (o *SessionTimeoutOverlay) SetSize(width, height int) {
	o.width = width
	o.height = height
}

// ShowWarning opens the modal counting down to expiry. The countdown is
// always derived from the deadline, never from a decrementing counter.
func (o *SessionTimeoutOverlay) ShowWarning(expiry, now time.Time) {
	if o.expired {
		return
	}
	if !o.visible {
		o.selected = ChoiceExtend
	}
	o.visible = true
	o.expiry = expiry
	o.now = now
}

// ShowExpired switches to the expiry notice. It is terminal.
func (o *SessionTimeoutOverlay) ShowExpired(reason session.ExpireReason) {
	o.visible = true
	o.expired = true
	o.reason = reason
}

// Hide closes the warning. An expiry notice stays.
func (o *SessionTimeoutOverlay) Hide() {
	if o.expired {
		return
	}
	o.visible = false
}

// UpdateTime moves the countdown clock.
func (o *SessionTimeoutOverlay) UpdateTime(now time.Time) {
	o.now = now
}

// IsVisible reports whether the overlay is drawn.
func (o SessionTimeoutOverlay) IsVisible() bool { return o.visible }

// IsWarning reports whether the countdown modal is up.
func (o SessionTimeoutOverlay) IsWarning() bool { return o.visible && !o.expired }

// IsExpired reports whether the expiry notice is up.
func (o SessionTimeoutOverlay) IsExpired() bool { return o.expired }

// Selected returns the highlighted button.
func (o SessionTimeoutOverlay) Selected() OverlayChoice { return o.selected }

// TimeRemaining returns the time left until the expiry deadline.
func (o SessionTimeoutOverlay) TimeRemaining() time.Duration {
	if d := o.expiry.Sub(o.now); d > 0 {
		return d
	}
	return 0
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Update handles input while the warning is visible.
func (o SessionTimeoutOverlay) Update(msg tea.Msg) (SessionTimeoutOverlay, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		o.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if !o.IsWarning() {
			return o, nil
		}
		switch {
		case key.Matches(msg, o.keys.Next), key.Matches(msg, o.keys.Prev):
			o.selected = 1 - o.selected
		case key.Matches(msg, o.keys.Confirm):
			choice := o.selected
			return o, func() tea.Msg { return OverlayChoiceMsg{Choice: choice} }
		default:
			return o, func() tea.Msg { return OverlayDismissedMsg{} }
		}
	}
	return o, nil
}

// View renders the overlay, or "" when hidden.
func (o SessionTimeoutOverlay) View() string {
	if !o.visible {
		return ""
	}
	if o.expired {
		return o.place(o.theme.ModalExpired, o.viewExpired())
	}
	return o.place(o.theme.ModalWarning, o.viewWarning())
}

// =============================================================================
// RENDER METHODS
// =============================================================================

func (o SessionTimeoutOverlay) viewWarning() string {
	t := o.theme
	title := t.ModalTitle.Foreground(styles.Amber).
		Render(styles.StatusIndicators.Warning + " Session Timeout Warning")

	msg := t.Value.Render("Your session will expire in ") +
		t.Countdown.Render(session.FormatCountdown(o.TimeRemaining())) +
		t.Value.Render(".")

	buttons := make([]string, 0, 2)
	for _, c := range []OverlayChoice{ChoiceExtend, ChoiceLogout} {
		style := t.Button
		if c == o.selected {
			style = t.ButtonActive
		}
		buttons = append(buttons, style.Render(c.String()))
	}

	return lipgloss.JoinVertical(lipgloss.Center,
		title,
		"",
		msg,
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, buttons...),
		"",
		t.Muted.Render("Press any other key to stay signed in"),
	)
}

func (o SessionTimeoutOverlay) viewExpired() string {
	t := o.theme
	title := t.ModalTitle.Foreground(styles.Rose).
		Render(styles.StatusIndicators.Error + " " + expiredTitle(o.reason))

	return lipgloss.JoinVertical(lipgloss.Center,
		title,
		"",
		t.Value.Render(expiredMessage(o.reason)),
		"",
		t.Muted.Render("Redirecting to login..."),
	)
}

func (o SessionTimeoutOverlay) place(box lipgloss.Style, content string) string {
	width, height := o.width, o.height
	if width == 0 {
		width = 60
	}
	if height == 0 {
		height = 20
	}

	boxWidth := width - 8
	if boxWidth < 40 {
		boxWidth = 40
	}
	if boxWidth > 60 {
		boxWidth = 60
	}

	return lipgloss.Place(width, height,
		lipgloss.Center, lipgloss.Center,
		box.Width(boxWidth).Render(content),
	)
}

func expiredTitle(reason session.ExpireReason) string {
	if reason == session.ReasonLogout {
		return "Logged Out"
	}
	return "Session Expired"
}

func expiredMessage(reason session.ExpireReason) string {
	switch reason {
	case session.ReasonLogout:
		return "You have been logged out."
	case session.ReasonRejected:
		return "Your session is no longer valid."
	default:
		return "Your session has expired due to inactivity."
	}
}

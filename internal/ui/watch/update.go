// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"errors"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/ui/components"
)

// Update handles input, ticks and session events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.overlay.SetSize(msg.Width, msg.Height-1)
		m.statusBar.SetWidth(msg.Width)
		m.help.Width = msg.Width
		m.theme.SetSize(msg.Width, msg.Height)
		// Later resizes usually mean the terminal was reattached or brought
		// back to the front.
		if m.sized {
			m.sess.Record(session.ActivityVisible)
		}
		m.sized = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if m.overlay.IsExpired() {
			return m, nil
		}
		if msg.Type == tea.MouseWheelUp || msg.Type == tea.MouseWheelDown {
			m.sess.Record(session.ActivityScroll)
		} else {
			m.sess.Record(session.ActivityPointer)
		}
		return m, nil

	case tickMsg:
		m.now = m.clock.Now()
		m.overlay.UpdateTime(m.now)
		m.busy.Step()
		return m, m.tickCmd()

	// Session events. Each one re-arms the listener.
	case WarningMsg:
		m.now = m.clock.Now()
		m.overlay.ShowWarning(msg.Snapshot.Deadlines.Expiry, m.now)
		return m, m.bridge.Wait()

	case HideWarningMsg:
		m.overlay.Hide()
		return m, m.bridge.Wait()

	case StatusMsg:
		m.statusBar.SetStatus(msg.Status, msg.Remaining)
		return m, m.bridge.Wait()

	case ExpiredMsg:
		m.overlay.ShowExpired(msg.Reason)
		m.statusBar.SetExpired()
		return m, m.bridge.Wait()

	case RedirectMsg:
		m.redirectURL = msg.URL
		m.quitting = true
		return m, tea.Quit

	// Overlay results
	case components.OverlayDismissedMsg:
		m.sess.Record(session.ActivityKeyboard)
		return m, nil

	case components.OverlayChoiceMsg:
		if msg.Choice == components.ChoiceLogout {
			return m, m.logoutCmd()
		}
		m.busy.Start("Extending session", m.clock.Now())
		return m, m.extendCmd()

	// Command results
	case extendedMsg:
		m.busy.Stop()
		m.report(msg.err, "Session extended")
		return m, nil

	case checkedMsg:
		m.busy.Stop()
		m.report(msg.err, "Session is valid")
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.quitting = true
		return m, tea.Quit
	}

	switch {
	case m.overlay.IsExpired():
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case m.overlay.IsWarning():
		var cmd tea.Cmd
		m.overlay, cmd = m.overlay.Update(msg)
		return m, cmd
	}

	m.sess.Record(session.ActivityKeyboard)

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Extend):
		m.busy.Start("Extending session", m.clock.Now())
		return m, m.extendCmd()
	case key.Matches(msg, m.keys.Check):
		m.busy.Start("Checking session", m.clock.Now())
		return m, m.checkCmd()
	case key.Matches(msg, m.keys.Logout):
		return m, m.logoutCmd()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// report records a server call outcome in the status bar and flash line.
func (m *Model) report(err error, ok string) {
	switch {
	case err == nil:
		m.flash, m.flashErr = ok, false
		m.statusBar.SetSync(true)
	case errors.Is(err, session.ErrExpired):
		m.flash, m.flashErr = "Session already expired", true
	default:
		m.flash, m.flashErr = err.Error(), true
		// A rejection still reached the server.
		m.statusBar.SetSync(errors.Is(err, session.ErrUnauthenticated))
	}
}

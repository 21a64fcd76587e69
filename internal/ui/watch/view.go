// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/ui/styles"
	"github.com/posgateway/amlsession/internal/util"
)

// View renders the screen. The overlay replaces the body while it is up.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.overlay.IsVisible() {
		return lipgloss.JoinVertical(lipgloss.Left, m.overlay.View(), m.statusBar.View())
	}

	sections := []string{
		m.viewHeader(),
		m.viewBody(),
		m.viewFlash(),
		m.help.View(m.keys),
	}
	content := lipgloss.JoinVertical(lipgloss.Left, sections...)

	if m.height > 0 {
		content = lipgloss.PlaceVertical(m.height-1, lipgloss.Top, content)
	}
	return lipgloss.JoinVertical(lipgloss.Left, content, m.statusBar.View())
}

func (m Model) viewHeader() string {
	title := m.theme.HeaderTitle.Render("AML Session")
	if m.page == "" {
		return m.theme.Header.Render(title)
	}
	room := m.width - lipgloss.Width(title) - m.theme.Header.GetHorizontalFrameSize() - 3
	if room < 8 {
		room = 8
	}
	page := m.theme.HeaderPage.Render(util.TruncatePath(m.page, room))
	return m.theme.Header.Render(title + "   " + page)
}

func (m Model) viewBody() string {
	snap := m.sess.Snapshot()
	remaining := snap.Deadlines.Remaining(m.now)

	rows := [][2]string{
		{"State", snap.State.String()},
		{"Time left", session.FormatCountdown(remaining)},
		{"Last activity", fmt.Sprintf("%s (%s ago)", snap.LastActivityAt.Local().Format("15:04:05"), ago(m.now.Sub(snap.LastActivityAt)))},
		{"Timeout", snap.Timeout.String()},
		{"Warning at", snap.Deadlines.Warning.Local().Format("15:04:05")},
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, m.theme.Label.Render(r[0])+m.theme.Value.Render(r[1]))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(lines, "\n"))
}

func (m Model) viewFlash() string {
	switch {
	case m.busy.IsActive():
		return "  " + m.busy.View(m.clock.Now())
	case m.flash == "":
		return ""
	case m.flashErr:
		return "  " + styles.RenderError(util.TruncateWidth(m.flash, max(m.width-8, 20)))
	default:
		return "  " + styles.RenderSuccess(m.flash)
	}
}

func ago(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

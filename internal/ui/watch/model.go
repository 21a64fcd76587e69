// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/ui/components"
	"github.com/posgateway/amlsession/internal/ui/styles"
)

// Session is the part of *session.Keeper the screen drives.
type Session interface {
	Record(kind session.ActivityKind)
	Snapshot() session.Snapshot
	Extend(ctx context.Context) error
	Check(ctx context.Context) error
	Logout()
}

// Options configures a Model.
type Options struct {
	Theme    *styles.Theme
	Keys     *KeyMap
	Clock    clockwork.Clock
	Page     string
	Username string
	// TickInterval is the screen refresh rate. Default one second.
	TickInterval time.Duration
}

// =============================================================================
// WATCH MODEL
// =============================================================================

// Model is the Bubble Tea model of the watch screen. Every key, click and
// scroll is reported to the session as activity.
type Model struct {
	ctx    context.Context
	sess   Session
	bridge *Bridge
	clock  clockwork.Clock
	tick   time.Duration

	theme     *styles.Theme
	keys      KeyMap
	help      help.Model
	overlay   components.SessionTimeoutOverlay
	statusBar *components.StatusBar
	busy      components.Spinner

	page     string
	width    int
	height   int
	sized    bool
	now      time.Time
	flash    string
	flashErr bool

	redirectURL string
	quitting    bool
}

// New creates the watch model. ctx bounds the extend and check calls made
// from the screen.
func New(ctx context.Context, sess Session, bridge *Bridge, opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	keys := DefaultKeyMap()
	if opts.Keys != nil {
		keys = *opts.Keys
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}

	sb := components.NewStatusBar(opts.Theme)
	sb.Page = opts.Page
	sb.Username = opts.Username

	return Model{
		ctx:       ctx,
		sess:      sess,
		bridge:    bridge,
		clock:     opts.Clock,
		tick:      opts.TickInterval,
		theme:     opts.Theme,
		keys:      keys,
		help:      help.New(),
		overlay:   components.NewSessionTimeoutOverlay(opts.Theme),
		statusBar: sb,
		busy:      components.NewSpinner(opts.Theme),
		page:      opts.Page,
		now:       opts.Clock.Now(),
	}
}

// Init starts the refresh tick and the session event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.bridge.Wait())
}

// RedirectURL is the login URL the session asked to go to, or "" when the
// user quit.
func (m Model) RedirectURL() string {
	return m.redirectURL
}

// =============================================================================
// COMMANDS
// =============================================================================

type tickMsg struct{}

// extendedMsg is the result of an explicit extend.
type extendedMsg struct{ err error }

// checkedMsg is the result of an explicit server check.
type checkedMsg struct{ err error }

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) extendCmd() tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg { return extendedMsg{err: sess.Extend(ctx)} }
}

// logoutCmd expires the session off the event loop; the expiry arrives
// through the bridge.
func (m Model) logoutCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		sess.Logout()
		return nil
	}
}

func (m Model) checkCmd() tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg { return checkedMsg{err: sess.Check(ctx)} }
}

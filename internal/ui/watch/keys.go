// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import "github.com/charmbracelet/bubbles/key"

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines the watch screen bindings. Every key press is also recorded
// as activity before the binding is looked up.
type KeyMap struct {
	Extend key.Binding
	Check  key.Binding
	Logout key.Binding
	Help   key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Extend: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "extend session"),
		),
		Check: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "check with server"),
		),
		Logout: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "log out now"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the bindings of the one-line footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Extend, k.Help, k.Quit}
}

// FullHelp returns the bindings of the expanded footer.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Extend, k.Check, k.Logout},
		{k.Help, k.Quit},
	}
}

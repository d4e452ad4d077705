// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the chat viewer. Printable keys
// always go to the composer, so every binding uses a modifier or a
// non-printing key.
type KeyMap struct {
	Send key.Binding

	// Scrolling the message list.
	ScrollUp   key.Binding
	ScrollDown key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	Newest     key.Binding

	// Voice shortcuts, equivalent to /mute and /deafen.
	ToggleMute   key.Binding
	ToggleDeafen key.Binding

	ClearInput key.Binding
	Quit       key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "scroll down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup", "ctrl+u"),
		key.WithHelp("pgup", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown", "ctrl+d"),
		key.WithHelp("pgdn", "page down"),
	),
	Newest: key.NewBinding(
		key.WithKeys("end", "ctrl+g"),
		key.WithHelp("end", "newest"),
	),
	ToggleMute: key.NewBinding(
		key.WithKeys("ctrl+t"),
		key.WithHelp("C-t", "mute"),
	),
	ToggleDeafen: key.NewBinding(
		key.WithKeys("ctrl+y"),
		key.WithHelp("C-y", "deafen"),
	),
	ClearInput: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "quit"),
	),
}

// ShortHelp lists the bindings shown in the help line.
func (keys KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{keys.Send, keys.PageUp, keys.Newest, keys.ToggleMute, keys.ToggleDeafen, keys.Quit}
}

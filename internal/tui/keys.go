package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// KeyMap defines the dashboard key bindings with built-in help text.
type KeyMap struct {
	Quit         key.Binding
	ForceQuit    key.Binding
	NextPage     key.Binding
	Pause        key.Binding
	CycleType    key.Binding
	IntervalUp   key.Binding
	IntervalDown key.Binding
	Up           key.Binding
	Down         key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
		NextPage: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next page"),
		),
		Pause: key.NewBinding(
			key.WithKeys(" ", "p"),
			key.WithHelp("space", "pause"),
		),
		CycleType: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "filter type"),
		),
		IntervalUp: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "slower"),
		),
		IntervalDown: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "faster"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
	}
}

// ShortHelp lists the bindings shown in the status line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextPage, k.Pause, k.CycleType, k.IntervalDown, k.IntervalUp, k.Quit}
}

func keyMatches(msg tea.KeyMsg, b key.Binding) bool {
	return key.Matches(msg, b)
}

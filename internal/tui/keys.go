package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings of the download manager.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	NextTab      key.Binding
	PrevTab      key.Binding
	TabActive    key.Binding
	TabQueue     key.Binding
	TabCompleted key.Binding

	Add       key.Binding
	Toggle    key.Binding // Pause an active/queued download, resume a paused one.
	Remove    key.Binding
	Retry     key.Binding
	Purge     key.Binding
	PauseAll  key.Binding
	ResumeAll key.Binding
	MoveUp    key.Binding
	MoveDown  key.Binding
	Limits    key.Binding
	Details   key.Binding
	Search    key.Binding

	// Prompts.
	Submit        key.Binding
	Cancel        key.Binding
	Confirm       key.Binding
	ConfirmDelete key.Binding

	Help key.Binding
	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	NextTab: key.NewBinding(
		key.WithKeys("tab", "l", "right"),
		key.WithHelp("Tab", "next tab"),
	),
	PrevTab: key.NewBinding(
		key.WithKeys("shift+tab", "h", "left"),
		key.WithHelp("S-Tab", "prev tab"),
	),
	TabActive: key.NewBinding(
		key.WithKeys("1"),
		key.WithHelp("1", "active"),
	),
	TabQueue: key.NewBinding(
		key.WithKeys("2"),
		key.WithHelp("2", "queue"),
	),
	TabCompleted: key.NewBinding(
		key.WithKeys("3"),
		key.WithHelp("3", "completed"),
	),
	Add: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "add"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause/resume"),
	),
	Remove: key.NewBinding(
		key.WithKeys("x", "delete"),
		key.WithHelp("x", "remove"),
	),
	Retry: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "retry"),
	),
	Purge: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear completed"),
	),
	PauseAll: key.NewBinding(
		key.WithKeys("P"),
		key.WithHelp("P", "pause all"),
	),
	ResumeAll: key.NewBinding(
		key.WithKeys("U"),
		key.WithHelp("U", "resume all"),
	),
	MoveUp: key.NewBinding(
		key.WithKeys("K"),
		key.WithHelp("K", "move up"),
	),
	MoveDown: key.NewBinding(
		key.WithKeys("J"),
		key.WithHelp("J", "move down"),
	),
	Limits: key.NewBinding(
		key.WithKeys("L"),
		key.WithHelp("L", "speed limits"),
	),
	Details: key.NewBinding(
		key.WithKeys("enter", "i"),
		key.WithHelp("Enter", "details"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "submit"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "cancel"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "remove"),
	),
	ConfirmDelete: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "remove and delete files"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Add, k.Toggle, k.Remove, k.Search, k.NextTab, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.NextTab, k.PrevTab, k.Details, k.Search},
		{k.Add, k.Toggle, k.Remove, k.Retry, k.Purge},
		{k.PauseAll, k.ResumeAll, k.MoveUp, k.MoveDown, k.Limits},
		{k.Help, k.Quit},
	}
}

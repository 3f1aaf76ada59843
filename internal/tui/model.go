// Package tui implements the interactive terminal interface: a tabbed list
// of downloads fed by registry snapshots, with key bindings that route
// commands through the dispatcher.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

const (
	defaultCommandTimeout = 15 * time.Second
	refreshInterval       = time.Second
	statusTTL             = 5 * time.Second
)

// Source provides download snapshots and signals when they change.
type Source interface {
	Snapshot() []domain.Download
	Changed() <-chan struct{}
}

// Commands is the set of user operations the interface can issue.
type Commands interface {
	Add(ctx context.Context, source string) ([]string, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	Remove(ctx context.Context, id string, deleteFiles bool) error
	PurgeCompleted(ctx context.Context) (int, error)
	Retry(ctx context.Context, id string) ([]string, error)
	Move(ctx context.Context, id string, delta int) (int, error)
	SetSpeedLimits(ctx context.Context, down, up string) error
}

// HealthFunc reports the daemon connection state for the status bar.
type HealthFunc func() domain.HealthResponse

type inputMode int

const (
	modeNormal inputMode = iota
	modeAdd
	modeLimits
	modeConfirmRemove
	modeSearch
)

// changedMsg is sent when the source signals a new snapshot.
type changedMsg struct{}

// tickMsg drives periodic redraws so speeds and ETAs stay current.
type tickMsg time.Time

// commandResultMsg carries the outcome of a dispatched command.
type commandResultMsg struct {
	verb string
	note string
	err  error
}

// clearStatusMsg expires the status line set by command seq.
type clearStatusMsg struct{ seq int }

// Model is the bubbletea model of the download manager.
type Model struct {
	source   Source
	commands Commands
	health   HealthFunc

	keys     KeyMap
	theme    Theme
	help     help.Model
	input    textinput.Model
	progress progress.Model

	commandTimeout time.Duration

	downloads []domain.Download
	stats     domain.Stats
	daemon    domain.HealthResponse

	tab        domain.Tab
	cursor     int
	selectedID string
	// search narrows every tab to names or sources containing it.
	search string

	mode        inputMode
	pendingID   string
	showDetails bool

	status    string
	statusErr bool
	statusSeq int

	width  int
	height int
}

// NewModel creates a model reading from source and issuing commands.
// health may be nil.
func NewModel(source Source, commands Commands, health HealthFunc) Model {
	input := textinput.New()
	input.CharLimit = 8192
	input.Prompt = "› "

	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 20

	m := Model{
		source:         source,
		commands:       commands,
		health:         health,
		keys:           DefaultKeyMap,
		theme:          DefaultTheme,
		help:           help.New(),
		input:          input,
		progress:       bar,
		commandTimeout: defaultCommandTimeout,
		tab:            domain.TabActive,
	}
	m.refresh()
	return m
}

// WithCommandTimeout bounds how long a single command may take.
func (m Model) WithCommandTimeout(d time.Duration) Model {
	if d > 0 {
		m.commandTimeout = d
	}
	return m
}

// WithTheme replaces the color palette.
func (m Model) WithTheme(theme Theme) Model {
	m.theme = theme
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(listenForChanges(m.source.Changed()), tick())
}

func listenForChanges(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case changedMsg:
		m.refresh()
		return m, listenForChanges(m.source.Changed())

	case tickMsg:
		m.refresh()
		return m, tick()

	case commandResultMsg:
		m.refresh()
		cmd := m.setResult(msg)
		return m, cmd

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeAdd, modeLimits:
			return m.handlePromptKey(msg)
		case modeConfirmRemove:
			return m.handleConfirmKey(msg)
		case modeSearch:
			return m.handleSearchKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.keys.NextTab):
		m.switchTab(domain.Tab((int(m.tab) + 1) % len(domain.Tabs)))
	case key.Matches(msg, m.keys.PrevTab):
		m.switchTab(domain.Tab((int(m.tab) + len(domain.Tabs) - 1) % len(domain.Tabs)))
	case key.Matches(msg, m.keys.TabActive):
		m.switchTab(domain.TabActive)
	case key.Matches(msg, m.keys.TabQueue):
		m.switchTab(domain.TabQueue)
	case key.Matches(msg, m.keys.TabCompleted):
		m.switchTab(domain.TabCompleted)

	case key.Matches(msg, m.keys.Details):
		m.showDetails = !m.showDetails

	case key.Matches(msg, m.keys.Search):
		m.mode = modeSearch
		m.input.Reset()
		m.input.Placeholder = "filter by name or source"
		m.input.SetValue(m.search)
		m.input.CursorEnd()
		cmd := m.input.Focus()
		return m, cmd

	case m.search != "" && key.Matches(msg, m.keys.Cancel):
		m.search = ""
		m.restoreSelection()

	case key.Matches(msg, m.keys.Add):
		m.mode = modeAdd
		m.input.Reset()
		m.input.Placeholder = "URL, magnet link, or path to a .torrent/.metalink file"
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Limits):
		m.mode = modeLimits
		m.input.Reset()
		m.input.Placeholder = "download [upload] limit, e.g. 2M 512K, 0 for unlimited"
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Toggle):
		return m.toggleSelected()

	case key.Matches(msg, m.keys.Remove):
		d, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = modeConfirmRemove
		m.pendingID = d.ID

	case key.Matches(msg, m.keys.Retry):
		d, ok := m.selected()
		if !ok {
			return m, nil
		}
		if d.Phase != domain.PhaseError && d.Phase != domain.PhaseRemoved {
			cmd := m.notice(fmt.Sprintf("only failed downloads can be retried (this one is %s)", d.Phase))
			return m, cmd
		}
		id := d.ID
		return m, m.run("retry", func(ctx context.Context) (string, error) {
			ids, err := m.commands.Retry(ctx, id)
			if err != nil {
				return "", err
			}
			return "retrying as " + strings.Join(ids, ", "), nil
		})

	case key.Matches(msg, m.keys.Purge):
		return m, m.run("clear completed", func(ctx context.Context) (string, error) {
			n, err := m.commands.PurgeCompleted(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("cleared %d finished downloads", n), nil
		})

	case key.Matches(msg, m.keys.PauseAll):
		return m, m.run("pause all", func(ctx context.Context) (string, error) {
			return "paused all downloads", m.commands.PauseAll(ctx)
		})

	case key.Matches(msg, m.keys.ResumeAll):
		return m, m.run("resume all", func(ctx context.Context) (string, error) {
			return "resumed all downloads", m.commands.ResumeAll(ctx)
		})

	case key.Matches(msg, m.keys.MoveUp):
		return m.moveSelected(-1)
	case key.Matches(msg, m.keys.MoveDown):
		return m.moveSelected(1)
	}
	return m, nil
}

func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.closePrompt()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.closePrompt()
		if value == "" {
			return m, nil
		}
		if mode == modeLimits {
			return m, m.submitLimits(value)
		}
		return m, m.run("add", func(ctx context.Context) (string, error) {
			ids, err := m.commands.Add(ctx, value)
			if err != nil {
				return "", err
			}
			if len(ids) == 1 {
				return "added " + ids[0], nil
			}
			return fmt.Sprintf("added %d downloads", len(ids)), nil
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSearchKey filters as the user types. Enter keeps the filter and Esc
// drops it.
func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.closePrompt()
		m.search = ""
		m.restoreSelection()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		m.search = strings.TrimSpace(m.input.Value())
		m.closePrompt()
		m.restoreSelection()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.search = strings.TrimSpace(m.input.Value())
	m.restoreSelection()
	return m, cmd
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.pendingID
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.mode, m.pendingID = modeNormal, ""
		return m, m.run("remove", func(ctx context.Context) (string, error) {
			return "removed " + id, m.commands.Remove(ctx, id, false)
		})
	case key.Matches(msg, m.keys.ConfirmDelete):
		m.mode, m.pendingID = modeNormal, ""
		return m, m.run("remove", func(ctx context.Context) (string, error) {
			return "removed " + id + " and its files", m.commands.Remove(ctx, id, true)
		})
	case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Quit), msg.String() == "n":
		m.mode, m.pendingID = modeNormal, ""
	}
	return m, nil
}

func (m *Model) closePrompt() {
	m.mode = modeNormal
	m.input.Blur()
	m.input.Reset()
}

func (m Model) submitLimits(value string) tea.Cmd {
	fields := strings.Fields(value)
	down := fields[0]
	up := "0"
	if len(fields) > 1 {
		up = fields[1]
	}
	return m.run("speed limits", func(ctx context.Context) (string, error) {
		if err := m.commands.SetSpeedLimits(ctx, down, up); err != nil {
			return "", err
		}
		return fmt.Sprintf("speed limits set: down %s, up %s", down, up), nil
	})
}

func (m Model) toggleSelected() (tea.Model, tea.Cmd) {
	d, ok := m.selected()
	if !ok {
		return m, nil
	}
	id := d.ID
	switch d.Phase {
	case domain.PhaseActive, domain.PhaseWaiting:
		return m, m.run("pause", func(ctx context.Context) (string, error) {
			return "paused " + id, m.commands.Pause(ctx, id)
		})
	case domain.PhasePaused:
		return m, m.run("resume", func(ctx context.Context) (string, error) {
			return "resumed " + id, m.commands.Resume(ctx, id)
		})
	}
	cmd := m.notice(fmt.Sprintf("a %s download cannot be paused or resumed", d.Phase))
	return m, cmd
}

func (m Model) moveSelected(delta int) (tea.Model, tea.Cmd) {
	d, ok := m.selected()
	if !ok {
		return m, nil
	}
	if d.Phase.Tab() != domain.TabQueue {
		cmd := m.notice("only queued downloads can be reordered")
		return m, cmd
	}
	id := d.ID
	return m, m.run("move", func(ctx context.Context) (string, error) {
		pos, err := m.commands.Move(ctx, id, delta)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("moved %s to position %d", id, pos+1), nil
	})
}

// run executes fn off the update loop and reports its outcome as a
// commandResultMsg.
func (m Model) run(verb string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	timeout := m.commandTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		note, err := fn(ctx)
		return commandResultMsg{verb: verb, note: note, err: err}
	}
}

// notice shows an informational message without issuing a command.
func (m *Model) notice(text string) tea.Cmd {
	return m.setResult(commandResultMsg{note: text})
}

func (m *Model) setResult(res commandResultMsg) tea.Cmd {
	m.statusSeq++
	if res.err != nil {
		m.status = fmt.Sprintf("%s failed: %v", res.verb, res.err)
		m.statusErr = true
	} else {
		m.status = res.note
		m.statusErr = false
	}
	seq := m.statusSeq
	return tea.Tick(statusTTL, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

func (m *Model) refresh() {
	m.downloads = m.source.Snapshot()
	m.stats = domain.Summarize(m.downloads)
	if m.health != nil {
		m.daemon = m.health()
	}
	m.restoreSelection()
}

// visible returns the downloads of the current tab in display order,
// narrowed by the search filter.
func (m Model) visible() []domain.Download {
	query := strings.ToLower(m.search)
	var rows []domain.Download
	for _, d := range m.downloads {
		if d.Phase.Tab() != m.tab {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(d.Name), query) &&
			!strings.Contains(strings.ToLower(d.Source), query) {
			continue
		}
		rows = append(rows, d)
	}
	return rows
}

func (m Model) selected() (domain.Download, bool) {
	rows := m.visible()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return domain.Download{}, false
	}
	return rows[m.cursor], true
}

// restoreSelection keeps the cursor on the same download across snapshots,
// falling back to the nearest row when it left the tab.
func (m *Model) restoreSelection() {
	rows := m.visible()
	if len(rows) == 0 {
		m.cursor = 0
		m.selectedID = ""
		return
	}
	for i, d := range rows {
		if d.ID == m.selectedID {
			m.cursor = i
			return
		}
	}
	m.cursor = min(max(m.cursor, 0), len(rows)-1)
	m.selectedID = rows[m.cursor].ID
}

func (m *Model) moveCursor(delta int) {
	rows := m.visible()
	if len(rows) == 0 {
		return
	}
	m.cursor = min(max(m.cursor+delta, 0), len(rows)-1)
	m.selectedID = rows[m.cursor].ID
}

func (m *Model) switchTab(tab domain.Tab) {
	if tab == m.tab {
		return
	}
	m.tab = tab
	m.cursor = 0
	m.selectedID = ""
	m.restoreSelection()
}

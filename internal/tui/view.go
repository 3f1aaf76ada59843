package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

const (
	defaultWidth   = 100
	minNameWidth   = 16
	sparklineWidth = 40
)

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	var sections []string
	sections = append(sections, m.renderHeader(width))
	sections = append(sections, m.renderList(width))
	if m.showDetails {
		if d, ok := m.selected(); ok {
			sections = append(sections, m.renderDetails(d, width))
		}
	}

	separator := lipgloss.NewStyle().
		Foreground(m.theme.BorderColor).
		Render(strings.Repeat("─", width))
	sections = append(sections, separator)
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader(width int) string {
	counts := map[domain.Tab]int{
		domain.TabActive:    m.stats.Active,
		domain.TabQueue:     m.stats.Queued,
		domain.TabCompleted: m.stats.Stopped,
	}

	activeTab := lipgloss.NewStyle().
		Foreground(m.theme.TabActiveForeground).
		Background(m.theme.TabActiveBackground).
		Bold(true).
		Padding(0, 1)
	inactiveTab := lipgloss.NewStyle().
		Foreground(m.theme.FaintText).
		Padding(0, 1)

	var tabs []string
	for i, tab := range domain.Tabs {
		label := fmt.Sprintf("%d %s (%d)", i+1, tabTitle(tab), counts[tab])
		if tab == m.tab {
			tabs = append(tabs, activeTab.Render(label))
		} else {
			tabs = append(tabs, inactiveTab.Render(label))
		}
	}
	left := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	right := lipgloss.NewStyle().
		Foreground(m.theme.HeaderForeground).
		Render(fmt.Sprintf("↓ %s  ↑ %s", formatSpeed(m.stats.DownloadSpeed), formatSpeed(m.stats.UploadSpeed)))

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

func tabTitle(tab domain.Tab) string {
	switch tab {
	case domain.TabActive:
		return "Active"
	case domain.TabQueue:
		return "Queue"
	case domain.TabCompleted:
		return "Completed"
	}
	return tab.String()
}

func (m Model) renderList(width int) string {
	rows := m.visible()
	if len(rows) == 0 {
		return lipgloss.NewStyle().
			Foreground(m.theme.FaintText).
			Padding(1, 2).
			Render(m.emptyText())
	}

	// Columns after the name: phase, bar, percent, size, speed, ETA.
	nameWidth := max(width-m.progress.Width-64, minNameWidth)

	lines := make([]string, 0, len(rows))
	for i, d := range rows {
		lines = append(lines, m.renderRow(d, nameWidth, i == m.cursor))
	}
	return strings.Join(lines, "\n")
}

func (m Model) emptyText() string {
	if m.search != "" {
		return fmt.Sprintf("No %s downloads match %q. Press Esc to clear the filter.", strings.ToLower(tabTitle(m.tab)), m.search)
	}
	switch m.tab {
	case domain.TabActive:
		return "Nothing downloading. Press a to add a URL, magnet link or torrent file."
	case domain.TabQueue:
		return "The queue is empty."
	}
	return "No finished downloads."
}

func (m Model) renderRow(d domain.Download, nameWidth int, selected bool) string {
	phase := lipgloss.NewStyle().
		Foreground(m.theme.PhaseColor(d.Phase)).
		Width(10).
		Render(string(d.Phase))

	name := fmt.Sprintf("%-*s", nameWidth, truncate(d.Name, nameWidth))

	cells := []string{
		name,
		phase,
		m.progress.ViewAs(d.Progress()),
		fmt.Sprintf("%5.1f%%", d.Progress()*100),
		fmt.Sprintf("%-21s", formatSize(d)),
	}
	if d.Phase == domain.PhaseActive {
		cells = append(cells, fmt.Sprintf("%-12s", formatSpeed(d.DownloadSpeed)), formatETA(d))
	}

	line := " " + strings.Join(cells, " ")
	if selected {
		return lipgloss.NewStyle().
			Foreground(m.theme.SelectedForeground).
			Background(m.theme.SelectedBackground).
			Bold(true).
			Render("›" + line[1:])
	}
	return lipgloss.NewStyle().Foreground(m.theme.NormalText).Render(line)
}

func (m Model) renderDetails(d domain.Download, width int) string {
	label := lipgloss.NewStyle().Foreground(m.theme.FaintText).Width(12)
	field := func(name, value string) string {
		return label.Render(name) + value
	}

	lines := []string{
		field("ID", d.ID),
		field("Name", d.Name),
		field("Kind", string(d.Kind)),
		field("Phase", string(d.Phase)),
		field("Size", formatSize(d)),
	}
	if d.Source != "" {
		lines = append(lines, field("Source", truncate(d.Source, max(width-14, minNameWidth))))
	}
	if d.Dir != "" {
		lines = append(lines, field("Directory", d.Dir))
	}
	if d.Phase == domain.PhaseActive {
		lines = append(lines,
			field("Speed", fmt.Sprintf("↓ %s  ↑ %s", formatSpeed(d.DownloadSpeed), formatSpeed(d.UploadSpeed))),
			field("ETA", formatETA(d)),
		)
	}
	if d.Connections > 0 || d.Kind == domain.KindTorrent {
		peers := fmt.Sprintf("%d connections", d.Connections)
		if d.Kind == domain.KindTorrent {
			peers += fmt.Sprintf(", %d seeders, %d pieces", d.Seeders, d.NumPieces)
		}
		lines = append(lines, field("Peers", peers))
	}
	for i, f := range d.Files {
		name := "Files"
		if i > 0 {
			name = ""
		}
		if i == 5 {
			lines = append(lines, field(name, fmt.Sprintf("… and %d more", len(d.Files)-i)))
			break
		}
		lines = append(lines, field(name, f))
	}
	if d.ErrorMessage != "" || d.ErrorCode != "" {
		errStyle := lipgloss.NewStyle().Foreground(m.theme.ErrorText)
		lines = append(lines, field("Error", errStyle.Render(strings.TrimSpace(d.ErrorCode+" "+d.ErrorMessage))))
	}
	if d.History.Len() > 0 {
		peakDown, peakUp := d.History.Peak()
		spark := lipgloss.NewStyle().
			Foreground(m.theme.Sparkline).
			Render(sparkline(d.History.Samples(), sparklineWidth))
		lines = append(lines,
			field("History", spark),
			field("Peak", fmt.Sprintf("↓ %s  ↑ %s", formatSpeed(peakDown), formatSpeed(peakUp))),
		)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.BorderColor).
		Padding(0, 1).
		Width(max(width-2, minNameWidth)).
		Render(strings.Join(lines, "\n"))
}

func (m Model) renderStatusBar() string {
	faint := lipgloss.NewStyle().Foreground(m.theme.FaintText)

	daemon := m.daemon.Daemon
	if daemon == "" {
		daemon = "unknown"
	}
	daemonStyle := lipgloss.NewStyle().Foreground(m.theme.PhaseActive)
	if m.daemon.Status != "" && m.daemon.Status != "ok" {
		daemonStyle = lipgloss.NewStyle().Foreground(m.theme.ErrorText)
	}
	left := faint.Render("daemon ") + daemonStyle.Render(daemon)
	if m.daemon.Status == "ok" && !m.daemon.Owned {
		left += faint.Render(" (external)")
	}
	left += faint.Render(fmt.Sprintf("  %d active  %d queued  %d stopped", m.stats.Active, m.stats.Queued, m.stats.Stopped))
	errStyle := lipgloss.NewStyle().Foreground(m.theme.ErrorText)
	if m.stats.Failed > 0 {
		left += errStyle.Render(fmt.Sprintf("  %d failed", m.stats.Failed))
	}
	if m.daemon.PollFailures > 0 {
		left += errStyle.Render(fmt.Sprintf("  %d failed polls", m.daemon.PollFailures))
	}
	if m.search != "" && m.mode != modeSearch {
		left += faint.Render("  filter ") + lipgloss.NewStyle().Foreground(m.theme.NormalText).Render(m.search)
	}

	if m.status == "" {
		return left
	}
	statusStyle := lipgloss.NewStyle().Foreground(m.theme.NormalText)
	if m.statusErr {
		statusStyle = lipgloss.NewStyle().Foreground(m.theme.ErrorText)
	}
	return left + "  " + statusStyle.Render(m.status)
}

func (m Model) renderFooter() string {
	switch m.mode {
	case modeAdd:
		return "Add download\n" + m.input.View()
	case modeLimits:
		return "Global speed limits\n" + m.input.View()
	case modeSearch:
		return "Search\n" + m.input.View()
	case modeConfirmRemove:
		return lipgloss.NewStyle().
			Foreground(m.theme.PhasePaused).
			Render(fmt.Sprintf("Remove %s? y: remove  f: remove and delete files  Esc: cancel", m.pendingID))
	}
	return m.help.View(m.keys)
}

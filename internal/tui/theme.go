package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/veranemoloko/tui-downloader/internal/domain"
)

// Theme defines the color palette of the interface. Colors are ANSI 256
// codes for broad terminal compatibility.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	TabActiveForeground lipgloss.Color
	TabActiveBackground lipgloss.Color

	PhaseActive    lipgloss.Color
	PhaseWaiting   lipgloss.Color
	PhasePaused    lipgloss.Color
	PhaseCompleted lipgloss.Color
	PhaseError     lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	ErrorText        lipgloss.Color
	Sparkline        lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText:          lipgloss.Color("252"),
	FaintText:           lipgloss.Color("243"),
	SelectedBackground:  lipgloss.Color("237"),
	SelectedForeground:  lipgloss.Color("255"),
	TabActiveForeground: lipgloss.Color("231"),
	TabActiveBackground: lipgloss.Color("62"),
	PhaseActive:         lipgloss.Color("42"),
	PhaseWaiting:        lipgloss.Color("75"),
	PhasePaused:         lipgloss.Color("214"),
	PhaseCompleted:      lipgloss.Color("245"),
	PhaseError:          lipgloss.Color("203"),
	HeaderForeground:    lipgloss.Color("111"),
	BorderColor:         lipgloss.Color("240"),
	ErrorText:           lipgloss.Color("203"),
	Sparkline:           lipgloss.Color("42"),
}

// PhaseColor returns the color used for a phase label.
func (theme Theme) PhaseColor(phase domain.Phase) lipgloss.Color {
	switch phase {
	case domain.PhaseActive:
		return theme.PhaseActive
	case domain.PhaseWaiting:
		return theme.PhaseWaiting
	case domain.PhasePaused:
		return theme.PhasePaused
	case domain.PhaseCompleted:
		return theme.PhaseCompleted
	case domain.PhaseError:
		return theme.PhaseError
	}
	return theme.FaintText
}

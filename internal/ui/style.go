package ui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	Cyan    = lipgloss.Color("#00E5FF")
	Magenta = lipgloss.Color("#FF1B6B")
	Yellow  = lipgloss.Color("#FFB500")
	Green   = lipgloss.Color("#2AFFAA")
	Red     = lipgloss.Color("#FF5555")
	Blue    = lipgloss.Color("#3B82F6")

	Base01 = lipgloss.Color("#6C7280") // Muted text
	Base2  = lipgloss.Color("#ECEFF4") // Primary text
)

// Styles groups the rendered styles of the status screen.
type Styles struct {
	Title     lipgloss.Style
	Pane      lipgloss.Style
	Active    lipgloss.Style
	PaneTitle lipgloss.Style
	Muted     lipgloss.Style
	Profit    lipgloss.Style
	Loss      lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Debug     lipgloss.Style
	Paused    lipgloss.Style
}

func DefaultStyles() Styles {
	pane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Base01).
		Padding(0, 1)
	return Styles{
		Title:     lipgloss.NewStyle().Foreground(Cyan).Bold(true),
		Pane:      pane,
		Active:    pane.BorderForeground(Cyan),
		PaneTitle: lipgloss.NewStyle().Foreground(Blue).Bold(true),
		Muted:     lipgloss.NewStyle().Foreground(Base01),
		Profit:    lipgloss.NewStyle().Foreground(Green),
		Loss:      lipgloss.NewStyle().Foreground(Red),
		Error:     lipgloss.NewStyle().Foreground(Red).Bold(true),
		Warning:   lipgloss.NewStyle().Foreground(Yellow),
		Info:      lipgloss.NewStyle().Foreground(Base2),
		Debug:     lipgloss.NewStyle().Foreground(Base01),
		Paused:    lipgloss.NewStyle().Foreground(Magenta).Bold(true),
	}
}

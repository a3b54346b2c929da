// Package ui renders the engine status screen: job states, open positions
// and the most recent log lines.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/scheduler"
)

// Jobs is the scheduler surface the screen needs.
type Jobs interface {
	Statuses() []scheduler.JobStatus
	RunNow(name string) (bool, error)
}

// Positions lists open positions.
type Positions interface {
	ActivePositions(ctx context.Context) ([]*domain.Position, error)
}

// Logs returns recent log lines.
type Logs interface {
	Recent(limit int) []logger.Entry
}

type pane int

const (
	paneJobs pane = iota
	panePositions
)

const logLines = 8

// RefreshMsg carries one poll of the engine state.
type RefreshMsg struct {
	Jobs      []scheduler.JobStatus
	Positions []*domain.Position
	Logs      []logger.Entry
	Err       error
	At        time.Time
}

type tickMsg time.Time

// StatusMsg is a transient line shown under the header.
type StatusMsg string

// Model is the bubbletea model of the status screen.
type Model struct {
	jobs      Jobs
	positions Positions
	logs      Logs
	interval  time.Duration

	keys   KeyMap
	styles Styles
	help   help.Model

	jobTable table.Model
	posTable table.Model
	focus    pane

	last     RefreshMsg
	status   string
	width    int
	height   int
	quitting bool
}

func NewModel(jobs Jobs, positions Positions, logs Logs, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	jt := table.New(
		table.WithColumns([]table.Column{
			{Title: "Job", Width: 14},
			{Title: "Status", Width: 8},
			{Title: "Every", Width: 7},
			{Title: "Runs", Width: 6},
			{Title: "Skip", Width: 5},
			{Title: "Last result", Width: 48},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	pt := table.New(
		table.WithColumns([]table.Column{
			{Title: "Wallet", Width: 11},
			{Title: "Token", Width: 10},
			{Title: "Mode", Width: 9},
			{Title: "State", Width: 13},
			{Title: "SOL", Width: 8},
			{Title: "Entry", Width: 12},
			{Title: "Last", Width: 12},
			{Title: "PnL %", Width: 8},
		}),
		table.WithHeight(8),
	)
	return Model{
		jobs:      jobs,
		positions: positions,
		logs:      logs,
		interval:  interval,
		keys:      DefaultKeyMap(),
		styles:    DefaultStyles(),
		help:      help.New(),
		jobTable:  jt,
		posTable:  pt,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refresh polls the engine off the UI goroutine.
func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		msg := RefreshMsg{At: time.Now()}
		if m.jobs != nil {
			msg.Jobs = m.jobs.Statuses()
		}
		if m.positions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			msg.Positions, msg.Err = m.positions.ActivePositions(ctx)
		}
		if m.logs != nil {
			msg.Logs = m.logs.Recent(logLines)
		}
		return msg
	}
}

func (m Model) runSelected() tea.Cmd {
	row := m.jobTable.SelectedRow()
	if len(row) == 0 || m.jobs == nil {
		return nil
	}
	name := row[0]
	return func() tea.Msg {
		started, err := m.jobs.RunNow(name)
		switch {
		case err != nil:
			return StatusMsg(err.Error())
		case !started:
			return StatusMsg(name + " is already running")
		default:
			return StatusMsg(name + " triggered")
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case RefreshMsg:
		m.last = msg
		m.jobTable.SetRows(jobRows(msg.Jobs))
		m.posTable.SetRows(positionRows(msg.Positions))
		return m, nil

	case StatusMsg:
		m.status = string(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Tab):
			m.toggleFocus()
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, m.keys.RunJob) && m.focus == paneJobs:
			return m, m.runSelected()
		}
	}

	var cmd tea.Cmd
	if m.focus == paneJobs {
		m.jobTable, cmd = m.jobTable.Update(msg)
	} else {
		m.posTable, cmd = m.posTable.Update(msg)
	}
	return m, cmd
}

func (m *Model) toggleFocus() {
	if m.focus == paneJobs {
		m.focus = panePositions
		m.jobTable.Blur()
		m.posTable.Focus()
		return
	}
	m.focus = paneJobs
	m.posTable.Blur()
	m.jobTable.Focus()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.styles

	header := s.Title.Render("solana autotrader")
	if !m.last.At.IsZero() {
		header += s.Muted.Render(fmt.Sprintf("  updated %s", m.last.At.Format("15:04:05")))
	}
	if m.last.Err != nil {
		header += "  " + s.Error.Render(m.last.Err.Error())
	} else if m.status != "" {
		header += "  " + s.Warning.Render(m.status)
	}

	jobStyle, posStyle := s.Active, s.Pane
	if m.focus == panePositions {
		jobStyle, posStyle = s.Pane, s.Active
	}
	jobs := jobStyle.Render(s.PaneTitle.Render("Jobs") + "\n" + m.jobTable.View())
	positions := posStyle.Render(s.PaneTitle.Render(fmt.Sprintf("Positions (%d)", len(m.last.Positions))) +
		"\n" + m.posTable.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		jobs,
		positions,
		s.Pane.Render(s.PaneTitle.Render("Log")+"\n"+m.renderLogs()),
		m.help.View(m.keys),
	)
}

func (m Model) renderLogs() string {
	if len(m.last.Logs) == 0 {
		return m.styles.Muted.Render("no log lines yet")
	}
	lines := make([]string, 0, len(m.last.Logs))
	for _, e := range m.last.Logs {
		st := m.styles.Info
		switch {
		case e.Level >= zapcore.ErrorLevel:
			st = m.styles.Error
		case e.Level == zapcore.WarnLevel:
			st = m.styles.Warning
		case e.Level == zapcore.DebugLevel:
			st = m.styles.Debug
		}
		line := fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), strings.ToUpper(e.Level.String()), e.Message)
		if e.Logger != "" {
			line += m.styles.Muted.Render("  " + e.Logger)
		}
		lines = append(lines, st.Render(line))
	}
	return strings.Join(lines, "\n")
}

func jobRows(jobs []scheduler.JobStatus) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		result := j.LastResult
		if j.LastError != "" {
			result = "error: " + j.LastError
		}
		rows = append(rows, table.Row{
			j.Name,
			string(j.Status),
			j.Interval.String(),
			fmt.Sprintf("%d", j.Runs),
			fmt.Sprintf("%d", j.Skipped),
			result,
		})
	}
	return rows
}

func positionRows(positions []*domain.Position) []table.Row {
	rows := make([]table.Row, 0, len(positions))
	for _, p := range positions {
		symbol := p.Symbol
		if symbol == "" {
			symbol = logger.ShortAddress(p.Token)
		}
		rows = append(rows, table.Row{
			logger.ShortAddress(p.Wallet),
			symbol,
			string(p.Mode),
			string(p.State),
			fmt.Sprintf("%.4f", p.SolCommitted),
			fmt.Sprintf("%.8f", p.EntryPrice),
			fmt.Sprintf("%.8f", p.LastPrice),
			fmt.Sprintf("%+.2f", p.ProfitPct(p.LastPrice)),
		})
	}
	return rows
}

// Run starts the status screen and blocks until the user quits or ctx ends.
func Run(ctx context.Context, m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

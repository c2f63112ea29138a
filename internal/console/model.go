// Package console is the operator terminal served over SSH: provider quota
// at a glance and a key to run the alert check by hand.
package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tripwire/internal/marketdata"
	"tripwire/internal/service"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 30 * time.Second
	requestTimeout  = 10 * time.Second
	runTimeout      = 3 * time.Minute
)

type UsageSource interface {
	Status(ctx context.Context) ([]marketdata.ProviderStatus, error)
}

type AlertRunner interface {
	Run(ctx context.Context, scope []string) (service.RunSummary, error)
}

type Services struct {
	Usage    UsageSource
	Runner   AlertRunner
	Username string
}

type (
	usageMsg struct {
		statuses []marketdata.ProviderStatus
		err      error
	}
	runMsg struct {
		summary service.RunSummary
		err     error
	}
	tickMsg time.Time
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

type Model struct {
	svc     Services
	table   table.Model
	spinner spinner.Model
	running bool
	summary *service.RunSummary
	err     error
	updated time.Time
	width   int
	height  int
	now     func() time.Time
}

func NewModel(svc Services) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Provider", Width: 14},
			{Title: "Used", Width: 8},
			{Title: "Limit", Width: 8},
			{Title: "Left", Width: 8},
			{Title: "Breaker", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(5),
	)
	return Model{
		svc:     svc,
		table:   t,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		now:     time.Now,
	}
}

// SetSize fits the table to the terminal.
func (m *Model) SetSize(width, height int) {
	m.width, m.height = width, height
	if h := height - 12; h > 3 {
		m.table.SetHeight(h)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchUsage(), m.spinner.Tick, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.running {
				return m, nil
			}
			m.running = true
			m.err = nil
			return m, m.runAlerts()
		case "u":
			return m, m.fetchUsage()
		}
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil
	case usageMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.table.SetRows(usageRows(msg.statuses))
		m.updated = m.now()
		return m, nil
	case runMsg:
		m.running = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		s := msg.summary
		m.summary = &s
		return m, m.fetchUsage()
	case tickMsg:
		return m, tea.Batch(m.fetchUsage(), tick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tripwire"))
	if m.svc.Username != "" {
		b.WriteString(dimStyle.Render("  " + m.svc.Username))
	}
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.table.View()))
	b.WriteString("\n")
	if !m.updated.IsZero() {
		b.WriteString(dimStyle.Render("usage as of " + m.updated.UTC().Format(time.TimeOnly) + " UTC"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.running:
		b.WriteString(m.spinner.View() + " checking alerts...")
	case m.err != nil:
		b.WriteString(errStyle.Render(errorLine(m.err)))
	case m.summary != nil:
		b.WriteString(okStyle.Render(summaryLine(*m.summary)))
	default:
		b.WriteString(dimStyle.Render("no run from this session yet"))
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("r run check  u refresh  q quit"))
	return b.String()
}

func (m Model) fetchUsage() tea.Cmd {
	usage := m.svc.Usage
	return func() tea.Msg {
		if usage == nil {
			return usageMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		statuses, err := usage.Status(ctx)
		return usageMsg{statuses: statuses, err: err}
	}
}

func (m Model) runAlerts() tea.Cmd {
	runner := m.svc.Runner
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		summary, err := runner.Run(ctx, nil)
		return runMsg{summary: summary, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func usageRows(statuses []marketdata.ProviderStatus) []table.Row {
	rows := make([]table.Row, 0, len(statuses))
	for _, s := range statuses {
		limit, left := "-", "-"
		if s.Limit > 0 {
			limit = strconv.FormatInt(s.Limit, 10)
			left = strconv.FormatInt(s.Remaining, 10)
		}
		rows = append(rows, table.Row{s.ID, strconv.FormatInt(s.Used, 10), limit, left, s.Breaker})
	}
	return rows
}

func summaryLine(s service.RunSummary) string {
	line := fmt.Sprintf("run %s: %d alerts, %d symbols, %d triggered, %d sent, %d failed, %d errors in %dms",
		shortID(s.RunID), s.Processed, s.Symbols, s.Triggered, s.NotificationsSent, s.NotificationsFailed, s.Errors, s.DurationMS)
	if s.TimedOut {
		line += " (timed out)"
	}
	return line
}

func errorLine(err error) string {
	if errors.Is(err, service.ErrRunInProgress) {
		return "another run is in progress"
	}
	return "error: " + err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

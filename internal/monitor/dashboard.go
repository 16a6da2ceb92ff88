// Package monitor renders a live terminal dashboard for a remediation
// run by polling the status server.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/report"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the bubbletea model behind `remend monitor`.
type Model struct {
	baseURL    string
	interval   time.Duration
	lastUpdate time.Time
	view       orchestrator.View
	haveRun    bool
	finished   *report.Report
	err        error
	quitting   bool

	// Sliding sample windows feeding the sparklines.
	totalHistory    []float64
	acceptedHistory []float64

	passProgress  progress.Model
	fixedProgress progress.Model
}

// ANSI-256 palette. Cyan for chrome, green/yellow/red for verdicts.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel builds a dashboard that polls baseURL every interval.
func NewModel(baseURL string, interval time.Duration) Model {
	passProg := progress.New(
		progress.WithGradient("#5fd7ff", "#d75fff"),
		progress.WithWidth(40),
	)
	fixedProg := progress.New(
		progress.WithGradient("#5fff87", "#ffff5f"),
		progress.WithWidth(40),
	)

	return Model{
		baseURL:         baseURL,
		interval:        interval,
		quitting:        false,
		passProgress:    passProg,
		fixedProgress:   fixedProg,
		totalHistory:    make([]float64, 0, historySize),
		acceptedHistory: make([]float64, 0, historySize),
	}
}

// statusBadge renders the run verdict badge for the header line.
func (m Model) statusBadge() string {
	if m.view.State == orchestrator.StateGlobalDone {
		if m.view.CurrentTotal < m.view.GlobalTarget {
			return healthyStyle.Render("✓ TARGET MET")
		}
		return errorStyle.Render("✗ TARGET MISSED")
	}
	if m.view.DryRun {
		return warningStyle.Render("⟳ DRY RUN")
	}
	return runningStyle.Render("⟳ RUNNING")
}

// totalBadge colors the current diagnostic count by how it compares to
// the target and the starting point.
func (m Model) totalBadge() string {
	switch {
	case m.view.CurrentTotal < m.view.GlobalTarget:
		return healthyStyle.Render("[✓]")
	case m.view.CurrentTotal < m.view.InitialTotal:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// removalProgress is the fraction of the required reduction achieved so
// far: 0 at the initial count, 1 once the total drops under the target.
func removalProgress(initial, current, target int) float64 {
	if current < target {
		return 1
	}
	denom := initial - target + 1
	if denom <= 0 {
		return 0
	}
	p := float64(initial-current) / float64(denom)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// appendToHistory keeps the most recent historySize samples.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline renders the sample window as a small chart.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time

type stateMsg struct {
	view  orchestrator.View
	found bool
}

type reportMsg *report.Report

type errMsg error

// Init schedules the first poll and the refresh tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchState(m.baseURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchState polls the status server for the current run snapshot.
func fetchState(baseURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewStatusClient(baseURL)
		view, found, err := client.FetchState(ctx)
		if err != nil {
			return errMsg(err)
		}
		return stateMsg{view: view, found: found}
	}
}

// fetchReport retrieves the finished run's artifact.
func fetchReport(baseURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewStatusClient(baseURL)
		r, err := client.FetchReport(ctx)
		if err != nil {
			return errMsg(err)
		}
		return reportMsg(r)
	}
}

// Update reacts to key presses, refresh ticks, and poll results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchState(m.baseURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchState(m.baseURL),
		)

	case stateMsg:
		m.err = nil
		m.lastUpdate = time.Now()
		m.haveRun = msg.found
		if !msg.found {
			return m, nil
		}

		m.view = msg.view
		m.totalHistory = appendToHistory(m.totalHistory, float64(msg.view.CurrentTotal))
		m.acceptedHistory = appendToHistory(m.acceptedHistory, float64(msg.view.Accepted))

		// The run just reached its terminal state; grab the artifact once.
		if msg.view.State == orchestrator.StateGlobalDone && m.finished == nil {
			return m, fetchReport(m.baseURL)
		}
		return m, nil

	case reportMsg:
		if msg != nil {
			m.finished = (*report.Report)(msg)
		}
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View picks the error, waiting, or dashboard screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	if !m.haveRun {
		return m.renderWaiting()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" remend Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the status server") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.baseURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Check that:") + "\n"
	content += dimStyle.Render("  1. a run is active (remend run or remend watch)") + "\n"
	content += dimStyle.Render("  2. the status server is enabled (status.enabled: true)") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderWaiting is shown while the server is up but no run has attached
// yet, as happens in watch mode between changes.
func (m Model) renderWaiting() string {
	header := headerStyle.Render(" remend Monitor ")

	var content string
	content += "\n"
	content += dimStyle.Render("Waiting for a run to start...") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.baseURL) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] refresh") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}
	elapsedStr := "0s"
	if !m.view.StartedAt.IsZero() {
		elapsedStr = FormatDuration(int64(time.Since(m.view.StartedAt).Seconds()))
	}

	header := headerStyle.Render(" remend Monitor ")
	headerLine := fmt.Sprintf("%s   %s %s   %s",
		m.statusBadge(),
		dimStyle.Render("Elapsed:"),
		valueStyle.Render(elapsedStr),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	content += "\n" + sectionStyle.Render("┃ Run") + "\n"

	idLine := labelStyle.Render("  ID: ") + dimStyle.Render(m.view.RunID)
	if m.view.DryRun {
		idLine += "  " + warningStyle.Render("(dry run)")
	}
	content += idLine + "\n"
	content += labelStyle.Render("  State: ") +
		valueStyle.Render(FormatState(m.view.State)) + "\n"

	passPercent := 0.0
	if m.view.MaxPasses > 0 {
		passPercent = float64(m.view.Pass) / float64(m.view.MaxPasses)
		if passPercent > 1.0 {
			passPercent = 1.0
		}
	}
	content += labelStyle.Render("  Pass: ") +
		valueStyle.Render(fmt.Sprintf("%d/%d", m.view.Pass, m.view.MaxPasses)) +
		"  " + m.passProgress.ViewAs(passPercent) + "\n"

	if m.view.FixerID != "" {
		content += labelStyle.Render("  Fixer: ") +
			valueStyle.Render(m.view.FixerID) +
			dimStyle.Render(fmt.Sprintf("  attempt %d", m.view.Attempt)) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Diagnostics") + "\n"

	totalSparkline := createSparkline(m.totalHistory)
	content += labelStyle.Render("  Current: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.view.CurrentTotal)) +
		" " + m.totalBadge() +
		"   " + totalSparkline + "\n"

	content += labelStyle.Render("  Initial: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.view.InitialTotal)) +
		dimStyle.Render("   Target: below ") +
		valueStyle.Render(fmt.Sprintf("%d", m.view.GlobalTarget)) + "\n"

	fixedPercent := removalProgress(m.view.InitialTotal, m.view.CurrentTotal, m.view.GlobalTarget)
	content += labelStyle.Render("  Fixed: ") +
		m.fixedProgress.ViewAs(fixedPercent) +
		" " + dimStyle.Render(FormatPercentage(fixedPercent)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Iterations") + "\n"

	acceptedSparkline := createSparkline(m.acceptedHistory)
	content += labelStyle.Render("  Accepted: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.view.Accepted)) +
		"        " + acceptedSparkline + "\n"

	revertedValue := valueStyle.Render(fmt.Sprintf("%d", m.view.Reverted))
	if m.view.Reverted > 0 {
		revertedValue = warningStyle.Render(fmt.Sprintf("%d", m.view.Reverted))
	}
	content += labelStyle.Render("  Reverted: ") + revertedValue + "\n"

	if m.finished != nil {
		s := m.finished.Summary
		content += "\n" + sectionStyle.Render("┃ Result") + "\n"
		content += labelStyle.Render("  Final: ") +
			valueStyle.Render(fmt.Sprintf("%d", s.FinalTotal)) +
			"  " + dimStyle.Render("(") +
			valueStyle.Render(FormatDelta(-s.Removed)) +
			dimStyle.Render(")") + "\n"
		content += labelStyle.Render("  Passes: ") +
			valueStyle.Render(fmt.Sprintf("%d", s.Passes)) +
			dimStyle.Render("   Exit code: ") +
			valueStyle.Render(fmt.Sprintf("%d", s.ExitCode)) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("auto-refresh %s", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

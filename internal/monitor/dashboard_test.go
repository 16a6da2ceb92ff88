package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/report"
)

func runningView() orchestrator.View {
	return orchestrator.View{
		RunID:        "run-42",
		State:        orchestrator.StateFixerRunning,
		Pass:         3,
		MaxPasses:    5,
		FixerID:      "import-fixer",
		Attempt:      2,
		InitialTotal: 120,
		CurrentTotal: 37,
		GlobalTarget: 10,
		Accepted:     14,
		Reverted:     1,
		StartedAt:    time.Now().Add(-10 * time.Minute),
	}
}

func TestNewModel(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	assert.Equal(t, "http://127.0.0.1:7177", model.baseURL)
	assert.Equal(t, 1*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.False(t, model.haveRun)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	cmd := model.Init()

	assert.NotNil(t, cmd, "first poll and tick should be scheduled")
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd, "quit command expected")
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd, "manual refresh should fetch state")
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	msg := tickMsg(time.Now())
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd, "tick should reschedule itself and poll")
}

func TestModel_Update_StateMsg(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	updatedModel, cmd := model.Update(stateMsg{view: runningView(), found: true})

	m := updatedModel.(Model)
	assert.True(t, m.haveRun)
	assert.Equal(t, "run-42", m.view.RunID)
	assert.Equal(t, 37, m.view.CurrentTotal)
	assert.False(t, m.lastUpdate.IsZero())
	assert.Len(t, m.totalHistory, 1)
	assert.Len(t, m.acceptedHistory, 1)
	assert.Nil(t, cmd) // Run still in flight, nothing more to do
}

func TestModel_Update_StateMsg_NoRunYet(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	updatedModel, cmd := model.Update(stateMsg{found: false})

	m := updatedModel.(Model)
	assert.False(t, m.haveRun)
	assert.Empty(t, m.totalHistory)
	assert.Nil(t, cmd)
}

func TestModel_Update_StateMsg_FinishedFetchesReportOnce(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	done := runningView()
	done.State = orchestrator.StateGlobalDone
	done.CurrentTotal = 4

	// First terminal snapshot should schedule a report fetch
	updatedModel, cmd := model.Update(stateMsg{view: done, found: true})
	m := updatedModel.(Model)
	assert.NotNil(t, cmd)

	// Once the artifact is in, further terminal snapshots do not refetch
	updatedModel, _ = m.Update(reportMsg(&report.Report{RunID: "run-42"}))
	m = updatedModel.(Model)
	updatedModel, cmd = m.Update(stateMsg{view: done, found: true})
	m = updatedModel.(Model)
	assert.NotNil(t, m.finished)
	assert.Nil(t, cmd)
}

func TestModel_Update_ReportMsg(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	r := &report.Report{RunID: "run-42"}
	r.Summary.FinalTotal = 4
	updatedModel, cmd := model.Update(reportMsg(r))

	m := updatedModel.(Model)
	assert.NotNil(t, m.finished)
	assert.Equal(t, 4, m.finished.Summary.FinalTotal)
	assert.Nil(t, cmd)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)

	msg := errMsg(fmt.Errorf("connection refused"))
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.NotNil(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestModel_View_WithRun(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	model.haveRun = true
	model.view = runningView()
	model.lastUpdate = time.Date(2025, 3, 9, 12, 34, 56, 0, time.UTC)
	model.totalHistory = []float64{120, 80, 37}
	model.acceptedHistory = []float64{0, 8, 14}

	view := model.View()

	assert.Contains(t, view, "remend Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "10m")
	assert.Contains(t, view, "run-42")
	assert.Contains(t, view, "FIXER RUNNING")
	assert.Contains(t, view, "3/5")
	assert.Contains(t, view, "import-fixer")
	assert.Contains(t, view, "attempt 2")
	assert.Contains(t, view, "Diagnostics")
	assert.Contains(t, view, "37")
	assert.Contains(t, view, "120")
	assert.Contains(t, view, "Iterations")
	assert.Contains(t, view, "14")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithResult(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	model.haveRun = true
	v := runningView()
	v.State = orchestrator.StateGlobalDone
	v.CurrentTotal = 4
	model.view = v
	r := &report.Report{RunID: "run-42"}
	r.Summary.FinalTotal = 4
	r.Summary.Removed = 116
	r.Summary.Passes = 3
	r.Summary.ExitCode = 0
	model.finished = r

	view := model.View()

	assert.Contains(t, view, "TARGET MET")
	assert.Contains(t, view, "Result")
	assert.Contains(t, view, "-116")
	assert.Contains(t, view, "Exit code")
}

func TestModel_View_TargetMissed(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	model.haveRun = true
	v := runningView()
	v.State = orchestrator.StateGlobalDone
	v.CurrentTotal = 15 // still at or above the target of 10
	model.view = v

	view := model.View()

	assert.Contains(t, view, "TARGET MISSED")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach the status server")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://127.0.0.1:7177")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_Waiting(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	// Server reachable, no run attached yet

	view := model.View()

	assert.Contains(t, view, "remend Monitor")
	assert.Contains(t, view, "Waiting for a run to start")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_Quitting(t *testing.T) {
	model := NewModel("http://127.0.0.1:7177", 1*time.Second)
	model.quitting = true

	assert.Empty(t, model.View())
}

func TestRemovalProgress(t *testing.T) {
	tests := []struct {
		name     string
		initial  int
		current  int
		target   int
		expected float64
	}{
		{"at start", 100, 100, 1, 0.0},
		{"under target", 100, 0, 1, 1.0},
		{"halfway", 101, 51, 1, 0.4950495049504951},
		{"already clean baseline", 0, 0, 1, 1.0},
		{"target above initial", 5, 5, 10, 1.0},
		{"worse than initial clamps to zero", 100, 140, 1, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, removalProgress(tt.initial, tt.current, tt.target), 1e-9)
		})
	}
}

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/remendlabs/remend/internal/orchestrator"
)

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"normal", 0.985, "98.5%"},
		{"zero", 0.0, "0.0%"},
		{"one", 1.0, "100.0%"},
		{"small", 0.012, "1.2%"},
		{"very_small", 0.0003, "0.0%"},
		{"over_hundred", 1.5, "150.0%"}, // not clamped
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatPercentage(tt.ratio)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"seconds_only", 45, "45s"},
		{"zero", 0, "0s"},
		{"one_minute", 60, "1m 0s"},
		{"minutes_and_seconds", 135, "2m 15s"},
		{"hours_and_minutes", 9900, "2h 45m"},
		{"only_hours", 7200, "2h 0m"},
		{"many_hours", 36000, "10h 0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatDuration(tt.seconds)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatDelta(t *testing.T) {
	tests := []struct {
		name     string
		delta    int
		expected string
	}{
		{"positive_gets_sign", 3, "+3"},
		{"zero", 0, "0"},
		{"negative", -12, "-12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatDelta(tt.delta)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatState(t *testing.T) {
	tests := []struct {
		name     string
		state    orchestrator.State
		expected string
	}{
		{"idle", orchestrator.StateIdle, "IDLE"},
		{"pass_running", orchestrator.StatePassRunning, "PASS RUNNING"},
		{"fixer_running", orchestrator.StateFixerRunning, "FIXER RUNNING"},
		{"global_done", orchestrator.StateGlobalDone, "GLOBAL DONE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatState(tt.state)
			assert.Equal(t, tt.expected, result)
		})
	}
}

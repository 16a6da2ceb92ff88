package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/report"
)

var watchAt = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

func TestFormatWatchProbe(t *testing.T) {
	t.Run("first trigger has no delta", func(t *testing.T) {
		out := formatWatchProbe(watchAt, 3, nil, probe.Snapshot{
			Total:      12,
			ByCategory: map[string]int{"2304": 12},
		})

		assert.Contains(t, out, "[10:30:00] 3 file(s) changed: 12 diagnostics")
		assert.Contains(t, out, "2304       12")
		assert.NotContains(t, out, "->")
	})

	t.Run("later triggers show the delta", func(t *testing.T) {
		prev := &probe.Snapshot{Total: 12, ByCategory: map[string]int{"2304": 12}}
		out := formatWatchProbe(watchAt, 1, prev, probe.Snapshot{
			Total:      9,
			ByCategory: map[string]int{"2304": 9},
		})

		assert.Contains(t, out, "12 -> 9 diagnostics (-3)")
		assert.Contains(t, out, "2304       9 (-3)")
	})

	t.Run("category gone from the new probe still shows", func(t *testing.T) {
		prev := &probe.Snapshot{Total: 5, ByCategory: map[string]int{"6133": 5}}
		out := formatWatchProbe(watchAt, 1, prev, probe.Snapshot{
			Total:      2,
			ByCategory: map[string]int{"2304": 2},
		})

		assert.Contains(t, out, "6133       0 (-5)")
		assert.Contains(t, out, "2304       2 (+2)")
	})

	t.Run("clean probe", func(t *testing.T) {
		prev := &probe.Snapshot{Total: 4}
		out := formatWatchProbe(watchAt, 2, prev, probe.Snapshot{})

		assert.Contains(t, out, "validation passed")
	})

	t.Run("degraded probe", func(t *testing.T) {
		out := formatWatchProbe(watchAt, 1, nil, probe.Snapshot{Total: 100000, Degraded: true})

		assert.Contains(t, out, "probe degraded, sentinel total 100000")
	})
}

func TestFormatWatchRun(t *testing.T) {
	t.Run("target met", func(t *testing.T) {
		rep := &report.Report{
			RunID: "5f3a90c2-1111-2222-3333-444455556666",
			Summary: report.Summary{
				InitialTotal: 37,
				FinalTotal:   8,
				Removed:      29,
				Passes:       1,
				TargetMet:    true,
			},
		}

		out := formatWatchRun(watchAt, rep)

		assert.Contains(t, out, "run 5f3a90c2 finished")
		assert.Contains(t, out, "37 -> 8 diagnostics (-29)")
		assert.Contains(t, out, "1 pass(es), target met")
	})

	t.Run("aborted run is marked incomplete", func(t *testing.T) {
		rep := &report.Report{
			RunID:      "run-1",
			Incomplete: true,
			Summary:    report.Summary{InitialTotal: 20, FinalTotal: 20},
		}

		out := formatWatchRun(watchAt, rep)

		assert.Contains(t, out, "target missed, incomplete")
	})
}

func TestFormatSigned(t *testing.T) {
	assert.Equal(t, "+3", formatSigned(3))
	assert.Equal(t, "0", formatSigned(0))
	assert.Equal(t, "-42", formatSigned(-42))
}

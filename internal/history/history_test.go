package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remendlabs/remend/internal/report"
)

func sampleReport() *report.Report {
	return &report.Report{
		SchemaVersion: report.SchemaVersion,
		RunID:         "4f5b7f5e-9f20-4a56-8a1d-1b2c3d4e5f60",
		Metadata: report.Metadata{
			WorkingDir: "/work/webapp",
			Command:    []string{"tsc", "--noEmit"},
			StartedAt:  time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
			FinishedAt: time.Date(2026, 8, 25, 10, 12, 0, 0, time.UTC),
		},
		Initial: report.Measurement{
			Total:      50,
			ByCategory: map[string]int{"TS2307": 20, "TS2304": 30},
		},
		Final: report.Measurement{Total: 4},
		Fixers: []report.FixerSummary{
			{FixerID: "import-fixer", Category: "TS2304"},
			{FixerID: "module-fixer", Category: "TS2307"},
		},
		Summary: report.Summary{
			InitialTotal: 50,
			FinalTotal:   4,
			Removed:      46,
			Passes:       2,
			TargetMet:    true,
			ExitCode:     0,
		},
		Warnings: []string{"probe degraded at pass start (pass 2)"},
	}
}

func TestFromReport(t *testing.T) {
	entry := FromReport(sampleReport(), "target_met")

	assert.Equal(t, "4f5b7f5e-9f20-4a56-8a1d-1b2c3d4e5f60", entry.RunID)
	assert.Equal(t, "/work/webapp", entry.Project)
	assert.Equal(t, "tsc --noEmit", entry.Command)
	assert.Equal(t, 50, entry.InitialTotal)
	assert.Equal(t, 4, entry.FinalTotal)
	assert.Equal(t, 46, entry.Removed)
	assert.Equal(t, 2, entry.Passes)
	assert.True(t, entry.TargetMet)
	assert.Equal(t, "target_met", entry.Reason)
	assert.Equal(t, 1, entry.Warnings)
	// Categories come out sorted regardless of map order
	assert.Equal(t, []string{"TS2304", "TS2307"}, entry.Categories)
	assert.Equal(t, []string{"import-fixer", "module-fixer"}, entry.Fixers)
}

func TestSummaryText(t *testing.T) {
	entry := FromReport(sampleReport(), "target_met")
	text := summaryText(entry)

	assert.Contains(t, text, entry.RunID)
	assert.Contains(t, text, "/work/webapp")
	assert.Contains(t, text, "tsc --noEmit")
	assert.Contains(t, text, "50 to 4 diagnostics over 2 passes")
	assert.Contains(t, text, "target met")
	assert.Contains(t, text, "TS2304 TS2307")
	assert.Contains(t, text, "import-fixer module-fixer")
}

func TestSummaryText_MissedTarget(t *testing.T) {
	entry := Entry{RunID: "r1", InitialTotal: 30, FinalTotal: 25, Passes: 5, Incomplete: true}
	text := summaryText(entry)

	assert.Contains(t, text, "target missed")
	assert.Contains(t, text, "incomplete")
}

func TestEntryRoundTrip(t *testing.T) {
	entry := FromReport(sampleReport(), "pass_budget")

	encoded, err := encodeEntry(entry)
	require.NoError(t, err)

	decoded, err := decodeEntry(encoded)
	require.NoError(t, err)
	assert.Equal(t, entry, decoded)
}

func TestDecodeEntry_Malformed(t *testing.T) {
	_, err := decodeEntry("{not json")
	require.Error(t, err)
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{RunID: "old", FinishedAt: base.Add(-2 * time.Hour)},
		{RunID: "new", FinishedAt: base},
		{RunID: "mid", FinishedAt: base.Add(-time.Hour)},
	}

	sortNewestFirst(entries)

	assert.Equal(t, "new", entries[0].RunID)
	assert.Equal(t, "mid", entries[1].RunID)
	assert.Equal(t, "old", entries[2].RunID)
}

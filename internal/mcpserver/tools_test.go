package mcpserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/report"
)

func newTestServer(t *testing.T, probes probe.Service, reportPath string) *Server {
	t.Helper()

	server, err := NewServer(nil, probes, testRegistry(t), reportPath)
	require.NoError(t, err)
	return server
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestRunProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("reports diagnostics", func(t *testing.T) {
		stub := &probeStub{snap: probe.Snapshot{
			Total:      12,
			ByCategory: map[string]int{"2304": 8, "6133": 4},
			Duration:   1500 * time.Millisecond,
		}}
		server := newTestServer(t, stub, "remend-report.json")

		result, out, err := server.runProbe(ctx, nil, probeRunInput{})
		require.NoError(t, err)
		assert.Equal(t, 12, out.Total)
		assert.Equal(t, map[string]int{"2304": 8, "6133": 4}, out.ByCategory)
		assert.False(t, out.Degraded)
		assert.False(t, out.Clean)
		assert.Equal(t, int64(1500), out.DurationMS)
		assert.Contains(t, resultText(t, result), "12 diagnostics in 2 categories")
	})

	t.Run("clean tree", func(t *testing.T) {
		stub := &probeStub{snap: probe.Snapshot{Total: 0, ByCategory: map[string]int{}}}
		server := newTestServer(t, stub, "remend-report.json")

		result, out, err := server.runProbe(ctx, nil, probeRunInput{})
		require.NoError(t, err)
		assert.True(t, out.Clean)
		assert.Contains(t, resultText(t, result), "no diagnostics")
	})

	t.Run("degraded read still answers", func(t *testing.T) {
		stub := &probeStub{
			snap: probe.Snapshot{Total: 100000, ByCategory: map[string]int{}, Degraded: true},
			err:  &probe.DegradedError{Attempts: 4, Last: errors.New("exit status 1")},
		}
		server := newTestServer(t, stub, "remend-report.json")

		result, out, err := server.runProbe(ctx, nil, probeRunInput{})
		require.NoError(t, err)
		assert.True(t, out.Degraded)
		assert.Equal(t, 100000, out.Total)
		assert.Contains(t, resultText(t, result), "sentinel")
	})

	t.Run("probe failure", func(t *testing.T) {
		stub := &probeStub{err: context.DeadlineExceeded}
		server := newTestServer(t, stub, "remend-report.json")

		result, _, err := server.runProbe(ctx, nil, probeRunInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "probe failed")
		assert.Nil(t, result)
	})
}

func TestListFixers(t *testing.T) {
	server := newTestServer(t, &probeStub{}, "remend-report.json")

	result, out, err := server.listFixers(context.Background(), nil, fixersListInput{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Count)
	require.Len(t, out.Fixers, 2)

	assert.Equal(t, "unused-imports", out.Fixers[0].ID)
	assert.Equal(t, "6133", out.Fixers[0].Category)
	assert.Equal(t, 5, out.Fixers[0].PerCategoryTarget)
	assert.Equal(t, 3, out.Fixers[0].MaxAttemptsPerPass)
	assert.Equal(t, "missing-names", out.Fixers[1].ID)

	assert.Contains(t, resultText(t, result), "2 fixers in execution order")
}

func sampleArtifact() *report.Report {
	return &report.Report{
		SchemaVersion: report.SchemaVersion,
		RunID:         "run-42",
		Metadata: report.Metadata{
			WorkingDir:   "/work/app",
			Command:      []string{"tsc", "--noEmit"},
			GlobalTarget: 10,
			MaxPasses:    5,
			DurationSec:  94,
		},
		Initial: report.Measurement{Total: 120, ByCategory: map[string]int{"2304": 80, "2322": 40}},
		Final:   report.Measurement{Total: 4, ByCategory: map[string]int{"2322": 4}},
		Summary: report.Summary{
			InitialTotal: 120,
			FinalTotal:   4,
			Removed:      116,
			Passes:       3,
			Iterations:   9,
			Accepted:     7,
			Reverted:     1,
			TargetMet:    true,
			ExitCode:     0,
		},
	}
}

func TestGetReport(t *testing.T) {
	ctx := context.Background()

	t.Run("loads configured path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		require.NoError(t, report.Write(path, sampleArtifact()))
		server := newTestServer(t, &probeStub{}, path)

		result, out, err := server.getReport(ctx, nil, reportGetInput{})
		require.NoError(t, err)
		assert.Equal(t, "run-42", out.RunID)
		assert.True(t, out.TargetMet)
		assert.False(t, out.Incomplete)
		assert.Equal(t, 120, out.InitialTotal)
		assert.Equal(t, 4, out.FinalTotal)
		assert.Equal(t, 116, out.Removed)
		assert.Equal(t, 3, out.Passes)
		require.NotNil(t, out.Report)
		assert.Contains(t, resultText(t, result), "remediation run run-42")
	})

	t.Run("explicit path overrides configured path", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "elsewhere.json")
		require.NoError(t, report.Write(path, sampleArtifact()))
		server := newTestServer(t, &probeStub{}, filepath.Join(dir, "absent.json"))

		_, out, err := server.getReport(ctx, nil, reportGetInput{Path: path})
		require.NoError(t, err)
		assert.Equal(t, "run-42", out.RunID)
	})

	t.Run("missing artifact", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "absent.json")
		server := newTestServer(t, &probeStub{}, path)

		result, _, err := server.getReport(ctx, nil, reportGetInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no report found")
		assert.Nil(t, result)
	})

	t.Run("malformed artifact", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
		server := newTestServer(t, &probeStub{}, path)

		_, _, err := server.getReport(ctx, nil, reportGetInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "report load failed")
	})
}

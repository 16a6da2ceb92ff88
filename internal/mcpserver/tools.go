package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/report"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "probe_run",
		Description: "Run the configured validation command once and return its diagnostic counts",
	}, s.runProbe)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fixers_list",
		Description: "List the configured fixers in execution order with their convergence targets",
	}, s.listFixers)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "report_get",
		Description: "Load the report artifact written by the last remediation run",
	}, s.getReport)
}

// ===== PROBE TOOLS =====

type probeRunInput struct{}

type probeRunOutput struct {
	Total      int            `json:"total" jsonschema:"Diagnostic count across all categories"`
	ByCategory map[string]int `json:"by_category" jsonschema:"Diagnostic count per category code"`
	Degraded   bool           `json:"degraded" jsonschema:"True when no usable read was obtained and total is a sentinel"`
	Clean      bool           `json:"clean" jsonschema:"True when the validation command exited with no diagnostics"`
	DurationMS int64          `json:"duration_ms" jsonschema:"Probe wall time in milliseconds"`
}

func (s *Server) runProbe(ctx context.Context, req *mcp.CallToolRequest, args probeRunInput) (*mcp.CallToolResult, probeRunOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "probe_run")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "probe_run")
		s.metrics.RecordInvocation(ctx, "probe_run", time.Since(start), toolErr)
	}()

	snap, err := s.probes.Probe(ctx)
	if err != nil && !errors.Is(err, probe.ErrDegraded) {
		toolErr = fmt.Errorf("probe failed: %w", err)
		return nil, probeRunOutput{}, toolErr
	}

	out := probeRunOutput{
		Total:      snap.Total,
		ByCategory: snap.ByCategory,
		Degraded:   snap.Degraded,
		Clean:      snap.Clean(),
		DurationMS: snap.Duration.Milliseconds(),
	}

	var text string
	switch {
	case snap.Degraded:
		text = fmt.Sprintf("Probe degraded: no usable read, total %d is a sentinel", snap.Total)
	case snap.Clean():
		text = "Validation passed with no diagnostics"
	default:
		text = fmt.Sprintf("Found %d diagnostics in %d categories", snap.Total, len(snap.ByCategory))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, out, nil
}

// ===== FIXER TOOLS =====

type fixersListInput struct{}

type fixerEntry struct {
	ID                 string `json:"id" jsonschema:"Fixer identifier"`
	Category           string `json:"category" jsonschema:"Diagnostic code the fixer works on"`
	PerCategoryTarget  int    `json:"per_category_target" jsonschema:"Count below which the category is converged and the fixer is skipped"`
	MaxAttemptsPerPass int    `json:"max_attempts_per_pass" jsonschema:"Invocation bound per pass"`
}

type fixersListOutput struct {
	Fixers []fixerEntry `json:"fixers" jsonschema:"Fixers in execution order"`
	Count  int          `json:"count" jsonschema:"Number of configured fixers"`
}

func (s *Server) listFixers(ctx context.Context, req *mcp.CallToolRequest, args fixersListInput) (*mcp.CallToolResult, fixersListOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "fixers_list")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "fixers_list")
		s.metrics.RecordInvocation(ctx, "fixers_list", time.Since(start), toolErr)
	}()

	descs := s.fixers.Ordered()
	entries := make([]fixerEntry, 0, len(descs))
	for _, d := range descs {
		entries = append(entries, fixerEntry{
			ID:                 d.ID,
			Category:           d.TargetCategory,
			PerCategoryTarget:  d.PerCategoryTarget,
			MaxAttemptsPerPass: d.MaxAttemptsPerPass,
		})
	}

	out := fixersListOutput{
		Fixers: entries,
		Count:  len(entries),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d fixers in execution order", out.Count)},
		},
	}, out, nil
}

// ===== REPORT TOOLS =====

type reportGetInput struct {
	Path string `json:"path,omitempty" jsonschema:"Report artifact path (default: the configured report path)"`
}

type reportGetOutput struct {
	RunID        string         `json:"run_id" jsonschema:"Run identifier"`
	TargetMet    bool           `json:"target_met" jsonschema:"True when the final total ended below the global target"`
	Incomplete   bool           `json:"incomplete" jsonschema:"True when the run ended abnormally"`
	InitialTotal int            `json:"initial_total" jsonschema:"Diagnostic count before the run"`
	FinalTotal   int            `json:"final_total" jsonschema:"Diagnostic count after the run"`
	Removed      int            `json:"removed" jsonschema:"Diagnostics removed over the run"`
	Passes       int            `json:"passes" jsonschema:"Passes executed"`
	ExitCode     int            `json:"exit_code" jsonschema:"Recorded process exit code"`
	Report       *report.Report `json:"report" jsonschema:"Full report artifact"`
}

func (s *Server) getReport(ctx context.Context, req *mcp.CallToolRequest, args reportGetInput) (*mcp.CallToolResult, reportGetOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "report_get")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "report_get")
		s.metrics.RecordInvocation(ctx, "report_get", time.Since(start), toolErr)
	}()

	path := args.Path
	if path == "" {
		path = s.reportPath
	}

	rep, err := report.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			toolErr = fmt.Errorf("no report found at %s", path)
		} else {
			toolErr = fmt.Errorf("report load failed: %w", err)
		}
		return nil, reportGetOutput{}, toolErr
	}

	out := reportGetOutput{
		RunID:        rep.RunID,
		TargetMet:    rep.Summary.TargetMet,
		Incomplete:   rep.Incomplete,
		InitialTotal: rep.Summary.InitialTotal,
		FinalTotal:   rep.Summary.FinalTotal,
		Removed:      rep.Summary.Removed,
		Passes:       rep.Summary.Passes,
		ExitCode:     rep.Summary.ExitCode,
		Report:       rep,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: report.Render(rep)},
		},
	}, out, nil
}

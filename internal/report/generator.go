package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Redactor scrubs secrets from free-form text before it enters the
// artifact. A nil redactor passes text through unchanged.
type Redactor interface {
	Redact(in string) string
}

// FixerSpec is the slice of a fixer's configuration the report needs to
// compute per-fixer summaries.
type FixerSpec struct {
	ID                string
	Category          string
	PerCategoryTarget int
}

// Config describes the run being reported on.
type Config struct {
	WorkingDir         string
	Command            []string
	GlobalTarget       int
	MaxAllowedIncrease int
	MaxPasses          int
	DryRun             bool
	Version            string
	Fixers             []FixerSpec
	Redactor           Redactor
}

// Generator accumulates run events and produces the final report. Safe for
// concurrent use; an abort handler may snapshot while the run records.
type Generator struct {
	mu         sync.Mutex
	runID      string
	cfg        Config
	startedAt  time.Time
	initial    *Measurement
	iterations []Iteration
	passes     []PassSummary
	warnings   []string
	finalized  bool
	logger     *zap.Logger
}

// NewGenerator starts an empty report for one run.
func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		runID:     uuid.NewString(),
		cfg:       cfg,
		startedAt: time.Now().UTC(),
		logger:    logger.Named("report"),
	}
}

// RunID identifies this run in artifacts, events, and history.
func (g *Generator) RunID() string { return g.runID }

// RecordInitial stores the baseline measurement so aborted runs still carry
// it in their artifact.
func (g *Generator) RecordInitial(m Measurement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initial = &m
}

// RecordIteration appends one fixer attempt.
func (g *Generator) RecordIteration(it Iteration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	it.Delta = it.AfterTotal - it.BeforeTotal
	it.Error = g.redact(it.Error)
	if it.At.IsZero() {
		it.At = time.Now().UTC()
	}
	g.iterations = append(g.iterations, it)
}

// RecordPass appends one pass summary.
func (g *Generator) RecordPass(p PassSummary) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.passes = append(g.passes, p)
}

// Warn appends a run-level warning to the artifact.
func (g *Generator) Warn(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.warnings = append(g.warnings, g.redact(msg))
}

// Finalize seals the report with the baseline and final measurements.
func (g *Generator) Finalize(initial, final Measurement) *Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initial = &initial
	g.finalized = true
	return g.build(&final, false)
}

// Snapshot renders the report from whatever has been recorded so far.
// Reports from an unfinalized generator are marked incomplete.
func (g *Generator) Snapshot() *Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		// A finalized generator snapshots to the same verdict.
		final := g.lastKnown()
		return g.build(&final, false)
	}
	return g.build(nil, true)
}

func (g *Generator) redact(s string) string {
	if s == "" || g.cfg.Redactor == nil {
		return s
	}
	return g.cfg.Redactor.Redact(s)
}

// lastKnown reconstructs the most recent measurement from recorded
// iterations, falling back to the baseline.
func (g *Generator) lastKnown() Measurement {
	if n := len(g.iterations); n > 0 {
		last := g.iterations[n-1]
		total := last.AfterTotal
		if last.Reverted {
			total = last.BeforeTotal
		}
		return Measurement{Total: total, ObservedAt: last.At}
	}
	if g.initial != nil {
		return *g.initial
	}
	return Measurement{}
}

func (g *Generator) build(final *Measurement, incomplete bool) *Report {
	r := &Report{
		SchemaVersion: SchemaVersion,
		RunID:         g.runID,
		Incomplete:    incomplete,
	}
	if g.initial != nil {
		r.Initial = *g.initial
	}
	if final == nil {
		m := g.lastKnown()
		final = &m
	}
	r.Final = *final

	r.Iterations = make([]Iteration, len(g.iterations))
	copy(r.Iterations, g.iterations)
	r.Passes = make([]PassSummary, len(g.passes))
	copy(r.Passes, g.passes)
	r.Warnings = append([]string(nil), g.warnings...)

	r.Fixers = g.fixerSummaries(final)

	accepted, reverted := 0, 0
	for _, it := range g.iterations {
		if it.Reverted {
			reverted++
		} else {
			accepted++
		}
	}
	targetMet := final.Total < g.cfg.GlobalTarget
	exitCode := 1
	if targetMet {
		exitCode = 0
	}
	r.Summary = Summary{
		InitialTotal: r.Initial.Total,
		FinalTotal:   final.Total,
		Removed:      r.Initial.Total - final.Total,
		Passes:       len(g.passes),
		Iterations:   len(g.iterations),
		Accepted:     accepted,
		Reverted:     reverted,
		TargetMet:    targetMet,
		ExitCode:     exitCode,
	}

	finished := time.Now().UTC()
	r.Metadata = Metadata{
		WorkingDir:         g.cfg.WorkingDir,
		Command:            append([]string(nil), g.cfg.Command...),
		GlobalTarget:       g.cfg.GlobalTarget,
		MaxAllowedIncrease: g.cfg.MaxAllowedIncrease,
		MaxPasses:          g.cfg.MaxPasses,
		DryRun:             g.cfg.DryRun,
		Version:            g.cfg.Version,
		StartedAt:          g.startedAt,
		FinishedAt:         finished,
		DurationSec:        int64(finished.Sub(g.startedAt) / time.Second),
	}
	return r
}

func (g *Generator) fixerSummaries(final *Measurement) []FixerSummary {
	byID := make(map[string]*FixerSummary, len(g.cfg.Fixers))
	order := make([]string, 0, len(g.cfg.Fixers))
	for _, spec := range g.cfg.Fixers {
		byID[spec.ID] = &FixerSummary{FixerID: spec.ID, Category: spec.Category}
		order = append(order, spec.ID)
		if final != nil && final.ByCategory != nil {
			byID[spec.ID].TargetMet = final.ByCategory[spec.Category] < spec.PerCategoryTarget
		}
	}

	for _, it := range g.iterations {
		s, ok := byID[it.FixerID]
		if !ok {
			// Iteration for a fixer missing from config; keep it visible.
			s = &FixerSummary{FixerID: it.FixerID, Category: it.Category}
			byID[it.FixerID] = s
			order = append(order, it.FixerID)
		}
		s.Attempts++
		if it.Reverted {
			s.Reverted++
		} else {
			s.Accepted++
			s.CategoryFixed += it.BeforeInCategory - it.AfterInCategory
		}
	}

	out := make([]FixerSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// Write persists the report atomically.
func Write(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("report: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("report: rename to %s: %w", path, err)
	}
	return nil
}

// Load reads a previously written artifact.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: parse %s: %w", path, err)
	}
	return &r, nil
}

package report

import "time"

// SchemaVersion identifies the JSON artifact layout.
const SchemaVersion = "1.0.0"

// Measurement is a point-in-time diagnostic count, decoupled from the probe
// so the artifact schema stays stable.
type Measurement struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Iteration records one fixer attempt: the measurement before, the
// measurement after, and whether the attempt was kept.
type Iteration struct {
	Pass             int           `json:"pass"`
	FixerID          string        `json:"fixer_id"`
	Category         string        `json:"category"`
	Attempt          int           `json:"attempt"`
	BeforeTotal      int           `json:"before_total"`
	AfterTotal       int           `json:"after_total"`
	BeforeInCategory int           `json:"before_in_category"`
	AfterInCategory  int           `json:"after_in_category"`
	Delta            int           `json:"delta"`
	Reverted         bool          `json:"reverted"`
	ExitCode         int           `json:"exit_code"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
	At               time.Time     `json:"at"`
}

// PassSummary aggregates one pass over the fixer sequence.
type PassSummary struct {
	Number     int           `json:"number"`
	StartTotal int           `json:"start_total"`
	EndTotal   int           `json:"end_total"`
	Accepted   int           `json:"accepted"`
	Reverted   int           `json:"reverted"`
	Duration   time.Duration `json:"duration_ns"`
}

// FixerSummary aggregates every attempt of a single fixer across passes.
type FixerSummary struct {
	FixerID       string `json:"fixer_id"`
	Category      string `json:"category"`
	Attempts      int    `json:"attempts"`
	Accepted      int    `json:"accepted"`
	Reverted      int    `json:"reverted"`
	CategoryFixed int    `json:"category_fixed"`
	TargetMet     bool   `json:"target_met"`
}

// Summary carries the run verdict.
type Summary struct {
	InitialTotal int  `json:"initial_total"`
	FinalTotal   int  `json:"final_total"`
	Removed      int  `json:"removed"`
	Passes       int  `json:"passes"`
	Iterations   int  `json:"iterations"`
	Accepted     int  `json:"accepted"`
	Reverted     int  `json:"reverted"`
	TargetMet    bool `json:"target_met"`
	ExitCode     int  `json:"exit_code"`
}

// Metadata captures the run configuration for the artifact.
type Metadata struct {
	WorkingDir         string    `json:"working_dir"`
	Command            []string  `json:"command"`
	GlobalTarget       int       `json:"global_target"`
	MaxAllowedIncrease int       `json:"max_allowed_increase"`
	MaxPasses          int       `json:"max_passes"`
	DryRun             bool      `json:"dry_run,omitempty"`
	Version            string    `json:"version,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	DurationSec        int64     `json:"duration_seconds"`
}

// Report is the top-level schema for the run artifact.
type Report struct {
	SchemaVersion string         `json:"schema_version"`
	RunID         string         `json:"run_id"`
	Metadata      Metadata       `json:"metadata"`
	Initial       Measurement    `json:"initial"`
	Final         Measurement    `json:"final"`
	Passes        []PassSummary  `json:"passes"`
	Iterations    []Iteration    `json:"iterations"`
	Fixers        []FixerSummary `json:"fixers"`
	Summary       Summary        `json:"summary"`
	Warnings      []string       `json:"warnings,omitempty"`
	Incomplete    bool           `json:"incomplete,omitempty"`
}

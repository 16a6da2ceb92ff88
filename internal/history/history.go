package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/remendlabs/remend/internal/report"
)

const instrumentationName = "github.com/remendlabs/remend/internal/history"

var tracer = otel.Tracer(instrumentationName)

var (
	// ErrInvalidConfig indicates a store configuration problem.
	ErrInvalidConfig = errors.New("history: invalid configuration")

	// ErrConnectionFailed indicates the backing database is unreachable.
	ErrConnectionFailed = errors.New("history: connection failed")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("history: embedding failed")
)

const (
	defaultListLimit   = 20
	defaultSearchLimit = 5
)

// Entry is one finished run as stored in history.
type Entry struct {
	RunID        string    `json:"run_id"`
	Project      string    `json:"project"`
	Command      string    `json:"command"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Passes       int       `json:"passes"`
	InitialTotal int       `json:"initial_total"`
	FinalTotal   int       `json:"final_total"`
	Removed      int       `json:"removed"`
	TargetMet    bool      `json:"target_met"`
	ExitCode     int       `json:"exit_code"`
	Reason       string    `json:"reason,omitempty"`
	Incomplete   bool      `json:"incomplete,omitempty"`
	Categories   []string  `json:"categories,omitempty"`
	Fixers       []string  `json:"fixers,omitempty"`
	Warnings     int       `json:"warnings,omitempty"`
}

// SearchHit is an Entry with its similarity score.
type SearchHit struct {
	Entry Entry
	Score float32
}

// Store persists run entries and answers list/search queries.
type Store interface {
	// Save stores one entry, overwriting any previous entry with the
	// same run ID.
	Save(ctx context.Context, entry Entry) error

	// List returns the most recent entries, newest first. A non-positive
	// limit selects a default.
	List(ctx context.Context, limit int) ([]Entry, error)

	// Search returns entries ranked by similarity to the query.
	// A non-positive limit selects a default.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)

	// Close releases the underlying database.
	Close() error
}

// FromReport converts a run report into a history entry. The stop reason
// comes from the orchestrator result, which the report does not carry.
func FromReport(r *report.Report, reason string) Entry {
	entry := Entry{
		RunID:        r.RunID,
		Project:      r.Metadata.WorkingDir,
		Command:      strings.Join(r.Metadata.Command, " "),
		StartedAt:    r.Metadata.StartedAt,
		FinishedAt:   r.Metadata.FinishedAt,
		Passes:       r.Summary.Passes,
		InitialTotal: r.Summary.InitialTotal,
		FinalTotal:   r.Summary.FinalTotal,
		Removed:      r.Summary.Removed,
		TargetMet:    r.Summary.TargetMet,
		ExitCode:     r.Summary.ExitCode,
		Reason:       reason,
		Incomplete:   r.Incomplete,
		Warnings:     len(r.Warnings),
	}

	for category := range r.Initial.ByCategory {
		entry.Categories = append(entry.Categories, category)
	}
	sort.Strings(entry.Categories)

	for _, f := range r.Fixers {
		entry.Fixers = append(entry.Fixers, f.FixerID)
	}

	return entry
}

// summaryText renders the searchable document content for an entry.
func summaryText(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "remediation run %s on %s", e.RunID, e.Project)
	if e.Command != "" {
		fmt.Fprintf(&b, " validated by %s", e.Command)
	}
	fmt.Fprintf(&b, ": %d to %d diagnostics over %d passes", e.InitialTotal, e.FinalTotal, e.Passes)
	if e.TargetMet {
		b.WriteString(", target met")
	} else {
		b.WriteString(", target missed")
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ", stopped by %s", e.Reason)
	}
	if len(e.Categories) > 0 {
		fmt.Fprintf(&b, "; categories %s", strings.Join(e.Categories, " "))
	}
	if len(e.Fixers) > 0 {
		fmt.Fprintf(&b, "; fixers %s", strings.Join(e.Fixers, " "))
	}
	if e.Incomplete {
		b.WriteString("; incomplete")
	}
	return b.String()
}

// encodeEntry serializes the full entry for the document payload.
func encodeEntry(e Entry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding history entry: %w", err)
	}
	return string(data), nil
}

// decodeEntry restores an entry from its payload serialization.
func decodeEntry(data string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Entry{}, fmt.Errorf("decoding history entry: %w", err)
	}
	return e, nil
}

// sortNewestFirst orders entries by finish time, newest first.
func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FinishedAt.After(entries[j].FinishedAt)
	})
}

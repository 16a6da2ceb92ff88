package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/remendlabs/remend/internal/execx"
	"github.com/remendlabs/remend/internal/probe"
)

var probeJSON bool

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output the snapshot as JSON")
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the validation command once and report diagnostic counts",
	Long: `Run the validation command once, parse its diagnostics, and print the
total and per-category counts. No fixers run and the tree is untouched.

A degraded probe (the command produced no parseable output within the
retry budget) prints the sentinel total and exits nonzero.

Examples:
  # Table output
  remend probe

  # Machine-readable output
  remend probe --json`,
	RunE: runProbe,
}

// probeSnapshot is the JSON shape of one probe result.
type probeSnapshot struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
	DurationMS int64          `json:"duration_ms"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	probes, err := a.probeService(execx.NewRunner())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	snap, err := probes.Probe(ctx)
	if err != nil && !errors.Is(err, probe.ErrDegraded) {
		return fmt.Errorf("probe failed: %w", err)
	}

	if probeJSON {
		if err := outputJSON(probeSnapshot{
			Total:      snap.Total,
			ByCategory: snap.ByCategory,
			Degraded:   snap.Degraded,
			ObservedAt: snap.ObservedAt,
			DurationMS: snap.Duration.Milliseconds(),
		}); err != nil {
			return err
		}
	} else {
		fmt.Print(formatProbe(snap))
	}

	if snap.Degraded {
		return fmt.Errorf("probe degraded: no usable read, total %d is a sentinel", snap.Total)
	}
	return nil
}

// formatProbe renders one snapshot as the table the probe command prints.
func formatProbe(snap probe.Snapshot) string {
	var b strings.Builder

	switch {
	case snap.Degraded:
		fmt.Fprintf(&b, "degraded: validation command could not be read, sentinel total %d (%s)\n",
			snap.Total, formatElapsed(snap.Duration))
	case snap.Clean():
		fmt.Fprintf(&b, "validation passed: no diagnostics (%s)\n", formatElapsed(snap.Duration))
	default:
		fmt.Fprintf(&b, "diagnostics: %d in %d categories (%s)\n",
			snap.Total, len(snap.ByCategory), formatElapsed(snap.Duration))
	}

	codes := make([]string, 0, len(snap.ByCategory))
	for c := range snap.ByCategory {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(&b, "  %-10s %d\n", c, snap.ByCategory[c])
	}
	return b.String()
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int64(d.Minutes())
	s := int64(d.Seconds()) - m*60
	return fmt.Sprintf("%dm %ds", m, s)
}

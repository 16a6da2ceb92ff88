package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Render produces the human-readable form of a report.
func Render(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "remediation run %s\n", r.RunID)
	if r.Incomplete {
		b.WriteString("  INCOMPLETE: run was aborted before finishing\n")
	}
	fmt.Fprintf(&b, "  working dir: %s\n", r.Metadata.WorkingDir)
	fmt.Fprintf(&b, "  validation:  %s\n", strings.Join(r.Metadata.Command, " "))
	fmt.Fprintf(&b, "  duration:    %s\n", formatSeconds(r.Metadata.DurationSec))
	if r.Metadata.DryRun {
		b.WriteString("  mode:        dry-run (no fixers invoked)\n")
	}
	b.WriteString("\n")

	verdict := "NOT met"
	if r.Summary.TargetMet {
		verdict = "met"
	}
	fmt.Fprintf(&b, "diagnostics: %d -> %d (%s), target <%d %s\n",
		r.Summary.InitialTotal, r.Summary.FinalTotal,
		formatDelta(-r.Summary.Removed), r.Metadata.GlobalTarget, verdict)
	if r.Initial.Degraded || r.Final.Degraded {
		b.WriteString("  warning: at least one measurement is a degraded sentinel\n")
	}
	writeCategories(&b, r.Initial.ByCategory, r.Final.ByCategory)
	b.WriteString("\n")

	if len(r.Passes) > 0 {
		b.WriteString("passes:\n")
		for _, p := range r.Passes {
			fmt.Fprintf(&b, "  #%d  %d -> %d  accepted %d  reverted %d  (%s)\n",
				p.Number, p.StartTotal, p.EndTotal, p.Accepted, p.Reverted,
				formatDuration(p.Duration))
		}
		b.WriteString("\n")
	}

	if len(r.Fixers) > 0 {
		b.WriteString("fixers:\n")
		for _, f := range r.Fixers {
			met := ""
			if f.TargetMet {
				met = "  target met"
			}
			fmt.Fprintf(&b, "  %-20s %-10s attempts %d  accepted %d  reverted %d  category %s%s\n",
				f.FixerID, f.Category, f.Attempts, f.Accepted, f.Reverted,
				formatDelta(-f.CategoryFixed), met)
		}
		b.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		b.WriteString("warnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "iterations: %d (%d accepted, %d reverted), exit code %d\n",
		r.Summary.Iterations, r.Summary.Accepted, r.Summary.Reverted, r.Summary.ExitCode)
	return b.String()
}

// writeCategories lists categories present in either measurement, sorted by
// code so output is stable.
func writeCategories(b *strings.Builder, initial, final map[string]int) {
	if len(initial) == 0 && len(final) == 0 {
		return
	}
	codes := make(map[string]struct{}, len(initial)+len(final))
	for c := range initial {
		codes[c] = struct{}{}
	}
	for c := range final {
		codes[c] = struct{}{}
	}
	sorted := make([]string, 0, len(codes))
	for c := range codes {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)
	for _, c := range sorted {
		fmt.Fprintf(b, "  %-10s %d -> %d\n", c, initial[c], final[c])
	}
}

// formatDelta renders a signed diagnostic count change, "+3" or "-42".
func formatDelta(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("+%d", delta)
	}
	return fmt.Sprintf("%d", delta)
}

// formatDuration formats a duration as "X.Xs" below a minute, "Xm Ys"
// above.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int64(d.Minutes())
	s := int64(d.Seconds()) - m*60
	return fmt.Sprintf("%dm %ds", m, s)
}

func formatSeconds(seconds int64) string {
	return formatDuration(time.Duration(seconds) * time.Second)
}

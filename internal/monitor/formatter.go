package monitor

import (
	"fmt"
	"strings"

	"github.com/remendlabs/remend/internal/orchestrator"
)

// FormatPercentage renders a 0 to 1 ratio as a percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration renders whole seconds as "45s", "2m 15s", or "2h 15m"
func FormatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds%60)
}

// FormatDelta formats a diagnostic count change with an explicit sign
func FormatDelta(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("+%d", delta)
	}
	return fmt.Sprintf("%d", delta)
}

// FormatState renders a run state like "fixer_running" as "FIXER RUNNING"
func FormatState(state orchestrator.State) string {
	return strings.ToUpper(strings.ReplaceAll(string(state), "_", " "))
}

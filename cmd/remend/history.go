package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/remendlabs/remend/internal/history"
)

var (
	// history command flags
	historyLimit int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historySearchCmd)

	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 0, "maximum entries to return (0 uses the store default)")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "output entries as JSON")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse past remediation runs",
	Long: `Browse the run history store. Every finished run is recorded with its
diagnostic counts, pass count, and verdict; search ranks runs by
similarity to a free-text query.

Examples:
  # Most recent runs
  remend history list

  # Runs that look like a query
  remend history search "degraded probe on tsc"`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Long: `List recent runs, newest first.

Examples:
  # Default page
  remend history list

  # More entries, machine-readable
  remend history list --limit 50 --json`,
	RunE: runHistoryList,
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search runs by similarity to a query",
	Long: `Search past runs ranked by similarity to a free-text query. The query is
matched against a summary of each run (counts, verdict, stop reason,
categories, fixers).

Examples:
  # Find runs that missed their target
  remend history search "target missed"

  # Find runs touching a diagnostic category
  remend history search "2304 missing names"`,
	Args: cobra.ExactArgs(1),
	RunE: runHistorySearch,
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := history.New(a.historyConfig(), a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	entries, err := store.List(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if historyJSON {
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tFINISHED\tDIAGNOSTICS\tPASSES\tVERDICT\tREASON")
	for _, e := range entries {
		fmt.Fprintln(w, historyRow(e))
	}
	return w.Flush()
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := history.New(a.historyConfig(), a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	hits, err := store.Search(ctx, args[0], historyLimit)
	if err != nil {
		return fmt.Errorf("failed to search history: %w", err)
	}

	if historyJSON {
		return outputJSON(hits)
	}
	if len(hits) == 0 {
		fmt.Println("No matching runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tRUN\tFINISHED\tDIAGNOSTICS\tPASSES\tVERDICT\tREASON")
	for _, h := range hits {
		fmt.Fprintf(w, "%.2f\t%s\n", h.Score, historyRow(h.Entry))
	}
	return w.Flush()
}

// historyRow renders one entry as tab-separated row cells.
func historyRow(e history.Entry) string {
	verdict := "missed"
	if e.TargetMet {
		verdict = "met"
	}
	if e.Incomplete {
		verdict += " (incomplete)"
	}
	return fmt.Sprintf("%s\t%s\t%d -> %d\t%d\t%s\t%s",
		shortID(e.RunID),
		e.FinishedAt.Format("2006-01-02 15:04"),
		e.InitialTotal,
		e.FinalTotal,
		e.Passes,
		verdict,
		e.Reason,
	)
}

// shortID trims a UUID run ID to its first block for table output.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

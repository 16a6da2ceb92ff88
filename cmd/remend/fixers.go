package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var fixersJSON bool

func init() {
	rootCmd.AddCommand(fixersCmd)
	fixersCmd.Flags().BoolVar(&fixersJSON, "json", false, "output the fixer list as JSON")
}

var fixersCmd = &cobra.Command{
	Use:   "fixers",
	Short: "List configured fixers in execution order",
	Long: `List the configured fixers in the order the remediation loop runs them.

A fixer is skipped in a pass once its category count is already below its
per-category target; a target of 0 means the fixer always runs.

Examples:
  # Table output
  remend fixers

  # Machine-readable output
  remend fixers --json`,
	RunE: runFixers,
}

// fixerListing is the JSON shape of one configured fixer.
type fixerListing struct {
	ID                 string   `json:"id"`
	Category           string   `json:"category"`
	Command            []string `json:"command"`
	PerCategoryTarget  int      `json:"per_category_target"`
	MaxAttemptsPerPass int      `json:"max_attempts_per_pass"`
	Timeout            string   `json:"timeout"`
}

func runFixers(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.Fixers) == 0 {
		fmt.Println("No fixers configured")
		return nil
	}

	if fixersJSON {
		listings := make([]fixerListing, 0, len(a.cfg.Fixers))
		for _, f := range a.cfg.Fixers {
			listings = append(listings, fixerListing{
				ID:                 f.ID,
				Category:           f.Category,
				Command:            f.Command,
				PerCategoryTarget:  f.PerCategoryTarget,
				MaxAttemptsPerPass: f.MaxAttemptsPerPass,
				Timeout:            f.Timeout.String(),
			})
		}
		return outputJSON(listings)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tTARGET\tMAX/PASS\tTIMEOUT\tCOMMAND")
	for _, f := range a.cfg.Fixers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			f.ID,
			f.Category,
			f.PerCategoryTarget,
			f.MaxAttemptsPerPass,
			formatTimeout(f.Timeout),
			strings.Join(f.Command, " "),
		)
	}
	return w.Flush()
}

func formatTimeout(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}

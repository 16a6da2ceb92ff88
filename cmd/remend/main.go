// Remend drives an iterative remediation loop: it runs a project's
// validation command, counts the diagnostics it reports, and invokes
// configured fixer commands one at a time until the total drops below a
// target. Every fixer attempt is measured against a fresh probe and
// rolled back from a working-tree checkpoint when it makes things worse.
//
// Configuration comes from remend.yaml (or REMEND_* environment
// variables); the run writes a JSON report artifact and an optional
// history entry. See `remend --help` for the command surface.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// cfgFile is the explicit config path from --config. Empty triggers
// discovery (remend.yaml, .remend.yaml, ~/.config/remend/config.yaml).
var (
	cfgFile    string
	logLevel   string
	workingDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "remend",
	Short: "Iterative diagnostic remediation for projects with a validation command",
	Long: `remend runs a validation command (a compiler, a linter, a type checker),
parses its diagnostics, and drives configured fixer commands against the
tree until the diagnostic count drops below a target.

Each fixer attempt is bracketed by a working-tree checkpoint and a fresh
probe: attempts that raise the count past the allowed increase are rolled
back file by file. The run ends with a JSON report artifact and exits 0
only when the final count is below the target.

Examples:
  # Remediate using ./remend.yaml
  remend run

  # One probe, no fixers
  remend probe --json

  # Render the last run's report
  remend report show`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: remend.yaml, .remend.yaml, ~/.config/remend/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&workingDir, "working-dir", "", "override the project root")
}

// exitCodeError carries a specific process exit code out of a RunE
// function. Cobra prints the message; main exits with the code.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/checkpoint"
	"github.com/remendlabs/remend/internal/events"
	"github.com/remendlabs/remend/internal/execx"
	"github.com/remendlabs/remend/internal/history"
	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/report"
	"github.com/remendlabs/remend/internal/status"
)

var (
	// run command flags
	runTarget      int
	runMaxIncrease int
	runMaxPasses   int
	runDryRun      bool
	runReportPath  string
	runStatusAddr  string
	runNoHistory   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&runTarget, "target", 0, "stop once the diagnostic total is below this")
	runCmd.Flags().IntVar(&runMaxIncrease, "max-increase", 0, "largest total increase an attempt may cause and be kept")
	runCmd.Flags().IntVar(&runMaxPasses, "max-passes", 0, "bound on full walks over the fixer list")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "probe and evaluate but skip fixer invocations")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "report artifact path (overrides report.path)")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "serve live progress on this address (enables the status server)")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "skip recording this run in history")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the remediation loop until the target is met",
	Long: `Run the remediation loop: probe, invoke each configured fixer in order,
measure the delta, and keep or revert each attempt. The loop stops when
the total drops below the target, when a pass makes no progress, or when
the pass budget runs out.

The run writes a JSON report artifact and exits 0 only when the final
diagnostic total is below the target.

Examples:
  # Remediate with the configured thresholds
  remend run

  # Tighter target for one run, keep the tree untouched
  remend run --target 0 --dry-run

  # Watch progress from another terminal
  remend run --status-addr 127.0.0.1:7177
  remend monitor`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	applyRunFlags(cmd, a)

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	orch, err := buildRun(a)
	if err != nil {
		return err
	}

	a.logger.Info("starting remediation run",
		zap.Strings("command", a.cfg.Validation.Command),
		zap.Int("fixers", len(a.cfg.Fixers)),
		zap.Int("global_target", a.cfg.Run.GlobalTarget),
		zap.Int("max_passes", a.cfg.Run.MaxPasses),
		zap.Bool("dry_run", a.cfg.Run.DryRun))

	var pub *events.Publisher
	if a.cfg.Events.Enabled {
		pub, err = events.Connect(events.Config{
			URL:           a.cfg.Events.URL,
			SubjectPrefix: a.cfg.Events.SubjectPrefix,
		}, a.logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		orch.OnEvent(pub.Observer())
	}

	var statusSrv *status.Server
	if a.cfg.Status.Enabled {
		statusSrv, err = startStatusServer(a, orch)
		if err != nil {
			return err
		}
		defer stopStatusServer(a, statusSrv)
	}

	result, runErr := orch.Run(ctx)

	rep := result.Report
	if rep != nil {
		finishRun(a, statusSrv, rep, string(result.Reason))
		fmt.Print(report.Render(rep))
	}

	if runErr != nil {
		return runErr
	}
	if rep != nil && rep.Summary.ExitCode != 0 {
		return &exitCodeError{
			code: rep.Summary.ExitCode,
			msg: fmt.Sprintf("target not met: %d diagnostics remain (target %d)",
				rep.Summary.FinalTotal, a.cfg.Run.GlobalTarget),
		}
	}
	return nil
}

// applyRunFlags folds explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, a *app) {
	flags := cmd.Flags()
	if flags.Changed("target") {
		a.cfg.Run.GlobalTarget = runTarget
	}
	if flags.Changed("max-increase") {
		a.cfg.Run.MaxAllowedIncrease = runMaxIncrease
	}
	if flags.Changed("max-passes") {
		a.cfg.Run.MaxPasses = runMaxPasses
	}
	if flags.Changed("dry-run") {
		a.cfg.Run.DryRun = runDryRun
	}
	if flags.Changed("report") {
		a.cfg.Report.Path = runReportPath
	}
	if flags.Changed("status-addr") {
		a.cfg.Status.Enabled = true
		a.cfg.Status.Addr = runStatusAddr
	}
}

// buildRun wires one orchestrator from the config: prober, checkpoints,
// fixer registry, redactor, and report generator.
func buildRun(a *app) (orchestrator.Service, error) {
	runner := execx.NewRunner()

	probes, err := a.probeService(runner)
	if err != nil {
		return nil, err
	}
	tree, err := checkpoint.NewManager(a.cfg.Project.Root, a.logger)
	if err != nil {
		return nil, err
	}
	fixers, err := a.fixerRegistry(runner)
	if err != nil {
		return nil, err
	}
	red, err := a.redactor()
	if err != nil {
		return nil, err
	}

	return orchestrator.NewService(&orchestrator.Config{
		WorkingDir:         a.cfg.Project.Root,
		GlobalTarget:       a.cfg.Run.GlobalTarget,
		MaxAllowedIncrease: a.cfg.Run.MaxAllowedIncrease,
		MaxPasses:          a.cfg.Run.MaxPasses,
		DryRun:             a.cfg.Run.DryRun,
	}, probes, tree, fixers, a.reportGenerator(red), a.logger)
}

// finishRun persists the run outcome: the report artifact, the status
// server's /report endpoint, and the history entry. Failures here are
// logged, never fatal; the run itself already finished.
func finishRun(a *app, statusSrv *status.Server, rep *report.Report, reason string) {
	path := a.reportPath()
	if err := writeReport(path, rep); err != nil {
		a.logger.Warn("failed to write report artifact", zap.String("path", path), zap.Error(err))
	} else {
		a.logger.Info("report written", zap.String("path", path))
	}

	if statusSrv != nil {
		statusSrv.SetReport(rep)
	}

	if a.cfg.History.Enabled && !runNoHistory {
		saveHistory(a, rep, reason)
	}
}

// saveHistory records the finished run. It uses a fresh context: the run
// context is already cancelled when the run was aborted, and an aborted
// run is still worth remembering.
func saveHistory(a *app, rep *report.Report, reason string) {
	store, err := history.New(a.historyConfig(), a.logger)
	if err != nil {
		a.logger.Warn("history store unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := store.Save(ctx, history.FromReport(rep, reason)); err != nil {
		a.logger.Warn("failed to record run in history", zap.String("run_id", rep.RunID), zap.Error(err))
		return
	}
	a.logger.Debug("run recorded in history", zap.String("run_id", rep.RunID))
}

// startStatusServer brings up the progress endpoint for this run.
func startStatusServer(a *app, views status.ViewProvider) (*status.Server, error) {
	srv, err := status.NewServer(a.logger, &status.Config{Addr: a.cfg.Status.Addr})
	if err != nil {
		return nil, err
	}
	if views != nil {
		srv.SetViews(views)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return srv, nil
}

func stopStatusServer(a *app, srv *status.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("status server shutdown failed", zap.Error(err))
	}
}

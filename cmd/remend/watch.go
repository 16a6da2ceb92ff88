package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/checkpoint"
	"github.com/remendlabs/remend/internal/execx"
	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/registry"
	"github.com/remendlabs/remend/internal/report"
	"github.com/remendlabs/remend/internal/status"
	"github.com/remendlabs/remend/internal/watch"
)

var (
	// watch command flags
	watchFix        bool
	watchStatusAddr string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchFix, "fix", false, "run full remediation on each change instead of a probe")
	watchCmd.Flags().StringVar(&watchStatusAddr, "status-addr", "", "serve live progress on this address (enables the status server)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-probe on file changes and print diagnostic deltas",
	Long: `Watch the project tree and re-run the validation probe whenever changes
settle, printing the diagnostic delta against the previous probe. Bursts
of events are debounced and a rate limiter enforces a minimum interval
between probes.

With --fix each settled change triggers a full remediation run instead:
fixers are invoked, the report artifact is rewritten, and the run lands
in history. Events from the run's own writes are discarded.

Examples:
  # Live diagnostic counts while editing
  remend watch

  # Remediate continuously
  remend watch --fix

  # With the monitor attached
  remend watch --fix --status-addr 127.0.0.1:7177`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Flags().Changed("status-addr") {
		a.cfg.Status.Enabled = true
		a.cfg.Status.Addr = watchStatusAddr
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	runner := execx.NewRunner()
	probes, err := a.probeService(runner)
	if err != nil {
		return err
	}

	// In watch mode the status server outlives any single run; each
	// triggered run attaches itself as the view provider.
	var statusSrv *status.Server
	if a.cfg.Status.Enabled {
		statusSrv, err = startStatusServer(a, nil)
		if err != nil {
			return err
		}
		defer stopStatusServer(a, statusSrv)
	}

	var trigger watch.Trigger
	if watchFix {
		trigger, err = fixTrigger(a, runner, probes, statusSrv)
		if err != nil {
			return err
		}
	} else {
		trigger = probeTrigger(a, probes)
	}

	watcher, err := watch.New(watch.Config{
		Root:        a.cfg.Project.Root,
		Paths:       a.cfg.Watch.Paths,
		Debounce:    a.cfg.Watch.Debounce,
		MinInterval: a.cfg.Watch.MinInterval,
		Ignore:      []string{a.cfg.Report.Path},
	}, trigger, a.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	mode := "probe"
	if watchFix {
		mode = "fix"
	}
	fmt.Printf("Watching %s (%s mode, debounce %s); Ctrl-C to stop\n",
		a.cfg.Project.Root, mode, a.cfg.Watch.Debounce)

	<-ctx.Done()
	return nil
}

// probeTrigger probes after each settled change and prints the delta
// against the previous snapshot. It runs on the watcher goroutine, so
// the previous snapshot needs no locking.
func probeTrigger(a *app, probes probe.Service) watch.Trigger {
	var prev *probe.Snapshot
	return func(ctx context.Context, changed []string) {
		snap, err := probes.Probe(ctx)
		if err != nil && !errors.Is(err, probe.ErrDegraded) {
			a.logger.Warn("probe failed after change", zap.Error(err))
			return
		}

		fmt.Print(formatWatchProbe(time.Now(), len(changed), prev, snap))
		keep := snap
		prev = &keep
	}
}

// fixTrigger builds the run collaborators once and starts a fresh
// orchestrator per settled change. Probe service, checkpoint manager,
// fixer registry, and redactor carry no per-run state; the report
// generator does, so each run gets its own.
func fixTrigger(a *app, runner execx.Runner, probes probe.Service, statusSrv *status.Server) (watch.Trigger, error) {
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

	return func(ctx context.Context, changed []string) {
		runFixTrigger(ctx, a, probes, tree, fixers, red, statusSrv, changed)
	}, nil
}

func runFixTrigger(ctx context.Context, a *app, probes probe.Service, tree checkpoint.Manager, fixers *registry.Registry, red report.Redactor, statusSrv *status.Server, changed []string) {
	a.logger.Info("change settled, starting remediation", zap.Int("files", len(changed)))

	orch, err := orchestrator.NewService(&orchestrator.Config{
		WorkingDir:         a.cfg.Project.Root,
		GlobalTarget:       a.cfg.Run.GlobalTarget,
		MaxAllowedIncrease: a.cfg.Run.MaxAllowedIncrease,
		MaxPasses:          a.cfg.Run.MaxPasses,
		DryRun:             a.cfg.Run.DryRun,
	}, probes, tree, fixers, a.reportGenerator(red), a.logger)
	if err != nil {
		a.logger.Error("failed to build triggered run", zap.Error(err))
		return
	}
	if statusSrv != nil {
		statusSrv.SetViews(orch)
	}

	result, runErr := orch.Run(ctx)
	if rep := result.Report; rep != nil {
		finishRun(a, statusSrv, rep, string(result.Reason))
		fmt.Print(formatWatchRun(time.Now(), rep))
	}
	if runErr != nil {
		a.logger.Error("triggered run halted", zap.Error(runErr))
	}
}

// formatWatchProbe renders one probe trigger's output: the total with its
// delta against the previous probe, then per-category lines.
func formatWatchProbe(at time.Time, changed int, prev *probe.Snapshot, snap probe.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %d file(s) changed: ", at.Format("15:04:05"), changed)
	switch {
	case snap.Degraded:
		fmt.Fprintf(&b, "probe degraded, sentinel total %d\n", snap.Total)
	case snap.Clean():
		b.WriteString("validation passed\n")
	case prev == nil:
		fmt.Fprintf(&b, "%d diagnostics\n", snap.Total)
	default:
		fmt.Fprintf(&b, "%d -> %d diagnostics (%s)\n",
			prev.Total, snap.Total, formatSigned(snap.Total-prev.Total))
	}

	codes := make(map[string]struct{}, len(snap.ByCategory))
	for c := range snap.ByCategory {
		codes[c] = struct{}{}
	}
	if prev != nil {
		for c := range prev.ByCategory {
			codes[c] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(codes))
	for c := range codes {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	for _, c := range sorted {
		if prev == nil {
			fmt.Fprintf(&b, "  %-10s %d\n", c, snap.ByCategory[c])
			continue
		}
		fmt.Fprintf(&b, "  %-10s %d (%s)\n",
			c, snap.ByCategory[c], formatSigned(snap.ByCategory[c]-prev.ByCategory[c]))
	}
	return b.String()
}

// formatWatchRun renders the one-line summary of a triggered run.
func formatWatchRun(at time.Time, rep *report.Report) string {
	verdict := "target missed"
	if rep.Summary.TargetMet {
		verdict = "target met"
	}
	if rep.Incomplete {
		verdict += ", incomplete"
	}
	return fmt.Sprintf("[%s] run %s finished: %d -> %d diagnostics (%s), %d pass(es), %s\n",
		at.Format("15:04:05"), shortID(rep.RunID),
		rep.Summary.InitialTotal, rep.Summary.FinalTotal,
		formatSigned(-rep.Summary.Removed), rep.Summary.Passes, verdict)
}

// formatSigned renders a count change with an explicit sign, "+3" or "-42".
func formatSigned(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("+%d", delta)
	}
	return fmt.Sprintf("%d", delta)
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/checkpoint"
	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/registry"
	"github.com/remendlabs/remend/internal/report"
)

const instrumentationName = "github.com/remendlabs/remend/internal/orchestrator"

// Result is the terminal outcome of a run. It is returned non-nil even
// when Run fails, so callers can always persist a best-effort report.
type Result struct {
	Reason StopReason
	Report *report.Report
}

// Service runs the remediation loop.
type Service interface {
	// Run executes passes until the target is met, progress stops, the
	// pass budget runs out, or a fatal condition halts the loop.
	Run(ctx context.Context) (*Result, error)

	// View returns a snapshot of run progress. Safe to call from other
	// goroutines while Run executes.
	View() View

	// OnEvent registers the lifecycle observer. Must be called before
	// Run.
	OnEvent(fn Observer)
}

// service implements Service.
type service struct {
	config   *Config
	prober   probe.Service
	tree     checkpoint.Manager
	fixers   *registry.Registry
	recorder *report.Generator
	logger   *zap.Logger

	tracer   trace.Tracer
	metrics  *Metrics
	observer Observer

	mu   sync.RWMutex
	view View
}

// NewService wires the control loop. All collaborators are required; a nil
// logger falls back to a no-op.
func NewService(cfg *Config, prober probe.Service, tree checkpoint.Manager, fixers *registry.Registry, recorder *report.Generator, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prober == nil {
		return nil, errors.New("orchestrator: probe service is required")
	}
	if tree == nil {
		return nil, errors.New("orchestrator: checkpoint manager is required")
	}
	if fixers == nil {
		return nil, errors.New("orchestrator: fixer registry is required")
	}
	if recorder == nil {
		return nil, errors.New("orchestrator: report generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:   cfg,
		prober:   prober,
		tree:     tree,
		fixers:   fixers,
		recorder: recorder,
		logger:   logger.Named("orchestrator"),
		tracer:   otel.Tracer(instrumentationName),
		metrics:  NewMetrics(),
	}
	s.view = View{
		RunID:        recorder.RunID(),
		State:        StateIdle,
		MaxPasses:    cfg.MaxPasses,
		GlobalTarget: cfg.GlobalTarget,
		DryRun:       cfg.DryRun,
		UpdatedAt:    time.Now().UTC(),
	}
	return s, nil
}

// OnEvent implements Service.
func (s *service) OnEvent(fn Observer) {
	s.observer = fn
}

// View implements Service.
func (s *service) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

func (s *service) updateView(fn func(v *View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
	s.view.UpdatedAt = time.Now().UTC()
}

// transition moves the state machine. Transitions are driven internally,
// so an invalid one is a bug worth a loud log rather than an error return.
func (s *service) transition(to State) {
	s.mu.Lock()
	from := s.view.State
	s.view.State = to
	s.view.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if !ValidTransition(from, to) {
		s.logger.Warn("invalid state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return
	}
	s.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (s *service) emit(e Event) {
	if s.observer == nil {
		return
	}
	e.RunID = s.view.RunID
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	s.observer(e)
}

// Run implements Service.
func (s *service) Run(ctx context.Context) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("global_target", s.config.GlobalTarget),
		attribute.Int("max_allowed_increase", s.config.MaxAllowedIncrease),
		attribute.Int("max_passes", s.config.MaxPasses),
		attribute.Bool("dry_run", s.config.DryRun),
	)

	started := time.Now()
	s.updateView(func(v *View) { v.StartedAt = started.UTC() })
	s.logger.Info("remediation run starting",
		zap.String("run_id", s.view.RunID),
		zap.String("working_dir", s.config.WorkingDir),
		zap.Int("global_target", s.config.GlobalTarget),
		zap.Int("max_allowed_increase", s.config.MaxAllowedIncrease),
		zap.Int("max_passes", s.config.MaxPasses),
		zap.Int("fixers", s.fixers.Len()),
		zap.Bool("dry_run", s.config.DryRun))
	s.emit(Event{Type: EventRunStarted})

	var (
		initial *probe.Snapshot
		final   probe.Snapshot
		tally   passTally
		reason  StopReason
	)

	for pass := 1; pass <= s.config.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return s.halt(span, ReasonAborted, err)
		}
		s.updateView(func(v *View) { v.Pass = pass })
		s.transition(StatePassRunning)

		passStart, err := s.measure(ctx, pass, "pass start")
		if err != nil {
			return s.halt(span, ReasonAborted, err)
		}
		if initial == nil {
			snap := passStart
			initial = &snap
			s.recorder.RecordInitial(measurementOf(passStart))
			s.updateView(func(v *View) { v.InitialTotal = passStart.Total })
		}
		final = passStart
		if passStart.Total < s.config.GlobalTarget {
			reason = ReasonTargetMet
			break
		}

		passOutcome, passEnd, err := s.runPass(ctx, pass, passStart)
		tally = tally.fold(passOutcome)
		s.updateView(func(v *View) {
			v.Accepted = tally.accepted
			v.Reverted = tally.reverted
		})
		if err != nil {
			if errors.Is(err, checkpoint.ErrRestoreFailed) {
				return s.halt(span, ReasonRestoreFailed, err)
			}
			return s.halt(span, ReasonAborted, err)
		}
		final = passEnd

		if passEnd.Total < s.config.GlobalTarget {
			reason = ReasonTargetMet
			break
		}
		if pass > 1 && passOutcome.accepted == 0 {
			reason = ReasonNoProgress
			break
		}
	}
	if reason == "" {
		reason = ReasonPassBudget
	}

	s.transition(StateGlobalDone)
	rep := s.recorder.Finalize(measurementOf(*initial), measurementOf(final))

	span.SetAttributes(
		attribute.String("stop_reason", string(reason)),
		attribute.Int("initial_total", rep.Summary.InitialTotal),
		attribute.Int("final_total", rep.Summary.FinalTotal),
		attribute.Bool("target_met", rep.Summary.TargetMet),
	)
	s.logger.Info("remediation run finished",
		zap.String("run_id", s.view.RunID),
		zap.String("stop_reason", string(reason)),
		zap.Int("initial_total", rep.Summary.InitialTotal),
		zap.Int("final_total", rep.Summary.FinalTotal),
		zap.Int("accepted", tally.accepted),
		zap.Int("reverted", tally.reverted),
		zap.Int("skipped", tally.skipped),
		zap.Bool("target_met", rep.Summary.TargetMet),
		zap.Duration("duration", time.Since(started)))
	s.emit(Event{
		Type:   EventRunFinished,
		Total:  rep.Summary.FinalTotal,
		Reason: string(reason),
	})

	return &Result{Reason: reason, Report: rep}, nil
}

// halt ends the run on a fatal condition with a best-effort report.
func (s *service) halt(span trace.Span, reason StopReason, cause error) (*Result, error) {
	err := fmt.Errorf("%w: %w", ErrHalted, cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(reason))

	s.logger.Error("remediation run halted",
		zap.String("run_id", s.view.RunID),
		zap.String("stop_reason", string(reason)),
		zap.Error(cause))
	s.recorder.Warn(fmt.Sprintf("run halted: %s: %v", reason, cause))
	s.emit(Event{Type: EventRunFinished, Reason: string(reason)})

	return &Result{Reason: reason, Report: s.recorder.Snapshot()}, err
}

// runPass walks the registry once and closes with the pass-end probe.
func (s *service) runPass(ctx context.Context, pass int, start probe.Snapshot) (passTally, probe.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.pass")
	defer span.End()
	span.SetAttributes(
		attribute.Int("pass", pass),
		attribute.Int("start_total", start.Total),
	)

	begun := time.Now()
	tally := passTally{}
	s.logger.Info("pass starting",
		zap.Int("pass", pass),
		zap.Int("total", start.Total))
	s.emit(Event{Type: EventPassStarted, Pass: pass, Total: start.Total})

	for _, desc := range s.fixers.Ordered() {
		if err := ctx.Err(); err != nil {
			return tally, start, err
		}
		fixerOutcome, err := s.runFixer(ctx, pass, desc)
		tally = tally.fold(fixerOutcome)
		if err != nil {
			return tally, start, err
		}
	}

	s.transition(StatePassDone)
	end, err := s.measure(ctx, pass, "pass end")
	if err != nil {
		return tally, start, err
	}

	s.recorder.RecordPass(report.PassSummary{
		Number:     pass,
		StartTotal: start.Total,
		EndTotal:   end.Total,
		Accepted:   tally.accepted,
		Reverted:   tally.reverted,
		Duration:   time.Since(begun),
	})
	s.metrics.RecordPass()
	span.SetAttributes(attribute.Int("end_total", end.Total))

	s.logger.Info("pass finished",
		zap.Int("pass", pass),
		zap.Int("start_total", start.Total),
		zap.Int("end_total", end.Total),
		zap.Int("accepted", tally.accepted),
		zap.Int("reverted", tally.reverted),
		zap.Int("skipped", tally.skipped))
	s.emit(Event{Type: EventPassFinished, Pass: pass, Total: end.Total})

	return tally, end, nil
}

// runFixer gives one fixer its attempt budget within a pass.
func (s *service) runFixer(ctx context.Context, pass int, desc registry.Descriptor) (passTally, error) {
	tally := passTally{}
	logger := s.logger.With(
		zap.Int("pass", pass),
		zap.String("fixer_id", desc.ID),
		zap.String("category", desc.TargetCategory))

	before, err := s.measure(ctx, pass, "before fixer "+desc.ID)
	if err != nil {
		return tally, err
	}

	if before.Category(desc.TargetCategory) < desc.PerCategoryTarget {
		logger.Info("fixer skipped, category already converged",
			zap.Int("category_count", before.Category(desc.TargetCategory)),
			zap.Int("per_category_target", desc.PerCategoryTarget))
		s.metrics.RecordSkip(desc.ID, "converged")
		s.emit(Event{
			Type:    EventFixerSkipped,
			Pass:    pass,
			FixerID: desc.ID,
			Reason:  "converged",
		})
		tally.skipped++
		return tally, nil
	}

	fixer, ok := s.fixers.Fixer(desc.ID)
	if !ok {
		// Registry construction guarantees presence; guard anyway.
		logger.Error("fixer implementation missing from registry")
		tally.skipped++
		return tally, nil
	}

	for attempt := 1; attempt <= desc.MaxAttemptsPerPass; attempt++ {
		if err := ctx.Err(); err != nil {
			return tally, err
		}
		s.updateView(func(v *View) {
			v.FixerID = desc.ID
			v.Attempt = attempt
		})

		outcome, after, err := s.attempt(ctx, pass, desc, fixer, attempt, before)
		if err != nil {
			return tally, err
		}
		switch outcome {
		case outcomeCheckpointFailed:
			// No valid checkpoint means no safe invocation; give up
			// on this fixer until the next pass.
			tally.skipped++
			return tally, nil

		case outcomeReverted:
			tally.reverted++
			// A reverted fixer is assumed unsafe for the rest of
			// this pass.
			return tally, nil

		case outcomeAccepted:
			tally.accepted++
			improvement := before.Category(desc.TargetCategory) - after.Category(desc.TargetCategory)
			before = after
			if after.Category(desc.TargetCategory) < desc.PerCategoryTarget {
				logger.Info("per-category target reached",
					zap.Int("attempt", attempt),
					zap.Int("category_count", after.Category(desc.TargetCategory)))
				return tally, nil
			}
			if improvement <= 0 {
				logger.Info("no category improvement, stopping fixer for this pass",
					zap.Int("attempt", attempt),
					zap.Int("improvement", improvement))
				return tally, nil
			}
		}
	}
	return tally, nil
}

type attemptOutcome int

const (
	outcomeNone attemptOutcome = iota
	outcomeAccepted
	outcomeReverted
	outcomeCheckpointFailed
)

// attempt runs one checkpointed fixer invocation and judges it by the
// measured delta.
func (s *service) attempt(ctx context.Context, pass int, desc registry.Descriptor, fixer registry.Fixer, attempt int, before probe.Snapshot) (attemptOutcome, probe.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.Int("pass", pass),
		attribute.String("fixer_id", desc.ID),
		attribute.Int("attempt", attempt),
		attribute.Int("before_total", before.Total),
	)

	begun := time.Now()
	logger := s.logger.With(
		zap.Int("pass", pass),
		zap.String("fixer_id", desc.ID),
		zap.Int("attempt", attempt))

	s.transition(StateFixerRunning)

	cp, err := s.tree.Snapshot(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomeNone, before, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint failed")
		logger.Error("checkpoint failed, skipping fixer for this pass", zap.Error(err))
		s.recorder.Warn(fmt.Sprintf("checkpoint failed before %s attempt %d (pass %d): %v", desc.ID, attempt, pass, err))
		s.metrics.RecordSkip(desc.ID, "checkpoint_error")
		return outcomeCheckpointFailed, before, nil
	}

	var (
		exitCode  int
		killed    bool
		invokeErr error
	)
	if s.config.DryRun {
		logger.Info("dry run, fixer invocation skipped")
	} else {
		status, err := fixer.Run(ctx, s.config.WorkingDir)
		exitCode = status.Code
		killed = status.Killed
		if err != nil {
			// The unit crashing or timing out is an observation;
			// the delta still decides.
			invokeErr = err
			logger.Warn("fixer invocation failed, probing anyway",
				zap.Int("exit_code", exitCode),
				zap.Bool("killed", killed),
				zap.Error(err))
		} else {
			logger.Debug("fixer finished",
				zap.Int("exit_code", exitCode),
				zap.Duration("duration", status.Duration))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The tree may hold a partial mutation; put it back
			// before leaving.
			return outcomeNone, before, s.restoreOnAbort(cp, ctxErr)
		}
	}

	s.transition(StateEvaluating)
	after, err := s.measure(ctx, pass, fmt.Sprintf("after %s attempt %d", desc.ID, attempt))
	if err != nil {
		return outcomeNone, before, s.restoreOnAbort(cp, err)
	}

	delta := after.Total - before.Total
	span.SetAttributes(
		attribute.Int("after_total", after.Total),
		attribute.Int("delta", delta),
	)

	iteration := report.Iteration{
		Pass:             pass,
		FixerID:          desc.ID,
		Category:         desc.TargetCategory,
		Attempt:          attempt,
		BeforeTotal:      before.Total,
		AfterTotal:       after.Total,
		BeforeInCategory: before.Category(desc.TargetCategory),
		AfterInCategory:  after.Category(desc.TargetCategory),
		ExitCode:         exitCode,
		Duration:         time.Since(begun),
	}
	if invokeErr != nil {
		iteration.Error = invokeErr.Error()
	}

	if delta > s.config.MaxAllowedIncrease {
		iteration.Reverted = true
		restoreErr := s.tree.Restore(ctx, cp)
		if restoreErr != nil {
			iteration.Error = restoreErr.Error()
			s.recorder.RecordIteration(iteration)
			span.RecordError(restoreErr)
			span.SetStatus(codes.Error, "restore failed")
			logger.Error("restore failed, halting run", zap.Error(restoreErr))
			return outcomeNone, before, restoreErr
		}

		s.transition(StateReverted)
		s.recorder.RecordIteration(iteration)
		s.metrics.RecordIteration(desc.ID, "reverted", time.Since(begun).Seconds())
		logger.Warn("attempt reverted, total rose past the safety margin",
			zap.Int("before_total", before.Total),
			zap.Int("after_total", after.Total),
			zap.Int("delta", delta),
			zap.Int("max_allowed_increase", s.config.MaxAllowedIncrease))
		s.emit(Event{
			Type:    EventIterationReverted,
			Pass:    pass,
			FixerID: desc.ID,
			Attempt: attempt,
			Total:   before.Total,
			Delta:   delta,
		})
		return outcomeReverted, before, nil
	}

	s.transition(StateAccepted)
	s.recorder.RecordIteration(iteration)
	s.metrics.RecordIteration(desc.ID, "accepted", time.Since(begun).Seconds())
	s.updateView(func(v *View) { v.CurrentTotal = after.Total })
	logger.Info("attempt accepted",
		zap.Int("before_total", before.Total),
		zap.Int("after_total", after.Total),
		zap.Int("delta", delta))
	s.emit(Event{
		Type:    EventIterationAccepted,
		Pass:    pass,
		FixerID: desc.ID,
		Attempt: attempt,
		Total:   after.Total,
		Delta:   delta,
	})
	return outcomeAccepted, after, nil
}

// abortRestoreTimeout bounds the restore that runs after the caller's
// context is already dead.
const abortRestoreTimeout = 2 * time.Minute

// restoreOnAbort undoes the pending checkpoint when cancellation lands
// mid-attempt. A failed restore outranks the abort as the run's failure.
func (s *service) restoreOnAbort(cp *checkpoint.Checkpoint, cause error) error {
	restoreCtx, cancel := context.WithTimeout(context.Background(), abortRestoreTimeout)
	defer cancel()

	if err := s.tree.Restore(restoreCtx, cp); err != nil {
		s.logger.Error("restore on abort failed", zap.Error(err))
		return err
	}
	s.logger.Info("abort requested, pending checkpoint restored")
	return cause
}

// measure probes the tree, absorbing degraded reads per the probe's
// sentinel contract. Only context errors escape.
func (s *service) measure(ctx context.Context, pass int, stage string) (probe.Snapshot, error) {
	snap, err := s.prober.Probe(ctx)
	if err != nil {
		if errors.Is(err, probe.ErrDegraded) {
			s.logger.Warn("probe degraded, using sentinel total",
				zap.Int("pass", pass),
				zap.String("stage", stage),
				zap.Int("sentinel_total", snap.Total),
				zap.Error(err))
			s.recorder.Warn(fmt.Sprintf("probe degraded at %s (pass %d): %v", stage, pass, err))
			s.metrics.RecordDegradedProbe()
			s.metrics.SetDiagnostics(snap.Total)
			s.updateView(func(v *View) { v.CurrentTotal = snap.Total })
			return snap, nil
		}
		return snap, err
	}

	s.metrics.SetDiagnostics(snap.Total)
	s.updateView(func(v *View) { v.CurrentTotal = snap.Total })
	s.logger.Debug("probe measurement",
		zap.Int("pass", pass),
		zap.String("stage", stage),
		zap.Int("total", snap.Total),
		zap.Int("categories", len(snap.ByCategory)))
	return snap, nil
}

func measurementOf(s probe.Snapshot) report.Measurement {
	byCategory := make(map[string]int, len(s.ByCategory))
	for k, v := range s.ByCategory {
		byCategory[k] = v
	}
	return report.Measurement{
		Total:      s.Total,
		ByCategory: byCategory,
		Degraded:   s.Degraded,
		ObservedAt: s.ObservedAt,
	}
}

package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/execx"
)

const instrumentationName = "github.com/remendlabs/remend/internal/probe"

// ErrDegraded marks a probe that exhausted its retry budget without a
// trustworthy read. The snapshot returned alongside it carries the
// configured sentinel total.
var ErrDegraded = errors.New("probe: degraded read")

// DegradedError describes why no usable diagnostic read could be obtained.
type DegradedError struct {
	Attempts int
	Last     error
}

func (e *DegradedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("probe: no usable read after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("probe: no usable read after %d attempts", e.Attempts)
}

func (e *DegradedError) Unwrap() error { return ErrDegraded }

// Snapshot is the diagnostic multiset observed by one probe run.
type Snapshot struct {
	// Total counts all parsed diagnostics. Zero only when the validation
	// command exited cleanly.
	Total int

	// ByCategory maps diagnostic code to its count.
	ByCategory map[string]int

	// Degraded marks a synthesized snapshot: the command could not be
	// read and Total holds the sentinel value.
	Degraded bool

	ObservedAt time.Time
	Duration   time.Duration
}

// Category returns the count for a code, zero when absent.
func (s Snapshot) Category(code string) int {
	return s.ByCategory[code]
}

// Clean reports a snapshot with no diagnostics at all.
func (s Snapshot) Clean() bool {
	return s.Total == 0 && !s.Degraded
}

// Config holds validation command settings.
type Config struct {
	// Command is the validation argv, e.g. ["tsc", "--noEmit"].
	Command []string

	// WorkingDir is where the command runs.
	WorkingDir string

	// Timeout bounds the first attempt; attempt n waits n times as long.
	Timeout time.Duration

	// Retries is the number of additional attempts after a failed read.
	Retries int

	// SentinelTotal substitutes for the real total on a degraded read.
	SentinelTotal int
}

// DefaultConfig returns production defaults. The command itself has no
// default; it always comes from the caller.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Minute,
		Retries:       3,
		SentinelTotal: 100000,
	}
}

// Service runs validation probes.
type Service interface {
	// Probe executes the validation command and returns its diagnostic
	// snapshot. On a degraded read the snapshot is still usable (sentinel
	// total) and the error wraps ErrDegraded. Context errors are returned
	// as-is.
	Probe(ctx context.Context) (Snapshot, error)
}

type service struct {
	config Config
	runner execx.Runner
	parser *Parser
	logger *zap.Logger

	runsTotal     metric.Int64Counter
	degradedTotal metric.Int64Counter
	runDuration   metric.Float64Histogram
}

// NewService wires a probe service. The runner is required; a nil logger
// falls back to a no-op.
func NewService(cfg Config, runner execx.Runner, logger *zap.Logger) (Service, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("probe: validation command is required")
	}
	if runner == nil {
		return nil, errors.New("probe: runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.SentinelTotal <= 0 {
		cfg.SentinelTotal = DefaultConfig().SentinelTotal
	}

	s := &service{
		config: cfg,
		runner: runner,
		parser: NewParser(),
		logger: logger.Named("probe"),
	}
	s.initMetrics()
	return s, nil
}

// SetParser swaps the diagnostic grammar. Must be called before the first
// Probe; the service is not otherwise mutable.
func (s *service) SetParser(p *Parser) {
	if p != nil {
		s.parser = p
	}
}

func (s *service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.runsTotal, err = meter.Int64Counter("remend.probe.runs_total",
		metric.WithDescription("Total validation probe executions"),
		metric.WithUnit("{run}"))
	if err != nil {
		s.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	s.degradedTotal, err = meter.Int64Counter("remend.probe.degraded_total",
		metric.WithDescription("Probe runs that exhausted retries without a usable read"),
		metric.WithUnit("{run}"))
	if err != nil {
		s.logger.Warn("failed to create degraded counter", zap.Error(err))
	}

	s.runDuration, err = meter.Float64Histogram("remend.probe.duration_seconds",
		metric.WithDescription("Wall-clock duration of probe runs including retries"),
		metric.WithUnit("s"))
	if err != nil {
		s.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

func (s *service) Probe(ctx context.Context) (Snapshot, error) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "probe.run")
	defer span.End()

	start := time.Now()
	attempts := s.config.Retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		// Each retry waits longer; flaky checkers tend to need headroom,
		// not repetition.
		timeout := time.Duration(attempt) * s.config.Timeout
		res, err := s.runner.Run(ctx, execx.Command{
			Argv:    s.config.Command,
			Dir:     s.config.WorkingDir,
			Timeout: timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Snapshot{}, ctx.Err()
			}
			lastErr = err
			s.logger.Warn("validation command failed",
				zap.Int("attempt", attempt),
				zap.Duration("timeout", timeout),
				zap.Error(err))
			continue
		}

		if res.ExitCode == 0 {
			snap := s.finish(ctx, span, start, 0, map[string]int{}, false)
			s.logger.Debug("validation clean", zap.Duration("duration", snap.Duration))
			return snap, nil
		}

		total, byCategory := s.parser.Scan(res.Combined)
		if total == 0 {
			// Non-zero exit with nothing parseable: the read cannot be
			// trusted, it may be a crash rather than a diagnostic listing.
			lastErr = fmt.Errorf("probe: exit %d with no parseable diagnostics (%d output bytes)",
				res.ExitCode, len(res.Combined))
			s.logger.Warn("unparseable validation output",
				zap.Int("attempt", attempt),
				zap.Int("exit_code", res.ExitCode),
				zap.Int("output_bytes", len(res.Combined)))
			continue
		}

		snap := s.finish(ctx, span, start, total, byCategory, false)
		s.logger.Debug("validation diagnostics counted",
			zap.Int("total", total),
			zap.Int("categories", len(byCategory)))
		return snap, nil
	}

	derr := &DegradedError{Attempts: attempts, Last: lastErr}
	span.RecordError(derr)
	span.SetStatus(codes.Error, "degraded probe read")
	if s.degradedTotal != nil {
		s.degradedTotal.Add(ctx, 1)
	}
	s.logger.Error("probe degraded, substituting sentinel total",
		zap.Int("attempts", attempts),
		zap.Int("sentinel_total", s.config.SentinelTotal),
		zap.Error(lastErr))

	snap := s.finish(ctx, span, start, s.config.SentinelTotal, map[string]int{}, true)
	return snap, derr
}

func (s *service) finish(ctx context.Context, span trace.Span, start time.Time, total int, byCategory map[string]int, degraded bool) Snapshot {
	snap := Snapshot{
		Total:      total,
		ByCategory: byCategory,
		Degraded:   degraded,
		ObservedAt: start,
		Duration:   time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("diagnostics.total", total),
		attribute.Int("diagnostics.categories", len(byCategory)),
		attribute.Bool("diagnostics.degraded", degraded),
	)
	if s.runsTotal != nil {
		s.runsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("degraded", degraded)))
	}
	if s.runDuration != nil {
		s.runDuration.Record(ctx, snap.Duration.Seconds())
	}
	return snap
}

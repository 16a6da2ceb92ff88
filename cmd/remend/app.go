package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/config"
	"github.com/remendlabs/remend/internal/execx"
	"github.com/remendlabs/remend/internal/history"
	"github.com/remendlabs/remend/internal/logging"
	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/redact"
	"github.com/remendlabs/remend/internal/registry"
	"github.com/remendlabs/remend/internal/report"
	"github.com/remendlabs/remend/internal/telemetry"
)

// shutdownTimeout bounds cleanup work (telemetry flush, status server
// drain) after a command finishes.
const shutdownTimeout = 5 * time.Second

// app holds the pieces every command wires first: configuration, the
// process logger, and the telemetry pipeline behind it.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	tel    *telemetry.Telemetry
}

// newApp loads configuration and builds the logger and telemetry stack.
// The logger is built twice when OTLP log export is on: once plain so
// telemetry initialization has somewhere to complain, then again with
// the log provider teed in.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if workingDir != "" {
		cfg.Project.Root = workingDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logCfg := logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	logger, err := logging.New(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if provider := tel.LoggerProvider(); provider != nil {
		teed, err := logging.New(logCfg, provider)
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = tel.Shutdown(shutdownCtx)
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = teed
	}

	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// Close flushes telemetry and the logger. Safe to defer immediately
// after newApp succeeds.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = logging.Sync(a.logger)
}

// telemetryConfig maps the observability section onto the telemetry
// package's config, keeping its defaults for everything the file does
// not expose.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Observability.EnableTelemetry
	tc.ServiceName = cfg.Observability.ServiceName
	tc.ServiceVersion = version
	if cfg.Observability.OTLPEndpoint != "" {
		tc.Endpoint = cfg.Observability.OTLPEndpoint
	}
	return tc
}

// probeService builds the validation prober from the config.
func (a *app) probeService(runner execx.Runner) (probe.Service, error) {
	return probe.NewService(probe.Config{
		Command:       a.cfg.Validation.Command,
		WorkingDir:    a.cfg.Project.Root,
		Timeout:       a.cfg.Validation.Timeout,
		Retries:       a.cfg.Validation.Retries,
		SentinelTotal: a.cfg.Validation.SentinelTotal,
	}, runner, a.logger)
}

// fixerRegistry builds the ordered fixer registry from the config. File
// order is execution order.
func (a *app) fixerRegistry(runner execx.Runner) (*registry.Registry, error) {
	builder := registry.NewBuilder()
	for _, f := range a.cfg.Fixers {
		fixer, err := registry.NewCommandFixer(f.ID, f.Command, f.Timeout, runner, a.logger)
		if err != nil {
			return nil, err
		}
		builder.Register(registry.Descriptor{
			ID:                 f.ID,
			TargetCategory:     f.Category,
			PerCategoryTarget:  f.PerCategoryTarget,
			MaxAttemptsPerPass: f.MaxAttemptsPerPass,
		}, fixer)
	}
	return builder.Build()
}

// redactor builds the secret scrubber from the project and user
// allowlists.
func (a *app) redactor() (*redact.Redactor, error) {
	allowlist, err := redact.LoadAllowlists(a.cfg.Project.Root, a.cfg.Redact.AllowlistPath)
	if err != nil {
		return nil, err
	}
	return redact.New(allowlist, a.logger)
}

// reportGenerator starts a fresh report for one run. The redactor is
// passed in so watch mode can compile it once and reuse it per trigger.
func (a *app) reportGenerator(red report.Redactor) *report.Generator {
	specs := make([]report.FixerSpec, 0, len(a.cfg.Fixers))
	for _, f := range a.cfg.Fixers {
		specs = append(specs, report.FixerSpec{
			ID:                f.ID,
			Category:          f.Category,
			PerCategoryTarget: f.PerCategoryTarget,
		})
	}
	return report.NewGenerator(report.Config{
		WorkingDir:         a.cfg.Project.Root,
		Command:            a.cfg.Validation.Command,
		GlobalTarget:       a.cfg.Run.GlobalTarget,
		MaxAllowedIncrease: a.cfg.Run.MaxAllowedIncrease,
		MaxPasses:          a.cfg.Run.MaxPasses,
		DryRun:             a.cfg.Run.DryRun,
		Version:            version,
		Fixers:             specs,
		Redactor:           red,
	}, a.logger)
}

// reportPath resolves the configured artifact path against the project
// root.
func (a *app) reportPath() string {
	return resolveReportPath(a.cfg.Project.Root, a.cfg.Report.Path)
}

func resolveReportPath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// writeReport creates the artifact directory if needed and writes the
// report.
func writeReport(path string, rep *report.Report) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory %s: %w", dir, err)
		}
	}
	return report.Write(path, rep)
}

// historyConfig maps the history section onto the store factory config.
func (a *app) historyConfig() history.Config {
	return history.Config{
		Provider: a.cfg.History.Provider,
		Chromem:  history.ChromemConfig{Path: a.cfg.History.Chromem.Path},
		Qdrant: history.QdrantConfig{
			Host:       a.cfg.History.Qdrant.Host,
			Port:       a.cfg.History.Qdrant.Port,
			APIKey:     a.cfg.History.Qdrant.APIKey,
			UseTLS:     a.cfg.History.Qdrant.UseTLS,
			Collection: a.cfg.History.Qdrant.Collection,
		},
	}
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// signalContext derives a context cancelled by SIGINT or SIGTERM, so a
// Ctrl-C between fixer invocations aborts the run cleanly.
func signalContext(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down gracefully", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

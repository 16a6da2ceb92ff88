// Package config loads remend configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete remend configuration.
type Config struct {
	Project       ProjectConfig       `koanf:"project"`
	Validation    ValidationConfig    `koanf:"validation"`
	Run           RunConfig           `koanf:"run"`
	Fixers        []FixerConfig       `koanf:"fixers"`
	Report        ReportConfig        `koanf:"report"`
	Redact        RedactConfig        `koanf:"redact"`
	History       HistoryConfig       `koanf:"history"`
	Events        EventsConfig        `koanf:"events"`
	Status        StatusConfig        `koanf:"status"`
	Watch         WatchConfig         `koanf:"watch"`
	Publish       PublishConfig       `koanf:"publish"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ProjectConfig locates the tree under remediation.
type ProjectConfig struct {
	// Root is the project directory. Relative paths in the rest of the
	// configuration resolve against it.
	Root string `koanf:"root"`
}

// ValidationConfig holds the validation command settings. The command has
// no default; every project names its own checker.
type ValidationConfig struct {
	Command       []string      `koanf:"command"`
	Timeout       time.Duration `koanf:"timeout"`
	Retries       int           `koanf:"retries"`
	SentinelTotal int           `koanf:"sentinel_total"`
}

// RunConfig holds the remediation loop thresholds.
type RunConfig struct {
	// GlobalTarget is the diagnostic count the run tries to get under.
	GlobalTarget int `koanf:"global_target"`

	// MaxAllowedIncrease is the largest total increase an attempt may
	// cause and still be kept.
	MaxAllowedIncrease int `koanf:"max_allowed_increase"`

	// MaxPasses bounds full walks over the fixer list.
	MaxPasses int `koanf:"max_passes"`

	DryRun bool `koanf:"dry_run"`
}

// FixerConfig declares one fixer. File order is execution order.
type FixerConfig struct {
	ID       string   `koanf:"id"`
	Command  []string `koanf:"command"`
	Category string   `koanf:"category"`

	// PerCategoryTarget is the count below which the category is done and
	// the fixer is skipped. Zero means the fixer always runs.
	PerCategoryTarget int `koanf:"per_category_target"`

	MaxAttemptsPerPass int           `koanf:"max_attempts_per_pass"`
	Timeout            time.Duration `koanf:"timeout"`
}

// ReportConfig controls the run artifact.
type ReportConfig struct {
	// Path is where the JSON report lands, resolved against project.root
	// when relative.
	Path string `koanf:"path"`
}

// RedactConfig controls secret scrubbing of report and log text.
type RedactConfig struct {
	// AllowlistPath points at a user gitleaks-style allowlist merged with
	// the project's .gitleaks.toml.
	AllowlistPath string `koanf:"allowlist_path"`
}

// HistoryConfig controls the run history store.
type HistoryConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds the embedded store settings.
type ChromemConfig struct {
	Path string `koanf:"path"`
}

// QdrantConfig holds the external store settings. The API key can also
// come from QDRANT_API_KEY.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     string `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
}

// EventsConfig controls NATS run-event publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// StatusConfig controls the local status HTTP server.
type StatusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	// Debounce coalesces bursts of filesystem events into one trigger.
	Debounce time.Duration `koanf:"debounce"`

	// MinInterval is the shortest time between two triggered runs. Zero
	// disables rate limiting.
	MinInterval time.Duration `koanf:"min_interval"`

	// Paths are watched directories relative to project.root. Empty means
	// the root itself.
	Paths []string `koanf:"paths"`
}

// PublishConfig names the GitHub issue reports are published to. The token
// comes from GITHUB_TOKEN only and never from a file.
type PublishConfig struct {
	Repo  string `koanf:"repo"`
	Issue int    `koanf:"issue"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return errors.New("project root is required")
	}
	if len(c.Validation.Command) == 0 {
		return errors.New("validation command is required: set validation.command")
	}
	if c.Validation.Timeout <= 0 {
		return errors.New("validation timeout must be positive")
	}
	if c.Validation.Retries < 0 {
		return errors.New("validation retries must be >= 0")
	}
	if c.Validation.SentinelTotal < 1 {
		return errors.New("validation sentinel total must be >= 1")
	}

	if c.Run.GlobalTarget < 0 {
		return errors.New("run global target must be >= 0")
	}
	if c.Run.MaxAllowedIncrease < 0 {
		return errors.New("run max allowed increase must be >= 0")
	}
	if c.Run.MaxPasses < 1 {
		return errors.New("run max passes must be >= 1")
	}

	seen := make(map[string]bool, len(c.Fixers))
	for i, f := range c.Fixers {
		if f.ID == "" {
			return fmt.Errorf("fixer %d: id is required", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("fixer %s: duplicate id", f.ID)
		}
		seen[f.ID] = true
		if len(f.Command) == 0 {
			return fmt.Errorf("fixer %s: command is required", f.ID)
		}
		if f.Category == "" {
			return fmt.Errorf("fixer %s: category is required", f.ID)
		}
		if f.PerCategoryTarget < 0 {
			return fmt.Errorf("fixer %s: per-category target must be >= 0", f.ID)
		}
		if f.MaxAttemptsPerPass < 1 {
			return fmt.Errorf("fixer %s: max attempts per pass must be >= 1", f.ID)
		}
	}

	switch c.History.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown history provider: %q (chromem or qdrant)", c.History.Provider)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events url is required when events are enabled")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return errors.New("status addr is required when the status server is enabled")
	}
	if c.Watch.Debounce <= 0 {
		return errors.New("watch debounce must be positive")
	}
	if c.Watch.MinInterval < 0 {
		return errors.New("watch min interval must be >= 0")
	}

	if c.Publish.Repo != "" {
		owner, name, ok := strings.Cut(c.Publish.Repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("publish repo must be owner/name, got %q", c.Publish.Repo)
		}
		if c.Publish.Issue < 1 {
			return errors.New("publish issue number must be >= 1 when a repo is set")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024

	// envPrefix guards the override namespace: REMEND_RUN_MAX_PASSES maps
	// to run.max_passes.
	envPrefix = "REMEND_"
)

// Load reads configuration with precedence (highest first):
//
//  1. Environment variables (REMEND_SECTION_FIELD)
//  2. YAML config file
//  3. Defaults
//
// An empty path triggers discovery: remend.yaml or .remend.yaml in the
// working directory, then ~/.config/remend/config.yaml. A missing file is
// not an error; the validation command must then come from the
// environment.
//
// Config files must be private (0600 or 0400): the file may carry store
// credentials. Files over 1MB are rejected.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = discover()
	}

	if path != "" {
		content, err := readConfigFile(path, explicit)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// discover returns the first config file that exists, or empty.
func discover() string {
	for _, p := range []string{"remend.yaml", ".remend.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "remend", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// readConfigFile opens the file once and validates through the open
// descriptor, so the checked file is the read file. A missing file is only
// an error when the caller named it explicitly.
func readConfigFile(path string, explicit bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateFileProperties(info os.FileInfo) error {
	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure permissions %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// envTransform maps REMEND_SECTION_FIELD_NAME to section.field_name. The
// first underscore after the prefix separates section from field; later
// underscores stay in the field name. Nested subsections have no
// environment mapping and are file-only.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// EnsureConfigDir creates ~/.config/remend with owner-only permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "remend")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// applyDefaults fills every zero value that has a sensible default. The
// validation command deliberately has none.
func applyDefaults(cfg *Config) {
	if cfg.Project.Root == "" {
		cfg.Project.Root = "."
	}

	if cfg.Validation.Timeout == 0 {
		cfg.Validation.Timeout = 2 * time.Minute
	}
	if cfg.Validation.Retries == 0 {
		cfg.Validation.Retries = 3
	}
	if cfg.Validation.SentinelTotal == 0 {
		cfg.Validation.SentinelTotal = 100000
	}

	if cfg.Run.GlobalTarget == 0 {
		cfg.Run.GlobalTarget = 10
	}
	if cfg.Run.MaxAllowedIncrease == 0 {
		cfg.Run.MaxAllowedIncrease = 100
	}
	if cfg.Run.MaxPasses == 0 {
		cfg.Run.MaxPasses = 5
	}

	for i := range cfg.Fixers {
		if cfg.Fixers[i].MaxAttemptsPerPass == 0 {
			cfg.Fixers[i].MaxAttemptsPerPass = 3
		}
		if cfg.Fixers[i].Timeout == 0 {
			cfg.Fixers[i].Timeout = 10 * time.Minute
		}
	}

	if cfg.Report.Path == "" {
		cfg.Report.Path = filepath.Join(".remend", "report.json")
	}

	if cfg.History.Provider == "" {
		cfg.History.Provider = "chromem"
	}
	if cfg.History.Chromem.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.History.Chromem.Path = filepath.Join(home, ".config", "remend", "history")
		} else {
			cfg.History.Chromem.Path = filepath.Join(".remend", "history")
		}
	}
	if cfg.History.Qdrant.Host == "" {
		cfg.History.Qdrant.Host = "localhost"
	}
	if cfg.History.Qdrant.Port == 0 {
		cfg.History.Qdrant.Port = 6334
	}
	if cfg.History.Qdrant.Collection == "" {
		cfg.History.Qdrant.Collection = "remend_history"
	}
	if cfg.History.Qdrant.APIKey == "" {
		cfg.History.Qdrant.APIKey = os.Getenv("QDRANT_API_KEY")
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "remend"
	}
	if cfg.Status.Addr == "" {
		cfg.Status.Addr = "127.0.0.1:7177"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "remend"
	}
}

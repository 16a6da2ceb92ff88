// Package redact scrubs secrets from report text using the Gitleaks SDK.
// Fixer and validation commands run with the caller's environment, so their
// stderr can leak tokens into artifacts that outlive the run.
package redact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("redact: invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("redact: invalid TOML format")
)

// Allowlist holds patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the project .gitleaks.toml with an explicit user
// allowlist file. Missing files are skipped; invalid ones are errors.
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	if projectDir != "" {
		projectFile := filepath.Join(projectDir, ".gitleaks.toml")
		project, err := loadTOML(projectFile)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, project.Paths...)
			merged.Regexes = append(merged.Regexes, project.Regexes...)
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	if userPath != "" {
		user, err := loadTOML(userPath)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range append(config.Allowlist.Paths, config.Allowlist.Regexes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}

// Redactor replaces detected secrets with [REDACTED:rule-id:preview]
// markers. The marker keeps enough context to identify what was scrubbed
// without keeping the secret.
type Redactor struct {
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a redactor from the default Gitleaks ruleset plus the given
// allowlist. The detector is compiled once and reused for every call.
func New(allowlist *Allowlist, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("redact: build detector: %w", err)
	}
	if allowlist != nil {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}

	return &Redactor{
		detector: detector,
		logger:   logger.Named("redact"),
	}, nil
}

// Redact scrubs every detected secret from the text.
func (r *Redactor) Redact(in string) string {
	if in == "" {
		return in
	}

	findings := r.detector.DetectString(in)
	if len(findings) == 0 {
		return in
	}

	// Collect unique secrets, longest first so one secret being a
	// substring of another cannot corrupt an already placed marker.
	type secret struct {
		value  string
		ruleID string
	}
	seen := make(map[string]string, len(findings))
	for _, f := range findings {
		if len(f.Secret) < 4 {
			continue
		}
		if _, ok := seen[f.Secret]; !ok {
			seen[f.Secret] = f.RuleID
		}
	}
	secrets := make([]secret, 0, len(seen))
	for v, rule := range seen {
		secrets = append(secrets, secret{value: v, ruleID: rule})
	}
	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i].value) != len(secrets[j].value) {
			return len(secrets[i].value) > len(secrets[j].value)
		}
		return secrets[i].value < secrets[j].value
	})

	out := in
	for _, s := range secrets {
		marker := fmt.Sprintf("[REDACTED:%s:%s]", s.ruleID, preview(s.value, 4))
		out = strings.ReplaceAll(out, s.value, marker)
	}

	r.logger.Debug("redacted secrets", zap.Int("findings", len(findings)))
	return out
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyAllowlist merges user patterns into the Gitleaks config.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{
		Description: "remend user/project allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

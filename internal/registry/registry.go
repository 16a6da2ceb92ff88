// Package registry holds the ordered catalog of fixers. Order is a
// configuration decision: some diagnostic categories are prerequisites of
// others, so fixers always execute in registration order within a pass.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/execx"
)

// Descriptor names one fixer and its convergence settings. Immutable after
// registration.
type Descriptor struct {
	// ID uniquely identifies the fixer in reports and logs.
	ID string

	// TargetCategory is the diagnostic code this fixer works on.
	TargetCategory string

	// PerCategoryTarget is the count below which the category is
	// considered converged and the fixer is skipped.
	PerCategoryTarget int

	// MaxAttemptsPerPass bounds invocations of this fixer per pass.
	MaxAttemptsPerPass int
}

// Validate checks the descriptor fields.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New("registry: descriptor id is required")
	}
	if d.TargetCategory == "" {
		return fmt.Errorf("registry: fixer %s: target category is required", d.ID)
	}
	if d.PerCategoryTarget < 0 {
		return fmt.Errorf("registry: fixer %s: per-category target must be >= 0", d.ID)
	}
	if d.MaxAttemptsPerPass < 1 {
		return fmt.Errorf("registry: fixer %s: max attempts per pass must be >= 1", d.ID)
	}
	return nil
}

// ExitStatus describes how a fixer invocation terminated. The exit code is
// recorded for the report but never decides acceptance; only the measured
// diagnostic delta does.
type ExitStatus struct {
	Code     int
	Killed   bool
	Duration time.Duration
}

// Fixer mutates the working tree in place. Implementations take no
// interactive input and terminate on their own or by timeout.
type Fixer interface {
	ID() string
	Run(ctx context.Context, workingDir string) (ExitStatus, error)
}

// FixerFunc adapts a function to the Fixer interface.
type FixerFunc struct {
	Name string
	Fn   func(ctx context.Context, workingDir string) (ExitStatus, error)
}

// ID implements Fixer.
func (f FixerFunc) ID() string { return f.Name }

// Run implements Fixer.
func (f FixerFunc) Run(ctx context.Context, workingDir string) (ExitStatus, error) {
	return f.Fn(ctx, workingDir)
}

// CommandFixer invokes an external argv in the working directory. This is
// the production fixer unit; fixer content stays entirely outside this
// process.
type CommandFixer struct {
	id      string
	argv    []string
	timeout time.Duration
	runner  execx.Runner
	logger  *zap.Logger
}

// NewCommandFixer wires a command-backed fixer. A nil logger falls back to
// a no-op.
func NewCommandFixer(id string, argv []string, timeout time.Duration, runner execx.Runner, logger *zap.Logger) (*CommandFixer, error) {
	if id == "" {
		return nil, errors.New("registry: command fixer id is required")
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("registry: fixer %s: command is required", id)
	}
	if runner == nil {
		return nil, fmt.Errorf("registry: fixer %s: runner is required", id)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandFixer{
		id:      id,
		argv:    argv,
		timeout: timeout,
		runner:  runner,
		logger:  logger.Named("fixer").With(zap.String("fixer_id", id)),
	}, nil
}

// ID implements Fixer.
func (f *CommandFixer) ID() string { return f.id }

// Run implements Fixer.
func (f *CommandFixer) Run(ctx context.Context, workingDir string) (ExitStatus, error) {
	res, err := f.runner.Run(ctx, execx.Command{
		Argv:    f.argv,
		Dir:     workingDir,
		Timeout: f.timeout,
	})
	status := ExitStatus{Code: res.ExitCode, Killed: res.Killed, Duration: res.Duration}
	if err != nil {
		return status, fmt.Errorf("registry: fixer %s: %w", f.id, err)
	}
	if res.ExitCode != 0 {
		// Non-zero exit is an observation for the report, nothing more.
		f.logger.Warn("fixer exited non-zero",
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration))
	}
	return status, nil
}

type entry struct {
	desc  Descriptor
	fixer Fixer
}

// Builder registers fixers in execution order. Registration errors are
// collected and surfaced by Build, which keeps call sites chainable.
type Builder struct {
	entries []entry
	err     error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Register appends a fixer to the execution order.
func (b *Builder) Register(desc Descriptor, fixer Fixer) *Builder {
	if b.err != nil {
		return b
	}
	if err := desc.Validate(); err != nil {
		b.err = err
		return b
	}
	if fixer == nil {
		b.err = fmt.Errorf("registry: fixer %s: implementation is required", desc.ID)
		return b
	}
	if fixer.ID() != desc.ID {
		b.err = fmt.Errorf("registry: descriptor id %q does not match fixer id %q", desc.ID, fixer.ID())
		return b
	}
	for _, e := range b.entries {
		if e.desc.ID == desc.ID {
			b.err = fmt.Errorf("registry: duplicate fixer id %q", desc.ID)
			return b
		}
	}
	b.entries = append(b.entries, entry{desc: desc, fixer: fixer})
	return b
}

// Build seals the registry. The result is immutable; later Register calls
// on the builder do not affect it.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.entries) == 0 {
		return nil, errors.New("registry: at least one fixer is required")
	}

	entries := make([]entry, len(b.entries))
	copy(entries, b.entries)
	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		byID[e.desc.ID] = i
	}
	return &Registry{entries: entries, byID: byID}, nil
}

// Registry is the sealed, ordered fixer catalog.
type Registry struct {
	entries []entry
	byID    map[string]int
}

// Ordered returns descriptors in execution order. The slice is a copy.
func (r *Registry) Ordered() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.desc
	}
	return out
}

// Fixer returns the implementation for an id.
func (r *Registry) Fixer(id string) (Fixer, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.entries[i].fixer, true
}

// Len reports the number of registered fixers.
func (r *Registry) Len() int { return len(r.entries) }

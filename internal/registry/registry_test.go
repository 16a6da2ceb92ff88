package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remendlabs/remend/internal/execx"
)

func noopFixer(id string) Fixer {
	return FixerFunc{
		Name: id,
		Fn: func(ctx context.Context, workingDir string) (ExitStatus, error) {
			return ExitStatus{}, nil
		},
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr string
	}{
		{
			name: "valid",
			desc: Descriptor{ID: "strict-null", TargetCategory: "TS2531", PerCategoryTarget: 0, MaxAttemptsPerPass: 3},
		},
		{
			name:    "missing id",
			desc:    Descriptor{TargetCategory: "TS2531", MaxAttemptsPerPass: 1},
			wantErr: "id is required",
		},
		{
			name:    "missing category",
			desc:    Descriptor{ID: "strict-null", MaxAttemptsPerPass: 1},
			wantErr: "target category is required",
		},
		{
			name:    "negative target",
			desc:    Descriptor{ID: "strict-null", TargetCategory: "TS2531", PerCategoryTarget: -1, MaxAttemptsPerPass: 1},
			wantErr: "per-category target must be >= 0",
		},
		{
			name:    "zero attempts",
			desc:    Descriptor{ID: "strict-null", TargetCategory: "TS2531", MaxAttemptsPerPass: 0},
			wantErr: "max attempts per pass must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuilder_PreservesRegistrationOrder(t *testing.T) {
	reg, err := NewBuilder().
		Register(Descriptor{ID: "imports", TargetCategory: "TS2304", MaxAttemptsPerPass: 3}, noopFixer("imports")).
		Register(Descriptor{ID: "unused", TargetCategory: "TS6133", MaxAttemptsPerPass: 2}, noopFixer("unused")).
		Register(Descriptor{ID: "nullability", TargetCategory: "TS2531", MaxAttemptsPerPass: 5}, noopFixer("nullability")).
		Build()
	require.NoError(t, err)

	require.Equal(t, 3, reg.Len())
	ordered := reg.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, "imports", ordered[0].ID)
	assert.Equal(t, "unused", ordered[1].ID)
	assert.Equal(t, "nullability", ordered[2].ID)
	assert.Equal(t, "TS6133", ordered[1].TargetCategory)
	assert.Equal(t, 5, ordered[2].MaxAttemptsPerPass)
}

func TestBuilder_RejectsDuplicateID(t *testing.T) {
	_, err := NewBuilder().
		Register(Descriptor{ID: "imports", TargetCategory: "TS2304", MaxAttemptsPerPass: 1}, noopFixer("imports")).
		Register(Descriptor{ID: "imports", TargetCategory: "TS6133", MaxAttemptsPerPass: 1}, noopFixer("imports")).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate fixer id "imports"`)
}

func TestBuilder_RejectsIDMismatch(t *testing.T) {
	_, err := NewBuilder().
		Register(Descriptor{ID: "imports", TargetCategory: "TS2304", MaxAttemptsPerPass: 1}, noopFixer("other")).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match fixer id")
}

func TestBuilder_RejectsNilFixer(t *testing.T) {
	_, err := NewBuilder().
		Register(Descriptor{ID: "imports", TargetCategory: "TS2304", MaxAttemptsPerPass: 1}, nil).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "implementation is required")
}

func TestBuilder_RequiresAtLeastOneFixer(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one fixer")
}

func TestBuilder_FirstErrorWins(t *testing.T) {
	_, err := NewBuilder().
		Register(Descriptor{ID: "", TargetCategory: "TS2304", MaxAttemptsPerPass: 1}, noopFixer("")).
		Register(Descriptor{ID: "ok", TargetCategory: "TS6133", MaxAttemptsPerPass: 0}, noopFixer("ok")).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

func TestRegistry_ImmutableAfterBuild(t *testing.T) {
	b := NewBuilder().
		Register(Descriptor{ID: "imports", TargetCategory: "TS2304", MaxAttemptsPerPass: 1}, noopFixer("imports"))
	reg, err := b.Build()
	require.NoError(t, err)

	// Registering on the builder after Build must not leak into the
	// sealed registry.
	b.Register(Descriptor{ID: "late", TargetCategory: "TS6133", MaxAttemptsPerPass: 1}, noopFixer("late"))
	assert.Equal(t, 1, reg.Len())

	// Mutating the returned slice must not affect later reads.
	ordered := reg.Ordered()
	ordered[0].ID = "mutated"
	assert.Equal(t, "imports", reg.Ordered()[0].ID)
}

func TestRegistry_FixerLookup(t *testing.T) {
	reg, err := NewBuilder().
		Register(Descriptor{ID: "imports", TargetCategory: "TS2304", MaxAttemptsPerPass: 1}, noopFixer("imports")).
		Build()
	require.NoError(t, err)

	f, ok := reg.Fixer("imports")
	require.True(t, ok)
	assert.Equal(t, "imports", f.ID())

	_, ok = reg.Fixer("absent")
	assert.False(t, ok)
}

type scriptedRunner struct {
	result execx.Result
	err    error
	calls  []execx.Command
}

func (s *scriptedRunner) Run(ctx context.Context, cmd execx.Command) (execx.Result, error) {
	s.calls = append(s.calls, cmd)
	return s.result, s.err
}

func TestCommandFixer_RunsArgvInWorkingDir(t *testing.T) {
	runner := &scriptedRunner{result: execx.Result{ExitCode: 0, Duration: 45 * time.Millisecond}}
	f, err := NewCommandFixer("imports", []string{"codemod", "--fix-imports"}, 30*time.Second, runner, nil)
	require.NoError(t, err)

	status, err := f.Run(context.Background(), "/srv/project")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, 45*time.Millisecond, status.Duration)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"codemod", "--fix-imports"}, runner.calls[0].Argv)
	assert.Equal(t, "/srv/project", runner.calls[0].Dir)
	assert.Equal(t, 30*time.Second, runner.calls[0].Timeout)
}

func TestCommandFixer_NonZeroExitIsNotAnError(t *testing.T) {
	runner := &scriptedRunner{result: execx.Result{ExitCode: 2}}
	f, err := NewCommandFixer("imports", []string{"codemod"}, 0, runner, nil)
	require.NoError(t, err)

	status, err := f.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, status.Code)
}

func TestCommandFixer_InfrastructureFailure(t *testing.T) {
	runner := &scriptedRunner{
		result: execx.Result{ExitCode: -1, Killed: true},
		err:    execx.ErrTimeout,
	}
	f, err := NewCommandFixer("imports", []string{"codemod"}, time.Second, runner, nil)
	require.NoError(t, err)

	status, err := f.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, execx.ErrTimeout))
	assert.True(t, status.Killed)
}

func TestNewCommandFixer_Validation(t *testing.T) {
	runner := &scriptedRunner{}

	_, err := NewCommandFixer("", []string{"codemod"}, 0, runner, nil)
	assert.ErrorContains(t, err, "id is required")

	_, err = NewCommandFixer("imports", nil, 0, runner, nil)
	assert.ErrorContains(t, err, "command is required")

	_, err = NewCommandFixer("imports", []string{"codemod"}, 0, nil, nil)
	assert.ErrorContains(t, err, "runner is required")
}

package execx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	tests := []struct {
		name       string
		argv       []string
		wantExit   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "stdout capture",
			argv:       []string{"sh", "-c", "printf hello"},
			wantExit:   0,
			wantStdout: "hello",
		},
		{
			name:       "stderr capture",
			argv:       []string{"sh", "-c", "printf oops 1>&2"},
			wantExit:   0,
			wantStderr: "oops",
		},
		{
			name:     "non-zero exit is not an error",
			argv:     []string{"sh", "-c", "exit 3"},
			wantExit: 3,
		},
	}

	r := NewRunner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Run(context.Background(), Command{Argv: tt.argv, Timeout: 10 * time.Second})
			require.NoError(t, err)
			assert.Equal(t, tt.wantExit, res.ExitCode)
			assert.Equal(t, tt.wantStdout, res.Stdout)
			assert.Equal(t, tt.wantStderr, res.Stderr)
			assert.False(t, res.Killed)
		})
	}
}

func TestRun_CombinedInterleavesStreams(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Command{
		Argv:    []string{"sh", "-c", "printf a; printf b 1>&2"},
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Combined, "a")
	assert.Contains(t, res.Combined, "b")
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	r := NewRunner()
	start := time.Now()
	res, err := r.Run(context.Background(), Command{
		Argv:    []string{"sleep", "30"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, res.Killed)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner()
	_, err := r.Run(ctx, Command{Argv: []string{"sleep", "30"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), Command{
		Argv:    []string{"definitely-not-a-real-binary-8181"},
		Timeout: 5 * time.Second,
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, -1, res.ExitCode)
}

func TestRun_EmptyArgv(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), Command{})
	require.Error(t, err)
}

func TestRun_OutputTruncation(t *testing.T) {
	r := &processRunner{maxOutput: 16}
	res, err := r.Run(context.Background(), Command{
		Argv:    []string{"sh", "-c", "printf '0123456789abcdefghij'"},
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, "0123456789abcdef", res.Stdout)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "tsc --noEmit", Command{Argv: []string{"tsc", "--noEmit"}}.String())
	assert.Equal(t, "", Command{}.String())
}

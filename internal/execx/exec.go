// Package execx runs external commands with bounded execution time and
// size-capped output capture. It is the only place in the codebase that
// spawns processes; everything above it (validation probes, fixer units)
// goes through the Runner seam so tests can substitute fakes.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrTimeout indicates the process was killed because its deadline expired.
var ErrTimeout = errors.New("execx: command timed out")

const (
	// DefaultTimeout bounds commands whose Timeout is left unset.
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxOutputBytes caps captured bytes per stream.
	DefaultMaxOutputBytes = 10 << 20
)

// Command describes a single external process invocation.
type Command struct {
	// Argv is the program and its arguments; Argv[0] is resolved via PATH.
	Argv []string

	// Dir is the working directory. Empty means the parent's.
	Dir string

	// Timeout bounds the whole run. Zero means DefaultTimeout.
	Timeout time.Duration

	// Env entries are appended to the parent environment.
	Env []string
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Argv) == 0 {
		return ""
	}
	out := c.Argv[0]
	for _, a := range c.Argv[1:] {
		out += " " + a
	}
	return out
}

// Result holds everything observed from a finished process.
//
// A non-zero exit code is an observation, not an error: Run returns a nil
// error whenever the process could be started and reaped, regardless of how
// it exited. Errors are reserved for infrastructure failures (unresolvable
// binary, timeout, cancellation).
type Result struct {
	// ExitCode is the process exit code, or -1 when unavailable.
	ExitCode int

	Stdout string
	Stderr string

	// Combined interleaves stdout and stderr in arrival order.
	Combined string

	Duration time.Duration

	// Killed reports that the process was terminated by timeout or
	// cancellation rather than exiting on its own.
	Killed bool

	// Truncated reports that one of the streams hit the output cap.
	Truncated bool
}

// Runner executes commands. Production code uses NewRunner; tests wire
// function-backed fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// NewRunner returns a Runner backed by os/exec with the default output cap.
func NewRunner() Runner {
	return &processRunner{maxOutput: DefaultMaxOutputBytes}
}

type processRunner struct {
	maxOutput int64
}

func (r *processRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{ExitCode: -1}, errors.New("execx: empty argv")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}

	var combined lockedBuffer
	stdout := &limitedWriter{max: r.maxOutput, mirror: &combined}
	stderr := &limitedWriter{max: r.maxOutput, mirror: &combined}
	proc.Stdout = stdout
	proc.Stderr = stderr

	start := time.Now()
	err := proc.Run()

	res := Result{
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Combined:  combined.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if proc.ProcessState != nil {
		res.ExitCode = proc.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Killed = true
		return res, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, cmd.Argv[0])
	case ctx.Err() != nil:
		res.Killed = true
		return res, fmt.Errorf("execx: %s: %w", cmd.Argv[0], ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return res, fmt.Errorf("execx: starting %s: %w", cmd.Argv[0], err)
	}
}

// lockedBuffer is a mutex-guarded buffer shared between the stdout and
// stderr pipes to preserve interleaving.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// limitedWriter keeps at most max bytes of its stream and mirrors whatever
// it keeps into the shared combined buffer. Each instance is written by a
// single pipe goroutine; only the mirror is shared.
type limitedWriter struct {
	buf       bytes.Buffer
	max       int64
	mirror    *lockedBuffer
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if remain := w.max - int64(w.buf.Len()); remain > 0 {
		keep := p
		if int64(len(keep)) > remain {
			keep = keep[:remain]
			w.truncated = true
		}
		w.buf.Write(keep)
		if w.mirror != nil {
			w.mirror.Write(keep) //nolint:errcheck // bytes.Buffer never fails
		}
	} else if n > 0 {
		w.truncated = true
	}
	return n, nil
}

func (w *limitedWriter) String() string { return w.buf.String() }

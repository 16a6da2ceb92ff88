package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// State is the orchestrator's position in the control loop.
type State string

const (
	// StateIdle is the initial state before Run.
	StateIdle State = "idle"

	// StatePassRunning covers the pass-start probe and fixer scheduling.
	StatePassRunning State = "pass_running"

	// StateFixerRunning covers checkpoint creation and the fixer
	// invocation of one attempt.
	StateFixerRunning State = "fixer_running"

	// StateEvaluating covers the post-attempt probe and the delta
	// decision.
	StateEvaluating State = "evaluating"

	// StateAccepted means the last attempt was kept.
	StateAccepted State = "accepted"

	// StateReverted means the last attempt was rolled back.
	StateReverted State = "reverted"

	// StatePassDone covers the pass-end probe and pass bookkeeping.
	StatePassDone State = "pass_done"

	// StateGlobalDone is terminal.
	StateGlobalDone State = "global_done"
)

var validTransitions = map[State][]State{
	StateIdle:         {StatePassRunning},
	StatePassRunning:  {StateFixerRunning, StatePassDone, StateGlobalDone},
	StateFixerRunning: {StateEvaluating, StateFixerRunning, StatePassDone},
	StateEvaluating:   {StateAccepted, StateReverted},
	StateAccepted:     {StateFixerRunning, StatePassDone},
	StateReverted:     {StateFixerRunning, StatePassDone},
	StatePassDone:     {StatePassRunning, StateGlobalDone},
	StateGlobalDone:   nil,
}

// ValidTransition reports whether the state machine allows moving from one
// state to another.
func ValidTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StopReason explains why a run reached its terminal state.
type StopReason string

const (
	// ReasonTargetMet: the total dropped below the global target.
	ReasonTargetMet StopReason = "target_met"

	// ReasonNoProgress: a pass after the first accepted nothing.
	ReasonNoProgress StopReason = "no_progress"

	// ReasonPassBudget: maxPasses ran without meeting the target. This
	// is a normal outcome, not an error.
	ReasonPassBudget StopReason = "pass_budget_exhausted"

	// ReasonAborted: cancellation arrived between external invocations.
	ReasonAborted StopReason = "aborted"

	// ReasonRestoreFailed: a checkpoint restore failed, leaving the
	// tree in an untrusted state.
	ReasonRestoreFailed StopReason = "restore_failed"
)

// ErrHalted wraps the fatal condition that stopped a run before its normal
// terminal state.
var ErrHalted = errors.New("orchestrator: run halted")

// Config bounds one remediation run.
type Config struct {
	// WorkingDir is the tree fixers operate on.
	WorkingDir string

	// GlobalTarget is the total diagnostic count the run tries to get
	// below. The comparison is strict, so a target of 0 can never be
	// met; such a run still terminates through the pass budget.
	GlobalTarget int

	// MaxAllowedIncrease is the safety margin: an attempt whose total
	// rises by more than this is reverted.
	MaxAllowedIncrease int

	// MaxPasses bounds full traversals of the fixer registry.
	MaxPasses int

	// DryRun keeps the checkpoint/probe/evaluate cycle but skips the
	// fixer invocations themselves.
	DryRun bool
}

// DefaultConfig returns the stock run bounds.
func DefaultConfig() *Config {
	return &Config{
		GlobalTarget:       10,
		MaxAllowedIncrease: 100,
		MaxPasses:          5,
	}
}

// Validate checks the run bounds.
func (c *Config) Validate() error {
	if c.WorkingDir == "" {
		return errors.New("orchestrator: working directory is required")
	}
	if c.GlobalTarget < 0 {
		return fmt.Errorf("orchestrator: global target must be >= 0, got %d", c.GlobalTarget)
	}
	if c.MaxAllowedIncrease < 0 {
		return fmt.Errorf("orchestrator: max allowed increase must be >= 0, got %d", c.MaxAllowedIncrease)
	}
	if c.MaxPasses < 1 {
		return fmt.Errorf("orchestrator: max passes must be >= 1, got %d", c.MaxPasses)
	}
	return nil
}

// EventType labels run lifecycle events.
type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventPassStarted       EventType = "pass_started"
	EventFixerSkipped      EventType = "fixer_skipped"
	EventIterationAccepted EventType = "iteration_accepted"
	EventIterationReverted EventType = "iteration_reverted"
	EventPassFinished      EventType = "pass_finished"
	EventRunFinished       EventType = "run_finished"
)

// Event is one lifecycle notification. Fields beyond Type, RunID and Time
// are populated where they apply.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	Pass    int       `json:"pass,omitempty"`
	FixerID string    `json:"fixer_id,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Total   int       `json:"total,omitempty"`
	Delta   int       `json:"delta,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Observer receives lifecycle events. Callbacks run inline on the
// orchestration goroutine and must return quickly.
type Observer func(Event)

// View is a point-in-time snapshot of run progress, served by the status
// endpoint and polled by the monitor.
type View struct {
	RunID        string    `json:"run_id"`
	State        State     `json:"state"`
	Pass         int       `json:"pass"`
	MaxPasses    int       `json:"max_passes"`
	FixerID      string    `json:"fixer_id,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	InitialTotal int       `json:"initial_total"`
	CurrentTotal int       `json:"current_total"`
	GlobalTarget int       `json:"global_target"`
	Accepted     int       `json:"accepted"`
	Reverted     int       `json:"reverted"`
	DryRun       bool      `json:"dry_run,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// passTally accumulates one pass's outcomes. It is threaded through the
// loop explicitly and folded into the run tally, never stored globally.
type passTally struct {
	accepted int
	reverted int
	skipped  int
}

func (t passTally) fold(o passTally) passTally {
	return passTally{
		accepted: t.accepted + o.accepted,
		reverted: t.reverted + o.reverted,
		skipped:  t.skipped + o.skipped,
	}
}

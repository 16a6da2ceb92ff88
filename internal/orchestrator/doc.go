// Package orchestrator drives the remediation control loop: apply fixers,
// measure their effect against the validation probe, and revert anything
// that makes the tree worse.
//
// # Overview
//
// A run is a bounded sequence of passes. Each pass walks the fixer registry
// in order and gives every fixer a budget of attempts. Every attempt is
// bracketed by a working-tree checkpoint and a before/after probe pair, so
// acceptance is decided purely by the measured diagnostic delta, never by
// the fixer's exit code.
//
// # State machine
//
//	Idle → PassRunning → FixerRunning → Evaluating → (Accepted | Reverted)
//	       → FixerRunning(next) | PassDone → PassRunning(next) | GlobalDone
//
// GlobalDone is always reached: the pass budget, the per-fixer attempt
// budgets, and the no-progress stops bound the number of external
// invocations even when the validation command never succeeds.
//
// # Acceptance rule
//
// For one attempt with measurements before and after:
//
//	delta = after.total - before.total
//	delta >  maxAllowedIncrease  → restore checkpoint, stop this fixer for the pass
//	delta <= maxAllowedIncrease  → keep the change, before = after
//
// A fixer also stops early inside a pass when its category drops below its
// per-category target, or when an accepted attempt produced no category
// improvement.
//
// # Failure handling
//
// Probe degradation is absorbed: the probe's sentinel total stands in for
// the real count, which biases the delta toward a revert. A failed
// checkpoint skips the current fixer. A failed restore halts the run
// immediately; the tree can no longer be trusted. Fixer crashes and
// non-zero exits are recorded and then judged by the measured delta like
// any other attempt.
//
// # Cancellation
//
// The run aborts only between external invocations. If a checkpoint is
// pending when the abort lands, it is restored first, so the tree never
// keeps a partial, unmeasured fixer mutation.
//
// # Usage
//
//	svc, err := orchestrator.NewService(cfg, prober, tree, fixers, recorder, logger)
//	if err != nil { ... }
//	svc.OnEvent(func(e orchestrator.Event) { ... })
//	result, err := svc.Run(ctx)
//
// The caller owns artifact writing: on a fatal error the report generator
// still holds everything recorded so far, and its snapshot is marked
// incomplete.
package orchestrator

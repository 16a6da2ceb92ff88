// Package report accumulates the outcome of a remediation run and renders
// it as a JSON artifact and as human-readable text.
//
// The generator is append-only: every attempt is recorded as it happens, so
// a best-effort artifact can be written even when the run is aborted before
// Finalize. Reports produced from an aborted run carry incomplete=true.
package report

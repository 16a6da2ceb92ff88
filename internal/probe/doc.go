// Package probe measures the health of a working tree by running an
// external validation command and counting its diagnostics per category.
//
// The probe never mutates the tree. A clean exit means zero diagnostics;
// a non-zero exit is parsed line by line against the diagnostic grammar.
// Reads that stay unusable after the retry budget yield a conservative
// sentinel total so callers err toward caution, never toward false success.
package probe

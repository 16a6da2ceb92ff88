package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/remendlabs/remend/internal/probe"
)

func TestFormatProbe(t *testing.T) {
	t.Run("lists categories sorted by code", func(t *testing.T) {
		out := formatProbe(probe.Snapshot{
			Total:      37,
			ByCategory: map[string]int{"6133": 16, "2304": 21},
			Duration:   1500 * time.Millisecond,
		})

		assert.Contains(t, out, "diagnostics: 37 in 2 categories (1.5s)")
		assert.Contains(t, out, "2304       21")
		assert.Contains(t, out, "6133       16")
		assert.Less(t, strings.Index(out, "2304"), strings.Index(out, "6133"))
	})

	t.Run("clean tree", func(t *testing.T) {
		out := formatProbe(probe.Snapshot{Duration: 800 * time.Millisecond})

		assert.Contains(t, out, "validation passed: no diagnostics (0.8s)")
	})

	t.Run("degraded probe names the sentinel", func(t *testing.T) {
		out := formatProbe(probe.Snapshot{Total: 100000, Degraded: true})

		assert.Contains(t, out, "degraded")
		assert.Contains(t, out, "sentinel total 100000")
	})
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "2.5s", formatElapsed(2500*time.Millisecond))
	assert.Equal(t, "1m 34s", formatElapsed(94*time.Second))
}

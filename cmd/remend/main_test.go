package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands_Registered(t *testing.T) {
	want := []string{"run", "probe", "fixers", "report", "history", "watch", "monitor", "mcp", "version"}

	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, names[name], "command %q not registered", name)
	}
}

func TestSubcommands_Registered(t *testing.T) {
	subs := func(name string) map[string]bool {
		t.Helper()
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				out := make(map[string]bool)
				for _, sub := range cmd.Commands() {
					out[sub.Name()] = true
				}
				return out
			}
		}
		t.Fatalf("command %q not found", name)
		return nil
	}

	report := subs("report")
	assert.True(t, report["show"])
	assert.True(t, report["publish"])

	history := subs("history")
	assert.True(t, history["list"])
	assert.True(t, history["search"])
}

func TestCommands_HaveHelp(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			continue
		}
		assert.NotEmpty(t, cmd.Short, "command %q should have Short description", cmd.Name())
	}
}

func TestExitCodeError_Unwraps(t *testing.T) {
	err := fmt.Errorf("run finished: %w", &exitCodeError{code: 1, msg: "target not met"})

	var exitErr *exitCodeError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.code)
	assert.Equal(t, "target not met", exitErr.Error())
}

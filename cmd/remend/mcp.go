package main

import (
	"github.com/spf13/cobra"

	"github.com/remendlabs/remend/internal/execx"
	"github.com/remendlabs/remend/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve remend tools over the Model Context Protocol on stdio",
	Long: `Serve read-only remend tools to an MCP client (an editor or coding
agent) over stdio: probe_run executes one validation probe, fixers_list
returns the configured fixers, report_get loads the last run's artifact.

The server never mutates the working tree; remediation stays behind
"remend run". Logs go to stderr, the protocol owns stdout.

Example client registration (Claude Code):
  claude mcp add remend -- remend mcp --config /path/to/remend.yaml`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	runner := execx.NewRunner()
	probes, err := a.probeService(runner)
	if err != nil {
		return err
	}
	fixers, err := a.fixerRegistry(runner)
	if err != nil {
		return err
	}

	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "remend",
		Version: version,
		Logger:  a.logger,
	}, probes, fixers, a.reportPath())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	return srv.Run(ctx)
}

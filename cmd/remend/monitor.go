package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/remendlabs/remend/internal/monitor"
)

var (
	// monitor command flags
	monitorAddr     string
	monitorInterval time.Duration
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "", "status server address (default: status.addr from config)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "poll interval")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for a running remediation",
	Long: `Attach a live terminal dashboard to a run's status server: current pass
and fixer, a sparkline of the diagnostic total, accepted/reverted counts,
and the most recent iterations.

Start the run with a status address first:
  remend run --status-addr 127.0.0.1:7177

Examples:
  # Attach to the configured status address
  remend monitor

  # Attach to an explicit address, slower polling
  remend monitor --addr 127.0.0.1:8787 --interval 2s`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Status.Addr
	if cmd.Flags().Changed("addr") {
		addr = monitorAddr
	}
	if addr == "" {
		return fmt.Errorf("no status address: set status.addr or pass --addr")
	}

	model := monitor.NewModel(baseURL(addr), monitorInterval)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}
	return nil
}

// baseURL turns a bare host:port into an http URL, leaving explicit
// schemes alone.
func baseURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

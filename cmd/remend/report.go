package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/publish"
	"github.com/remendlabs/remend/internal/report"
)

var (
	// report publish flags
	publishRepo  string
	publishIssue int
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportPublishCmd)

	reportPublishCmd.Flags().StringVar(&publishRepo, "repo", "", "GitHub repository as owner/name (overrides publish.repo)")
	reportPublishCmd.Flags().IntVar(&publishIssue, "issue", 0, "issue or PR number to comment on (overrides publish.issue)")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Work with run report artifacts",
	Long: `Work with the JSON report artifact a remediation run writes.

Examples:
  # Render the configured report path
  remend report show

  # Render a specific artifact
  remend report show .remend/report.json

  # Post the summary as a GitHub issue comment
  remend report publish --repo acme/app --issue 42`,
}

var reportShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Render a report artifact in human-readable form",
	Long: `Render a report artifact. Without a path the configured report.path is
read, so "remend report show" after "remend run" prints the last run.

Examples:
  # Last run
  remend report show

  # A saved artifact
  remend report show /tmp/run-archive.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReportShow,
}

var reportPublishCmd = &cobra.Command{
	Use:   "publish [path]",
	Short: "Post a report summary as a GitHub issue comment",
	Long: `Post the report summary as a comment on a GitHub issue or pull request.
The comment is updated in place on later runs, so an issue carries at
most one report comment.

The API token comes from the GITHUB_TOKEN environment variable.

Examples:
  # Publish the last run to the configured issue
  remend report publish

  # Publish a saved artifact to an explicit issue
  remend report publish /tmp/run-archive.json --repo acme/app --issue 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReportPublish,
}

func runReportShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := loadReportArg(a, args)
	if err != nil {
		return err
	}

	fmt.Print(report.Render(rep))
	return nil
}

func runReportPublish(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	repo := a.cfg.Publish.Repo
	issue := a.cfg.Publish.Issue
	if cmd.Flags().Changed("repo") {
		repo = publishRepo
	}
	if cmd.Flags().Changed("issue") {
		issue = publishIssue
	}
	if repo == "" {
		return fmt.Errorf("no repository to publish to: set publish.repo or pass --repo")
	}

	target, err := publish.ParseTarget(repo, issue)
	if err != nil {
		return err
	}

	rep, err := loadReportArg(a, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	client, err := publish.NewClient(ctx)
	if err != nil {
		return err
	}
	svc, err := publish.NewService(client, a.logger)
	if err != nil {
		return err
	}

	url, err := svc.PublishReport(ctx, target, rep)
	if err != nil {
		return fmt.Errorf("failed to publish report %s: %w", rep.RunID, err)
	}

	a.logger.Info("report published",
		zap.String("run_id", rep.RunID),
		zap.String("repo", repo),
		zap.Int("issue", issue))
	fmt.Printf("Published: %s\n", url)
	return nil
}

// loadReportArg reads the artifact named by the first positional argument,
// falling back to the configured report path.
func loadReportArg(a *app, args []string) (*report.Report, error) {
	path := a.reportPath()
	if len(args) > 0 {
		path = args[0]
	}

	rep, err := report.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no report found at %s (run \"remend run\" first)", path)
		}
		return nil, err
	}
	return rep, nil
}

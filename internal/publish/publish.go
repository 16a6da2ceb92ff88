// Package publish posts run reports as GitHub issue comments.
//
// Each issue carries at most one report comment: a hidden marker in the
// body identifies it, and later runs edit that comment in place instead
// of stacking new ones. The API token is read from the GITHUB_TOKEN
// environment variable only, never from configuration files.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/remendlabs/remend/internal/report"
)

// commentMarker identifies the report comment across runs.
const commentMarker = "<!-- remend-run-report -->"

// tokenEnv names the environment variable holding the API token.
const tokenEnv = "GITHUB_TOKEN"

// Target identifies the issue a report is posted to.
type Target struct {
	Owner string
	Repo  string
	Issue int
}

// ParseTarget splits an "owner/name" repo string and validates the issue
// number.
func ParseTarget(repo string, issue int) (Target, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Target{}, fmt.Errorf("repo must be owner/name, got %q", repo)
	}
	if issue < 1 {
		return Target{}, fmt.Errorf("issue number must be >= 1, got %d", issue)
	}
	return Target{Owner: owner, Repo: name, Issue: issue}, nil
}

// NewClient creates a GitHub client authenticated with the token from
// GITHUB_TOKEN.
func NewClient(ctx context.Context) (*github.Client, error) {
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%s is not set", tokenEnv)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc), nil
}

// Service publishes reports to GitHub issues.
type Service struct {
	client *github.Client
	logger *zap.Logger
	retry  *RetryConfig
}

// NewService creates a publishing service around an authenticated client.
func NewService(client *github.Client, logger *zap.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("github client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client: client,
		logger: logger,
		retry:  DefaultRetryConfig(),
	}, nil
}

// PublishReport posts the report as a comment on the target issue and
// returns the comment URL. An existing marked comment is edited in place.
func (s *Service) PublishReport(ctx context.Context, target Target, rep *report.Report) (string, error) {
	if rep == nil {
		return "", errors.New("report is required")
	}

	body := buildComment(rep)

	existing, err := s.findMarkedComment(ctx, target)
	if err != nil {
		return "", err
	}

	if existing != nil {
		var updated *github.IssueComment
		_, err = retryOperation(ctx, s.retry, s.logger, func() (*github.Response, error) {
			c, resp, callErr := s.client.Issues.EditComment(ctx, target.Owner, target.Repo, existing.GetID(), &github.IssueComment{
				Body: &body,
			})
			if callErr == nil {
				updated = c
			}
			return resp, callErr
		})
		if err != nil {
			return "", fmt.Errorf("failed to update comment: %w", err)
		}

		s.logger.Info("updated report comment",
			zap.String("run_id", rep.RunID),
			zap.String("url", updated.GetHTMLURL()))
		return updated.GetHTMLURL(), nil
	}

	var created *github.IssueComment
	_, err = retryOperation(ctx, s.retry, s.logger, func() (*github.Response, error) {
		c, resp, callErr := s.client.Issues.CreateComment(ctx, target.Owner, target.Repo, target.Issue, &github.IssueComment{
			Body: &body,
		})
		if callErr == nil {
			created = c
		}
		return resp, callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to create comment: %w", err)
	}

	s.logger.Info("created report comment",
		zap.String("run_id", rep.RunID),
		zap.String("url", created.GetHTMLURL()))
	return created.GetHTMLURL(), nil
}

// findMarkedComment pages through the issue's comments looking for the
// marker. Returns nil when no report comment exists yet.
func (s *Service) findMarkedComment(ctx context.Context, target Target) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var comments []*github.IssueComment
		resp, err := retryOperation(ctx, s.retry, s.logger, func() (*github.Response, error) {
			c, resp, callErr := s.client.Issues.ListComments(ctx, target.Owner, target.Repo, target.Issue, opts)
			if callErr == nil {
				comments = c
			}
			return resp, callErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}

		for _, c := range comments {
			if strings.Contains(c.GetBody(), commentMarker) {
				return c, nil
			}
		}

		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// buildComment builds the markdown comment body for a report.
func buildComment(rep *report.Report) string {
	var b strings.Builder

	// HTML comment marker for reliable identification
	b.WriteString(commentMarker + "\n")

	switch {
	case rep.Incomplete:
		b.WriteString("## ⚠️ Remediation Run Incomplete\n\n")
		b.WriteString("The run was aborted before finishing. Figures below cover the completed portion only.\n\n")
	case rep.Summary.TargetMet:
		b.WriteString("## ✅ Remediation Target Met\n\n")
	default:
		b.WriteString("## ❌ Remediation Target Not Met\n\n")
	}

	fmt.Fprintf(&b, "Run `%s` finished with exit code %d.\n\n", rep.RunID, rep.Summary.ExitCode)

	b.WriteString("| | |\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(&b, "| Diagnostics | %d -> %d |\n", rep.Summary.InitialTotal, rep.Summary.FinalTotal)
	fmt.Fprintf(&b, "| Removed | %d |\n", rep.Summary.Removed)
	fmt.Fprintf(&b, "| Passes | %d |\n", rep.Summary.Passes)
	fmt.Fprintf(&b, "| Iterations | %d (%d accepted, %d reverted) |\n",
		rep.Summary.Iterations, rep.Summary.Accepted, rep.Summary.Reverted)
	fmt.Fprintf(&b, "| Duration | %s |\n", (time.Duration(rep.Metadata.DurationSec) * time.Second).String())
	b.WriteString("\n")

	b.WriteString("<details>\n<summary>Full report</summary>\n\n")
	b.WriteString("```\n")
	b.WriteString(report.Render(rep))
	b.WriteString("```\n")
	b.WriteString("</details>\n\n")

	b.WriteString("---\n\n")
	b.WriteString("*Posted by remend. This comment is updated in place on each run.*\n")

	return b.String()
}

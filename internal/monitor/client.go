package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/report"
)

// StatusClient queries the remend status server.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a new status client.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// FetchState returns the current run snapshot. found is false while the
// server is up but no run is attached yet.
func (c *StatusClient) FetchState(ctx context.Context) (orchestrator.View, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/state", nil)
	if err != nil {
		return orchestrator.View{}, false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return orchestrator.View{}, false, fmt.Errorf("status server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return orchestrator.View{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return orchestrator.View{}, false, fmt.Errorf("status server returned %d", resp.StatusCode)
	}

	var view orchestrator.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return orchestrator.View{}, false, fmt.Errorf("decode state payload: %w", err)
	}

	return view, true, nil
}

// FetchReport returns the last finished run's artifact, or nil when no
// run has finished yet.
func (c *StatusClient) FetchReport(ctx context.Context) (*report.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/report", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status server returned %d", resp.StatusCode)
	}

	var r report.Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report payload: %w", err)
	}

	return &r, nil
}

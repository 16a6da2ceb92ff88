package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/report"
)

// stubViews returns a fixed snapshot.
type stubViews struct {
	view orchestrator.View
}

func (s stubViews) View() orchestrator.View { return s.view }

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	server, err := NewServer(zap.NewNop(), &Config{Addr: "127.0.0.1:7177"})
	require.NoError(t, err)

	return server
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Addr: "127.0.0.1:7177"}
		server, err := NewServer(zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7177", server.config.Addr)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleState(t *testing.T) {
	t.Run("returns 503 before a run is attached", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/state", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("returns the current snapshot", func(t *testing.T) {
		server := setupTestServer(t)
		server.SetViews(stubViews{view: orchestrator.View{
			RunID:        "run-42",
			State:        orchestrator.StateFixerRunning,
			Pass:         2,
			MaxPasses:    5,
			FixerID:      "import-fixer",
			Attempt:      1,
			InitialTotal: 50,
			CurrentTotal: 23,
			GlobalTarget: 10,
			Accepted:     3,
			Reverted:     1,
		}})

		req := httptest.NewRequest(http.MethodGet, "/state", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var view orchestrator.View
		err := json.Unmarshal(rec.Body.Bytes(), &view)
		require.NoError(t, err)
		assert.Equal(t, "run-42", view.RunID)
		assert.Equal(t, orchestrator.StateFixerRunning, view.State)
		assert.Equal(t, 2, view.Pass)
		assert.Equal(t, 23, view.CurrentTotal)
		assert.Equal(t, "import-fixer", view.FixerID)
	})

	t.Run("replacing the provider swaps the snapshot", func(t *testing.T) {
		server := setupTestServer(t)
		server.SetViews(stubViews{view: orchestrator.View{RunID: "run-1"}})
		server.SetViews(stubViews{view: orchestrator.View{RunID: "run-2"}})

		req := httptest.NewRequest(http.MethodGet, "/state", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		var view orchestrator.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "run-2", view.RunID)
	})
}

func TestHandleReport(t *testing.T) {
	t.Run("returns 404 before any run finishes", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/report", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns the recorded artifact", func(t *testing.T) {
		server := setupTestServer(t)
		server.SetReport(&report.Report{
			SchemaVersion: report.SchemaVersion,
			RunID:         "run-42",
			Initial:       report.Measurement{Total: 50, ObservedAt: time.Now()},
			Final:         report.Measurement{Total: 4, ObservedAt: time.Now()},
			Summary: report.Summary{
				InitialTotal: 50,
				FinalTotal:   4,
				Removed:      46,
				TargetMet:    true,
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/report", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var got report.Report
		err := json.Unmarshal(rec.Body.Bytes(), &got)
		require.NoError(t, err)
		assert.Equal(t, "run-42", got.RunID)
		assert.Equal(t, 50, got.Summary.InitialTotal)
		assert.Equal(t, 4, got.Summary.FinalTotal)
		assert.True(t, got.Summary.TargetMet)
	})
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerLifecycle(t *testing.T) {
	server, err := NewServer(zap.NewNop(), &Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = server.Shutdown(ctx)
	assert.NoError(t, err)

	select {
	case err := <-errChan:
		assert.True(t, err == nil || err == http.ErrServerClosed)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)

		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()

		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, req)
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

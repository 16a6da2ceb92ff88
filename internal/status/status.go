// Package status serves live run progress over HTTP.
//
// The server binds to loopback by default and exposes four endpoints:
// GET /health (liveness), GET /state (the current run snapshot, polled by
// the monitor), GET /report (the last finished run's artifact) and
// GET /metrics (Prometheus exposition).
package status

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/orchestrator"
	"github.com/remendlabs/remend/internal/report"
)

// ViewProvider supplies the current run snapshot. *orchestrator.Service
// implementations satisfy it.
type ViewProvider interface {
	View() orchestrator.View
}

// Config holds status server configuration.
type Config struct {
	Addr string
}

// Server exposes run progress endpoints.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	config *Config

	mu     sync.RWMutex
	views  ViewProvider
	latest *report.Report
}

// NewServer creates a status server. The view provider and report are
// attached later with SetViews and SetReport, so in watch mode the server
// outlives any single run.
func NewServer(logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:7177"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			// The monitor polls /state several times a second, so
			// request logs stay at debug level.
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/state", s.handleState)
	s.echo.GET("/report", s.handleReport)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// SetViews attaches the run whose snapshot /state serves. Each triggered
// run in watch mode replaces the previous provider.
func (s *Server) SetViews(v ViewProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = v
}

// SetReport records the artifact served by /report. The caller passes the
// already redacted report, the same content written to disk.
func (s *Server) SetReport(r *report.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleState returns the current run snapshot.
func (s *Server) handleState(c echo.Context) error {
	s.mu.RLock()
	views := s.views
	s.mu.RUnlock()

	if views == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no active run")
	}
	return c.JSON(http.StatusOK, views.View())
}

// handleReport returns the last finished run's artifact.
func (s *Server) handleReport(c echo.Context) error {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no report recorded yet")
	}
	return c.JSON(http.StatusOK, latest)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting status server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.echo.Shutdown(ctx)
}

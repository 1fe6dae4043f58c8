// Package http exposes the orchestrator over a REST API with a
// server-sent-events stream per session.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/logging"
	"github.com/fyrsmithlabs/curatord/internal/orchestrator"
	"github.com/fyrsmithlabs/curatord/internal/telemetry"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

// Sessions starts and controls live sessions.
type Sessions interface {
	Execute(ctx context.Context, req orchestrator.Request) (*orchestrator.Snapshot, error)
	Status(sessionID string) (*orchestrator.Snapshot, error)
	Approve(ctx context.Context, sessionID string, d orchestrator.Decision) (*orchestrator.Snapshot, error)
	Cancel(sessionID string) error
	Active() []string
}

// History reads persisted sessions and their event log.
type History interface {
	GetSession(ctx context.Context, id string) (*execution.Session, error)
	ListEvents(ctx context.Context, sessionID string) ([]events.Event, error)
	Ping(ctx context.Context) error
}

// Autonomy reports a user's autonomy level.
type Autonomy interface {
	CalculateAutonomyLevel(ctx context.Context, userID string) (int, error)
}

// Templates lists the registered workflow templates.
type Templates interface {
	Templates() []workflow.Template
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Heartbeat is the SSE comment interval. Zero means 15s.
	Heartbeat time.Duration
}

// Deps are the collaborators behind the API. All but Telemetry and Metrics
// are required.
type Deps struct {
	Sessions  Sessions
	History   History
	Autonomy  Autonomy
	Templates Templates
	Bus       *events.Bus
	Telemetry *telemetry.Telemetry
	Metrics   *HTTPMetrics
}

// Server provides the curatord HTTP API.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("sessions cannot be nil")
	case deps.History == nil:
		return nil, errors.New("history cannot be nil")
	case deps.Autonomy == nil:
		return nil, errors.New("autonomy cannot be nil")
	case deps.Templates == nil:
		return nil, errors.New("templates cannot be nil")
	case deps.Bus == nil:
		return nil, errors.New("bus cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8420}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewHTTPMetrics(deps.Telemetry.Meter(httpInstrumentationName), logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.MetricsMiddleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger logs each request and stores the request id on the request
// context for downstream logging.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidateID(reqID, "request id") == nil {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), reqID)))
			}

			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.GET("/sessions/:id/events", s.handleListEvents)
	v1.GET("/sessions/:id/stream", s.handleStream)
	v1.POST("/sessions/:id/approval", s.handleApproval)
	v1.DELETE("/sessions/:id", s.handleCancel)
	v1.GET("/templates", s.handleTemplates)
	v1.GET("/users/:id/autonomy", s.handleAutonomy)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

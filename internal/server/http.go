// Package server provides the HTTP surface: deployed endpoints dispatched by
// per-deployment API key, and master-key gated management routes.
package server

import (
	"context"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aibuilder/internal/deploy"
	"aibuilder/internal/storage"
	"aibuilder/internal/tasks"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options.
type Config struct {
	MasterKey       string // Optional: master key guarding management routes
	MetricsEnabled  bool   // Whether to expose the Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics (default: /metrics)
	BodySizeLimit   string // Max request body size (default: 10M)
}

// New creates a new HTTP server.
func New(store storage.Store, engine *deploy.Engine, taskHandler *tasks.Handler, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(store, engine, taskHandler)

	// Deployed endpoints authenticate with their own API keys; health and
	// metrics are public.
	authSkipPrefixes := []string{"/health", "/api/deployed/"}

	metricsPath := "/metrics"
	if cfg != nil && cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPrefixes = append(authSkipPrefixes, metricsPath)
	}

	// Global middleware stack (order matters)
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	bodyLimit := "10M"
	if cfg != nil && cfg.BodySizeLimit != "" {
		bodyLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodyLimit))

	if cfg != nil && cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPrefixes))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// Deployed application endpoints (per-deployment API key)
	e.POST("/api/deployed/:deploymentId", handler.ExecuteDeployed)
	e.GET("/api/deployed/:deploymentId", handler.DeployedStatus)

	// Management routes (master key)
	e.POST("/api/projects", handler.CreateProject)
	e.GET("/api/projects", handler.ListProjects)
	e.GET("/api/projects/:projectId", handler.GetProject)

	e.POST("/api/deployments", handler.CreateDeployment)
	e.GET("/api/deployments", handler.ListDeployments)
	e.GET("/api/deployments/:deploymentId", handler.GetDeployment)
	e.PUT("/api/deployments/:deploymentId", handler.UpdateDeployment)
	e.DELETE("/api/deployments/:deploymentId", handler.StopDeployment)

	e.POST("/api/data/sources", handler.CreateDataSource)
	e.GET("/api/data/sources", handler.ListDataSources)
	e.POST("/api/data/process", handler.ProcessDataSource)
	e.POST("/api/data/preview", handler.PreviewData)

	e.GET("/api/ai/models", handler.ListModels)
	e.POST("/api/ai/inference", handler.Inference)

	e.GET("/api/analytics", handler.Analytics)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, allowing Server to be used with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jai-vignesh007/EcoDev/internal/ratelimit"
	"github.com/jai-vignesh007/EcoDev/internal/service/backfill"
	"github.com/jai-vignesh007/EcoDev/internal/service/languages"
	"github.com/jai-vignesh007/EcoDev/internal/service/runs"
	"github.com/jai-vignesh007/EcoDev/internal/service/timeseries"
)

// Server is the EcoDev HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Languages, Backfill, Limiter, MCPServer,
// MetricsHandler, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Store     Store
	Runs      *runs.Engine
	Emissions *timeseries.Service
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Languages      *languages.Service
	Backfill       *backfill.Coordinator
	Limiter        ratelimit.Limiter
	MCPServer      *mcpserver.MCPServer
	MetricsHandler http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RequestTimeout      time.Duration
	Version             string
	MaxRequestBodyBytes int64
	TrustProxy          bool

	// Credentials. Empty AdminAPIKey disables the backfill endpoint; empty
	// WebhookSecret accepts unsigned deliveries.
	WebhookSecret string
	AdminAPIKey   string
	GitHubEnabled bool

	OpenAPISpec []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Runs:                cfg.Runs,
		Emissions:           cfg.Emissions,
		Languages:           cfg.Languages,
		Backfill:            cfg.Backfill,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		WebhookSecret:       cfg.WebhookSecret,
		AdminAPIKey:         cfg.AdminAPIKey,
		GitHubEnabled:       cfg.GitHubEnabled,
		RequestTimeout:      cfg.RequestTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.Limiter != nil {
		limiter = cfg.Limiter
	}
	limited := func(next http.Handler) http.Handler {
		return rateLimitMiddleware(limiter, cfg.Logger, cfg.TrustProxy, next)
	}

	mux := http.NewServeMux()

	// Provider deliveries (signature-checked, not rate limited so retries
	// from the provider are never rejected).
	mux.HandleFunc("POST /webhooks/github", h.HandleGitHubWebhook)

	// Query endpoints (rate limited by IP).
	mux.Handle("GET /v1/repos/{owner}/{repo}/emissions", limited(http.HandlerFunc(h.HandleRepoEmissions)))
	mux.Handle("GET /v1/owners/{owner}/emissions", limited(http.HandlerFunc(h.HandleOwnerEmissions)))
	mux.Handle("GET /v1/repos/{owner}/{repo}/runs/{run_id}", limited(http.HandlerFunc(h.HandleGetRun)))
	mux.Handle("GET /v1/repos/{owner}/{repo}/languages", limited(http.HandlerFunc(h.HandleLatestLanguages)))

	// Admin: asynchronous backfill (bearer admin key).
	mux.Handle("POST /v1/owners/{owner}/backfill", limited(http.HandlerFunc(h.HandleBackfill)))

	// MCP StreamableHTTP transport (read-only tools).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", limited(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Prometheus scrape endpoint.
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// OpenAPI spec (no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server, then waits for background
// backfills until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return errors.Join(s.httpServer.Shutdown(ctx), s.handlers.Drain(ctx))
}

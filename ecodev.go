// Package ecodev is the public API for embedding the EcoDev emissions server.
//
// Callers construct the server with options and run it until the context is
// cancelled:
//
//	app, err := ecodev.New(ctx,
//	    ecodev.WithVersion(version),
//	    ecodev.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: ecodev (root) imports
// internal/*, but internal/* never imports ecodev (root). Public result types
// live in types.go and are converted here.
package ecodev

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/jai-vignesh007/EcoDev/api"
	"github.com/jai-vignesh007/EcoDev/internal/config"
	"github.com/jai-vignesh007/EcoDev/internal/github"
	"github.com/jai-vignesh007/EcoDev/internal/mcp"
	"github.com/jai-vignesh007/EcoDev/internal/ratelimit"
	"github.com/jai-vignesh007/EcoDev/internal/server"
	"github.com/jai-vignesh007/EcoDev/internal/service/backfill"
	"github.com/jai-vignesh007/EcoDev/internal/service/languages"
	"github.com/jai-vignesh007/EcoDev/internal/service/runs"
	"github.com/jai-vignesh007/EcoDev/internal/service/timeseries"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
	"github.com/jai-vignesh007/EcoDev/internal/telemetry"
	"github.com/jai-vignesh007/EcoDev/migrations"
)

// ErrBackfillUnavailable is returned by Backfill when no GitHub token is
// configured.
var ErrBackfillUnavailable = errors.New("ecodev: backfill requires GITHUB_TOKEN")

// store is the union of what the services need from a backend. Both the
// Postgres pool and the embedded SQLite store satisfy it.
type store interface {
	runs.Store
	timeseries.RunLister
	languages.Store
	server.Store
	RunMigrations(ctx context.Context, migrationsFS fs.FS) error
	Close() error
}

// App is the EcoDev server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        store
	srv          *server.Server
	backfill     *backfill.Coordinator // nil without a GitHub token
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises EcoDev. It opens the store, runs migrations, wires all
// services and returns a ready-to-run App. It does NOT accept HTTP
// connections; call Run().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("ecodev starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	otelShutdown, metricsHandler, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	for _, extra := range o.extraMigrations {
		if err := st.RunMigrations(ctx, extra); err != nil {
			_ = st.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations: %w", err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		_ = st.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("default time zone: %w", err)
	}

	var ghClient *github.Client
	if cfg.GitHubToken != "" {
		var ghOpts []github.Option
		if o.githubBaseURL != "" {
			ghOpts = append(ghOpts, github.WithBaseURL(o.githubBaseURL))
		}
		ghClient, err = github.New(cfg.GitHubToken, cfg.GitHubUsername, ghOpts...)
		if err != nil {
			_ = st.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("github client: %w", err)
		}
	} else {
		logger.Info("GITHUB_TOKEN not set, backfill and language snapshots disabled")
	}

	engine := runs.New(st, cfg.Assumptions(), logger)

	// Keep the fetcher a nil interface, not a typed nil, when GitHub is off.
	var fetcher languages.Fetcher
	if ghClient != nil {
		fetcher = ghClient
	}
	langSvc := languages.New(st, fetcher, logger)

	tsOpts := []timeseries.Option{
		timeseries.WithLookbackDays(cfg.LookbackDays),
		timeseries.WithMaxWindowDays(cfg.MaxWindowDays),
	}
	if ghClient != nil {
		tsOpts = append(tsOpts, timeseries.WithRepositoryLister(ghClient))
	}
	emissionsSvc := timeseries.New(st, loc, logger, tsOpts...)

	var coordinator *backfill.Coordinator
	if ghClient != nil {
		bfOpts := []backfill.Option{
			backfill.WithConcurrency(cfg.BackfillConcurrency),
			backfill.WithRateLimit(cfg.GitHubRPS, cfg.GitHubBurst),
		}
		if cfg.BackfillLanguages {
			bfOpts = append(bfOpts, backfill.WithLanguages(langSvc))
		}
		coordinator = backfill.New(ghClient, engine, logger, bfOpts...)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	mcpSrv := mcp.New(emissionsSvc, st, langSvc, cfg.Assumptions(), logger, version)

	srv := server.New(server.ServerConfig{
		Store:               st,
		Runs:                engine,
		Emissions:           emissionsSvc,
		Logger:              logger,
		Languages:           langSvc,
		Backfill:            coordinator,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		MetricsHandler:      metricsHandler,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		TrustProxy:          cfg.TrustProxy,
		WebhookSecret:       cfg.GitHubWebhookSecret,
		AdminAPIKey:         cfg.AdminAPIKey,
		GitHubEnabled:       ghClient != nil,
		OpenAPISpec:         api.OpenAPISpec,
	})

	if cfg.GitHubWebhookSecret == "" {
		logger.Warn("GITHUB_WEBHOOK_SECRET not set, webhook deliveries are accepted unsigned")
	}

	return &App{
		cfg:          cfg,
		store:        st,
		srv:          srv,
		backfill:     coordinator,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// loadConfig reads .env and the environment unless the caller supplied a
// config, then applies option overrides and validates the result.
func loadConfig(o resolvedOptions) (config.Config, error) {
	var cfg config.Config
	if o.cfg != nil {
		cfg = *o.cfg
	} else {
		// .env is optional; production won't have one.
		_ = godotenv.Load()
		loaded, err := config.Load()
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.Store = config.StorePostgres
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.Store = config.StoreSQLite
		cfg.SQLitePath = o.sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		lite, err := storage.OpenLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if err := lite.RunMigrations(ctx, migrations.SQLite()); err != nil {
			_ = lite.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return lite, nil
	default:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil
	}
}

// Handler returns the root HTTP handler, for tests and for callers that
// serve EcoDev on their own listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. On return, Shutdown has been called; callers should not call it
// again.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server failed", "error", serveErr)
		}
	}

	return errors.Join(serveErr, a.Shutdown(context.Background()))
}

// Backfill runs one synchronous backfill for owner and returns its summary.
// It is the entry point for the CLI; the HTTP endpoint runs the same work in
// the background.
func (a *App) Backfill(ctx context.Context, owner string) (BackfillResult, error) {
	if a.backfill == nil {
		return BackfillResult{}, ErrBackfillUnavailable
	}
	res, err := a.backfill.Run(ctx, owner)
	if err != nil {
		return BackfillResult{}, err
	}
	return toPublicBackfillResult(res), nil
}

// Close releases the store, limiter and telemetry without touching the HTTP
// server. Use it after Backfill when Run was never called.
func (a *App) Close() error {
	return errors.Join(
		a.limiter.Close(),
		a.store.Close(),
		a.otelShutdown(context.Background()),
	)
}

// Shutdown stops accepting HTTP requests, waits for in-flight requests and
// background backfills up to the configured shutdown timeout, then releases
// the store, limiter and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("ecodev shutting down")

	drainCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := a.srv.Shutdown(drainCtx); err != nil {
		a.logger.Error("http shutdown incomplete", "error", err)
		errs = append(errs, err)
	}

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("ecodev stopped")
	return errors.Join(errs...)
}

func toPublicBackfillResult(r backfill.Result) BackfillResult {
	return BackfillResult{
		BatchID:                 r.BatchID,
		Owner:                   r.Owner,
		ReposSeen:               r.ReposSeen,
		ReposFailed:             r.ReposFailed,
		RunsSeen:                r.RunsSeen,
		RunsInserted:            r.RunsInserted,
		RunsUpdated:             r.RunsUpdated,
		RunsFailed:              r.RunsFailed,
		LanguageSnapshots:       r.Snapshots,
		LanguageSnapshotsFailed: r.SnapshotsFailed,
		Duration:                r.Duration,
	}
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/backfill"
	"github.com/jai-vignesh007/EcoDev/internal/service/languages"
	"github.com/jai-vignesh007/EcoDev/internal/service/runs"
	"github.com/jai-vignesh007/EcoDev/internal/service/timeseries"
)

// Store is the read surface the handlers use directly. Both storage
// adapters satisfy it.
type Store interface {
	GetRun(ctx context.Context, key model.RunKey) (model.WorkflowRun, error)
	Ping(ctx context.Context) error
	Backend() string
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store          Store
	runs           *runs.Engine
	emissions      *timeseries.Service
	languages      *languages.Service
	backfill       *backfill.Coordinator
	logger         *slog.Logger
	startedAt      time.Time
	version        string
	webhookSecret  string
	adminAPIKey    string
	githubEnabled  bool
	requestTimeout time.Duration
	maxBodyBytes   int64
	openapiSpec    []byte

	// Asynchronous backfills outlive their request; Drain waits for them.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	bgMu     sync.Mutex
	draining bool
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Languages, Backfill, OpenAPISpec.
type HandlersDeps struct {
	Store               Store
	Runs                *runs.Engine
	Emissions           *timeseries.Service
	Languages           *languages.Service
	Backfill            *backfill.Coordinator
	Logger              *slog.Logger
	Version             string
	WebhookSecret       string
	AdminAPIKey         string
	GitHubEnabled       bool
	RequestTimeout      time.Duration
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	h := &Handlers{
		store:          d.Store,
		runs:           d.Runs,
		emissions:      d.Emissions,
		languages:      d.Languages,
		backfill:       d.Backfill,
		logger:         d.Logger,
		startedAt:      time.Now(),
		version:        d.Version,
		webhookSecret:  d.WebhookSecret,
		adminAPIKey:    d.AdminAPIKey,
		githubEnabled:  d.GitHubEnabled,
		requestTimeout: d.RequestTimeout,
		maxBodyBytes:   d.MaxRequestBodyBytes,
		openapiSpec:    d.OpenAPISpec,
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = 5 * 1024 * 1024
	}
	return h
}

// requestContext bounds store and provider calls made on behalf of r.
func (h *Handlers) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

// Drain waits for in-flight background backfills. If ctx expires first they
// are cancelled and Drain returns once they have stopped.
func (h *Handlers) Drain(ctx context.Context) error {
	h.bgMu.Lock()
	h.draining = true
	h.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.bgCancel()
		return nil
	case <-ctx.Done():
		h.bgCancel()
		<-done
		return ctx.Err()
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	githubStatus := "disabled"
	if h.githubEnabled {
		githubStatus = "configured"
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:  status,
		Version: h.version,
		Store:   storeStatus,
		Backend: h.store.Backend(),
		GitHub:  githubStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// Package backfill imports the historical workflow runs of every repository
// an owner has, feeding each one through the same upsert path as webhooks.
//
// Repositories are processed by a bounded worker pool. Every provider call
// first takes a token from one shared limiter, so the pool size controls
// parallelism while the limiter caps the request rate against the API.
// Failures are isolated: a repository whose listing fails is counted and
// skipped, and a run whose upsert fails is counted and skipped.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/runs"
	"github.com/jai-vignesh007/EcoDev/internal/telemetry"
)

// ErrNoSource is returned when backfill is requested without a provider.
var ErrNoSource = errors.New("backfill: no run source configured")

// Source lists repositories and their workflow runs.
type Source interface {
	ListRepositories(ctx context.Context, owner string) ([]model.Repository, error)
	// ListWorkflowRuns returns one page of runs and the next page number,
	// or 0 on the last page.
	ListWorkflowRuns(ctx context.Context, repo model.Repository, page int) ([]model.ObservedRun, int, error)
}

// Upserter records one observed run.
type Upserter interface {
	Upsert(ctx context.Context, obs model.ObservedRun) (runs.Outcome, error)
}

// LanguageRecorder captures a language snapshot for a repository.
type LanguageRecorder interface {
	Snapshot(ctx context.Context, repo model.Repository, commitSHA, batchID string) (model.LanguageSnapshot, error)
}

// Result summarizes one backfill batch.
type Result struct {
	BatchID         string        `json:"batch_id"`
	Owner           string        `json:"owner"`
	ReposSeen       int           `json:"repos_seen"`
	ReposFailed     int           `json:"repos_failed"`
	RunsSeen        int           `json:"runs_seen"`
	RunsInserted    int           `json:"runs_inserted"`
	RunsUpdated     int           `json:"runs_updated"`
	RunsFailed      int           `json:"runs_failed"`
	Snapshots       int           `json:"language_snapshots"`
	SnapshotsFailed int           `json:"language_snapshots_failed"`
	Duration        time.Duration `json:"duration_ns"`
}

type counters struct {
	reposFailed, runsSeen, inserted, updated, runsFailed, snapshots, snapshotsFailed atomic.Int64
}

// Coordinator runs backfills.
type Coordinator struct {
	source      Source
	upserter    Upserter
	languages   LanguageRecorder
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time
	logger      *slog.Logger

	runsCounter metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency sets how many repositories are processed at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimit caps provider calls at rps with the given burst. A
// non-positive rps disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Coordinator) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLanguages records a language snapshot for each repository after its
// runs are imported.
func WithLanguages(r LanguageRecorder) Option {
	return func(c *Coordinator) { c.languages = r }
}

// WithClock overrides the clock used for batch ids.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. source may be nil, in which case every
// backfill fails with ErrNoSource.
func New(source Source, upserter Upserter, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:      source,
		upserter:    upserter,
		limiter:     rate.NewLimiter(rate.Limit(5), 5),
		concurrency: 2,
		now:         time.Now,
		logger:      logger,
	}
	for _, o := range opts {
		o(c)
	}
	c.runsCounter, _ = telemetry.Meter("ecodev/backfill").Int64Counter("ecodev.backfill.runs",
		metric.WithDescription("Backfilled workflow runs by outcome"),
	)
	return c
}

// NewBatchID returns the identifier stamped on runs created by a backfill
// started at t.
func NewBatchID(t time.Time) string {
	return fmt.Sprintf("WF_BATCH_%d", t.UnixMilli())
}

// NewBatch returns a fresh batch id from the coordinator's clock.
func (c *Coordinator) NewBatch() string {
	return NewBatchID(c.now())
}

// Run backfills owner under a new batch id.
func (c *Coordinator) Run(ctx context.Context, owner string) (Result, error) {
	return c.RunBatch(ctx, owner, c.NewBatch())
}

// RunBatch backfills every repository of owner, tagging new runs with
// batchID. Per-item failures are counted in the result, not returned. The
// error is non-nil only when the repository listing fails or ctx ends, and
// in the latter case the partial result is still returned.
func (c *Coordinator) RunBatch(ctx context.Context, owner, batchID string) (Result, error) {
	start := time.Now()
	owner = strings.TrimSpace(owner)
	res := Result{BatchID: batchID, Owner: owner}
	if owner == "" || strings.Contains(owner, "/") {
		return res, &model.ValidationError{Field: "owner", Message: "must be a single account name"}
	}
	if c.source == nil {
		return res, ErrNoSource
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return res, err
	}
	repos, err := c.source.ListRepositories(ctx, owner)
	if err != nil {
		return res, &model.UpstreamError{Op: "list repositories", Err: err}
	}
	res.ReposSeen = len(repos)
	c.logger.Info("backfill: started", "owner", owner, "batch_id", batchID, "repos", len(repos))

	var cnt counters
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, repo := range repos {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c.backfillRepo(ctx, repo, batchID, &cnt)
			return nil
		})
	}
	_ = g.Wait()

	res.ReposFailed = int(cnt.reposFailed.Load())
	res.RunsSeen = int(cnt.runsSeen.Load())
	res.RunsInserted = int(cnt.inserted.Load())
	res.RunsUpdated = int(cnt.updated.Load())
	res.RunsFailed = int(cnt.runsFailed.Load())
	res.Snapshots = int(cnt.snapshots.Load())
	res.SnapshotsFailed = int(cnt.snapshotsFailed.Load())
	res.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		c.logger.Warn("backfill: interrupted", "owner", owner, "batch_id", batchID, "error", err)
		return res, err
	}
	c.logger.Info("backfill: finished",
		"owner", owner,
		"batch_id", batchID,
		"repos", res.ReposSeen,
		"repos_failed", res.ReposFailed,
		"runs", res.RunsSeen,
		"inserted", res.RunsInserted,
		"updated", res.RunsUpdated,
		"failed", res.RunsFailed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (c *Coordinator) backfillRepo(ctx context.Context, repo model.Repository, batchID string, cnt *counters) {
	log := c.logger.With("repo", repo.FullName, "batch_id", batchID)
	batch := batchID

	var headSHA string
	for page := 1; ; {
		if err := c.limiter.Wait(ctx); err != nil {
			cnt.reposFailed.Add(1)
			return
		}
		observed, next, err := c.source.ListWorkflowRuns(ctx, repo, page)
		if err != nil {
			cnt.reposFailed.Add(1)
			log.Warn("backfill: list runs failed", "page", page, "error", err)
			return
		}
		for _, obs := range observed {
			cnt.runsSeen.Add(1)
			obs.BackfillBatch = &batch
			if headSHA == "" && obs.CommitSHA != nil {
				headSHA = *obs.CommitSHA
			}
			outcome, err := c.upserter.Upsert(ctx, obs)
			if err != nil {
				cnt.runsFailed.Add(1)
				c.count(ctx, "error")
				log.Warn("backfill: upsert failed", "run_id", obs.RunID, "error", err)
				continue
			}
			switch outcome {
			case runs.Inserted:
				cnt.inserted.Add(1)
			case runs.Updated:
				cnt.updated.Add(1)
			}
			c.count(ctx, string(outcome))
		}
		if next <= page {
			break
		}
		page = next
	}

	if c.languages == nil {
		return
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := c.languages.Snapshot(ctx, repo, headSHA, batchID); err != nil {
		cnt.snapshotsFailed.Add(1)
		log.Warn("backfill: language snapshot failed", "error", err)
		return
	}
	cnt.snapshots.Add(1)
}

func (c *Coordinator) count(ctx context.Context, outcome string) {
	if c.runsCounter != nil {
		c.runsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

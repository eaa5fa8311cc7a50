// Package runs implements the idempotent upsert of workflow runs.
//
// Deliveries for the same run can arrive more than once, out of order, and
// from different sources (webhook and backfill). Upsert merges them into one
// record with two conditional store operations and no in-process locking:
//
//  1. insert the full record if the key is absent;
//  2. otherwise apply a Patch whose descriptive fields overwrite (guarded so
//     a stale status cannot regress a later one) and whose estimate fields
//     are set only if absent, so the first computed estimate wins.
package runs

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jai-vignesh007/EcoDev/internal/emissions"
	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
	"github.com/jai-vignesh007/EcoDev/internal/telemetry"
)

// Store is the persistence surface the engine needs.
type Store interface {
	InsertRunIfAbsent(ctx context.Context, run model.WorkflowRun) (bool, error)
	PatchRun(ctx context.Context, key model.RunKey, p storage.Patch) error
}

// Outcome reports which branch of the upsert was taken.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Updated  Outcome = "updated"
)

// Engine upserts observed runs.
type Engine struct {
	store       Store
	assumptions emissions.Assumptions
	now         func() time.Time
	logger      *slog.Logger

	upserts   metric.Int64Counter
	emittedMg metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for carbon_computed_at and default
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(store Store, assumptions emissions.Assumptions, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		assumptions: assumptions,
		now:         time.Now,
		logger:      logger,
	}
	for _, o := range opts {
		o(e)
	}

	meter := telemetry.Meter("ecodev/runs")
	var err error
	if e.upserts, err = meter.Int64Counter("ecodev.runs.upserted",
		metric.WithDescription("Workflow run upserts by outcome")); err != nil {
		logger.Warn("runs: create upsert counter", "error", err)
	}
	if e.emittedMg, err = meter.Int64Counter("ecodev.emissions.milligrams",
		metric.WithDescription("Estimated emissions of newly recorded runs"),
		metric.WithUnit("mg")); err != nil {
		logger.Warn("runs: create emissions counter", "error", err)
	}
	return e
}

// Upsert records obs. Validation failures return *model.ValidationError
// without touching the store; store failures return *model.UpstreamError.
func (e *Engine) Upsert(ctx context.Context, obs model.ObservedRun) (Outcome, error) {
	if err := obs.Validate(); err != nil {
		return "", err
	}
	now := e.now().UTC()
	obs = obs.Normalize(now)

	var est *emissions.Estimate
	if obs.Status == model.RunStatusCompleted {
		if got, ok := emissions.Compute(obs.StartedAt, obs.CompletedAt, obs.IsPrivate, e.assumptions); ok {
			est = &got
		}
	}

	created, err := e.store.InsertRunIfAbsent(ctx, newRecord(obs, est, e.assumptions, now))
	if err != nil {
		e.record(ctx, "error")
		return "", &model.UpstreamError{Op: "insert run", Err: err}
	}
	if created {
		e.record(ctx, string(Inserted))
		if est != nil && e.emittedMg != nil {
			e.emittedMg.Add(ctx, est.Milligrams)
		}
		e.logger.Debug("runs: inserted", "repo", obs.RepoFullName, "run_id", obs.RunID, "status", obs.Status)
		return Inserted, nil
	}

	if err := e.store.PatchRun(ctx, obs.Key(), mergePatch(obs, est, e.assumptions, now)); err != nil {
		// Records are never deleted, so ErrNotFound here is a store fault too.
		e.record(ctx, "error")
		return "", &model.UpstreamError{Op: "patch run", Err: err}
	}
	e.record(ctx, string(Updated))
	e.logger.Debug("runs: updated", "repo", obs.RepoFullName, "run_id", obs.RunID, "status", obs.Status)
	return Updated, nil
}

func (e *Engine) record(ctx context.Context, outcome string) {
	if e.upserts != nil {
		e.upserts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// newRecord builds the full record written when the key is absent.
func newRecord(obs model.ObservedRun, est *emissions.Estimate, a emissions.Assumptions, now time.Time) model.WorkflowRun {
	factors := a.Factors(obs.IsPrivate)
	version := a.Version
	run := model.WorkflowRun{
		RepoFullName:       obs.RepoFullName,
		RunID:              obs.RunID,
		Timestamp:          obs.Timestamp,
		Status:             obs.Status,
		Conclusion:         obs.Conclusion,
		StartedAt:          obs.StartedAt,
		CompletedAt:        obs.CompletedAt,
		Branch:             obs.Branch,
		Event:              obs.Event,
		WorkflowName:       obs.WorkflowName,
		CommitSHA:          obs.CommitSHA,
		Factors:            &factors,
		AssumptionsVersion: &version,
		BackfillBatch:      obs.BackfillBatch,
	}
	if est != nil {
		minutes, energy, mg, at := est.Minutes, est.EnergyKWh, est.Milligrams, now
		run.Minutes = &minutes
		run.EnergyKWh = &energy
		run.EmissionsMg = &mg
		run.CarbonComputedAt = &at
	}
	return run
}

// mergePatch builds the conflict-path update.
func mergePatch(obs model.ObservedRun, est *emissions.Estimate, a emissions.Assumptions, now time.Time) storage.Patch {
	var p storage.Patch
	p.Set(storage.ColObservedAt, obs.Timestamp).
		Set(storage.ColStatus, string(obs.Status)).
		Set(storage.ColConclusion, obs.Conclusion).
		Set(storage.ColStartedAt, obs.StartedAt).
		Set(storage.ColCompletedAt, obs.CompletedAt).
		Set(storage.ColBranch, obs.Branch).
		Set(storage.ColEvent, obs.Event).
		Set(storage.ColWorkflowName, obs.WorkflowName).
		Set(storage.ColCommitSHA, obs.CommitSHA)

	f := a.Factors(obs.IsPrivate)
	p.SetIfAbsent(storage.ColAssumedVCPUs, f.AssumedVCPUs).
		SetIfAbsent(storage.ColWattsPerVCPU, f.WattsPerVCPU).
		SetIfAbsent(storage.ColPUE, f.PUE).
		SetIfAbsent(storage.ColGridGramsPerKWh, f.GridGramsPerKWh).
		SetIfAbsent(storage.ColAssumptionsVersion, a.Version)

	if est != nil {
		p.SetIfAbsent(storage.ColMinutes, est.Minutes).
			SetIfAbsent(storage.ColEnergyKWh, est.EnergyKWh).
			SetIfAbsent(storage.ColEmissionsMg, est.Milligrams).
			SetIfAbsent(storage.ColCarbonComputedAt, now)
	}

	p.Guard(statusLifecycle(obs.Status))
	return p
}

func statusLifecycle(incoming model.RunStatus) storage.Lifecycle {
	order := make([]string, len(model.RunStatusOrder))
	for i, s := range model.RunStatusOrder {
		order[i] = string(s)
	}
	return storage.Lifecycle{Column: storage.ColStatus, Order: order, Incoming: string(incoming)}
}

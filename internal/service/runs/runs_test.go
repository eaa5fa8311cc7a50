package runs_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jai-vignesh007/EcoDev/internal/emissions"
	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/runs"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
	"github.com/jai-vignesh007/EcoDev/internal/testutil"
	"github.com/jai-vignesh007/EcoDev/migrations"
)

var fixedNow = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *storage.Lite {
	t.Helper()
	ctx := context.Background()
	s, err := storage.OpenLite(ctx, filepath.Join(t.TempDir(), "runs.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.RunMigrations(ctx, migrations.SQLite()))
	return s
}

func newEngine(store runs.Store, a emissions.Assumptions) *runs.Engine {
	return runs.New(store, a, testutil.TestLogger(), runs.WithClock(func() time.Time { return fixedNow }))
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func completedRun(id string) model.ObservedRun {
	return model.ObservedRun{
		RepoFullName: "acme/api",
		RunID:        id,
		IsPrivate:    true,
		Status:       model.RunStatusCompleted,
		Conclusion:   model.StringPtr("success"),
		StartedAt:    ts("2024-01-01T12:00:00Z"),
		CompletedAt:  ts("2024-01-01T12:10:00Z"),
		Branch:       model.StringPtr("main"),
		Event:        model.StringPtr("push"),
		WorkflowName: model.StringPtr("CI"),
	}
}

func TestUpsertComputesEstimateForCompletedRun(t *testing.T) {
	store := newStore(t)
	engine := newEngine(store, emissions.DefaultAssumptions())
	ctx := context.Background()

	outcome, err := engine.Upsert(ctx, completedRun("1"))
	require.NoError(t, err)
	assert.Equal(t, runs.Inserted, outcome)

	got, err := store.GetRun(ctx, model.RunKey{RepoFullName: "acme/api", RunID: "1"})
	require.NoError(t, err)
	require.NotNil(t, got.EmissionsMg)
	assert.Equal(t, int64(1867), *got.EmissionsMg)
	assert.Equal(t, 10.0, *got.Minutes)
	assert.Equal(t, "v1", *got.AssumptionsVersion)
	assert.Equal(t, 2, got.Factors.AssumedVCPUs)
	require.NotNil(t, got.CarbonComputedAt)
	assert.True(t, got.CarbonComputedAt.Equal(fixedNow))
	// Timestamp falls back to the start time.
	assert.True(t, got.Timestamp.Equal(*ts("2024-01-01T12:00:00Z")))
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newStore(t)
	engine := newEngine(store, emissions.DefaultAssumptions())
	ctx := context.Background()
	key := model.RunKey{RepoFullName: "acme/api", RunID: "2"}

	_, err := engine.Upsert(ctx, completedRun("2"))
	require.NoError(t, err)
	first, err := store.GetRun(ctx, key)
	require.NoError(t, err)

	outcome, err := engine.Upsert(ctx, completedRun("2"))
	require.NoError(t, err)
	assert.Equal(t, runs.Updated, outcome)
	second, err := store.GetRun(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpsertEstimateIsWriteOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := model.RunKey{RepoFullName: "acme/api", RunID: "3"}

	_, err := newEngine(store, emissions.DefaultAssumptions()).Upsert(ctx, completedRun("3"))
	require.NoError(t, err)

	dirtier := emissions.DefaultAssumptions()
	dirtier.GridGramsPerKWh = 900
	dirtier.WattsPerVCPU = 50
	dirtier.Version = "v2"
	_, err = newEngine(store, dirtier).Upsert(ctx, completedRun("3"))
	require.NoError(t, err)

	got, err := store.GetRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1867), *got.EmissionsMg)
	assert.Equal(t, "v1", *got.AssumptionsVersion)
	assert.Equal(t, 20.0, got.Factors.WattsPerVCPU)
	assert.Equal(t, 250.0, got.Factors.GridGramsPerKWh)
}

func TestUpsertStaleStatusDoesNotRegress(t *testing.T) {
	store := newStore(t)
	engine := newEngine(store, emissions.DefaultAssumptions())
	ctx := context.Background()
	key := model.RunKey{RepoFullName: "acme/api", RunID: "4"}

	_, err := engine.Upsert(ctx, completedRun("4"))
	require.NoError(t, err)

	stale := completedRun("4")
	stale.Status = model.RunStatusInProgress
	stale.Conclusion = nil
	stale.CompletedAt = nil
	outcome, err := engine.Upsert(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, runs.Updated, outcome)

	got, err := store.GetRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.Conclusion)
	assert.Equal(t, "success", *got.Conclusion)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(1867), *got.EmissionsMg)
}

func TestUpsertProgressesThroughLifecycle(t *testing.T) {
	store := newStore(t)
	engine := newEngine(store, emissions.DefaultAssumptions())
	ctx := context.Background()
	key := model.RunKey{RepoFullName: "acme/api", RunID: "5"}

	queued := completedRun("5")
	queued.Status = model.RunStatusQueued
	queued.Conclusion = nil
	queued.CompletedAt = nil
	_, err := engine.Upsert(ctx, queued)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got.EmissionsMg)
	assert.NotNil(t, got.Factors)

	_, err = engine.Upsert(ctx, completedRun("5"))
	require.NoError(t, err)

	got, err = store.GetRun(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.EmissionsMg)
	assert.Equal(t, int64(1867), *got.EmissionsMg)
}

func TestUpsertCompletedWithoutTimingHasNoEstimate(t *testing.T) {
	store := newStore(t)
	engine := newEngine(store, emissions.DefaultAssumptions())
	ctx := context.Background()

	obs := completedRun("6")
	obs.StartedAt = nil
	obs.WorkflowName = nil
	_, err := engine.Upsert(ctx, obs)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, model.RunKey{RepoFullName: "acme/api", RunID: "6"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Nil(t, got.EmissionsMg)
	assert.Nil(t, got.Minutes)
	assert.Equal(t, "unknown", *got.WorkflowName)
	assert.True(t, got.Timestamp.Equal(fixedNow))
}

func TestUpsertZeroDurationHasNoEstimate(t *testing.T) {
	store := newStore(t)
	engine := newEngine(store, emissions.DefaultAssumptions())
	ctx := context.Background()

	obs := completedRun("7")
	obs.CompletedAt = obs.StartedAt
	_, err := engine.Upsert(ctx, obs)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, model.RunKey{RepoFullName: "acme/api", RunID: "7"})
	require.NoError(t, err)
	assert.Nil(t, got.EmissionsMg)
}

type countingStore struct {
	calls     int
	insertErr error
	patchErr  error
}

func (s *countingStore) InsertRunIfAbsent(context.Context, model.WorkflowRun) (bool, error) {
	s.calls++
	return false, s.insertErr
}

func (s *countingStore) PatchRun(context.Context, model.RunKey, storage.Patch) error {
	s.calls++
	return s.patchErr
}

func TestUpsertValidationSkipsStore(t *testing.T) {
	store := &countingStore{}
	engine := newEngine(store, emissions.DefaultAssumptions())

	for _, obs := range []model.ObservedRun{
		{RunID: "1"},
		{RepoFullName: "acme/api"},
		{RepoFullName: "  ", RunID: "1"},
	} {
		_, err := engine.Upsert(context.Background(), obs)
		require.Error(t, err)
		assert.True(t, model.IsValidation(err))
	}
	assert.Zero(t, store.calls)
}

func TestUpsertStoreFailuresAreUpstream(t *testing.T) {
	boom := errors.New("connection reset")

	insertFails := &countingStore{insertErr: boom}
	_, err := newEngine(insertFails, emissions.DefaultAssumptions()).Upsert(context.Background(), completedRun("8"))
	require.Error(t, err)
	assert.True(t, model.IsUpstream(err))
	assert.ErrorIs(t, err, boom)

	patchFails := &countingStore{patchErr: boom}
	_, err = newEngine(patchFails, emissions.DefaultAssumptions()).Upsert(context.Background(), completedRun("8"))
	require.Error(t, err)
	assert.True(t, model.IsUpstream(err))
	assert.Equal(t, 2, patchFails.calls)
}

package backfill_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jai-vignesh007/EcoDev/internal/emissions"
	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/backfill"
	"github.com/jai-vignesh007/EcoDev/internal/service/runs"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
	"github.com/jai-vignesh007/EcoDev/internal/testutil"
	"github.com/jai-vignesh007/EcoDev/migrations"
)

type fakeSource struct {
	repos    []model.Repository
	listErr  error
	pages    map[string][][]model.ObservedRun
	failRepo string
	onList   func(repo string, page int)
}

func (f *fakeSource) ListRepositories(context.Context, string) ([]model.Repository, error) {
	return f.repos, f.listErr
}

func (f *fakeSource) ListWorkflowRuns(_ context.Context, repo model.Repository, page int) ([]model.ObservedRun, int, error) {
	if f.onList != nil {
		f.onList(repo.FullName, page)
	}
	if repo.FullName == f.failRepo {
		return nil, 0, errors.New("502 bad gateway")
	}
	pages := f.pages[repo.FullName]
	if page > len(pages) {
		return nil, 0, nil
	}
	next := page + 1
	if page == len(pages) {
		next = 0
	}
	return pages[page-1], next, nil
}

type recordingUpserter struct {
	mu      sync.Mutex
	seen    []model.ObservedRun
	failIDs map[string]bool
}

func (u *recordingUpserter) Upsert(_ context.Context, obs model.ObservedRun) (runs.Outcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failIDs[obs.RunID] {
		return "", &model.UpstreamError{Op: "insert run", Err: errors.New("disk full")}
	}
	u.seen = append(u.seen, obs)
	return runs.Inserted, nil
}

type recordingLanguages struct {
	mu    sync.Mutex
	calls map[string]string
}

func (l *recordingLanguages) Snapshot(_ context.Context, repo model.Repository, commitSHA, batchID string) (model.LanguageSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]string{}
	}
	l.calls[repo.FullName] = commitSHA
	return model.LanguageSnapshot{RepoFullName: repo.FullName, BatchID: batchID}, nil
}

func repo(name string) model.Repository {
	return model.Repository{Owner: "acme", Name: name, FullName: "acme/" + name}
}

func observed(repoFullName string, id int) model.ObservedRun {
	return model.ObservedRun{
		RepoFullName: repoFullName,
		RunID:        fmt.Sprint(id),
		IsPrivate:    true,
		Status:       model.RunStatusCompleted,
		StartedAt:    ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		CompletedAt:  ptr(time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)),
		CommitSHA:    model.StringPtr(fmt.Sprintf("sha-%d", id)),
	}
}

func ptr[T any](v T) *T { return &v }

var batchClock = backfill.WithClock(func() time.Time { return time.UnixMilli(1704067200000) })

func TestNewBatchID(t *testing.T) {
	assert.Equal(t, "WF_BATCH_1704067200000", backfill.NewBatchID(time.UnixMilli(1704067200000)))
}

func TestRunIsolatesFailures(t *testing.T) {
	src := &fakeSource{
		repos: []model.Repository{repo("api"), repo("broken"), repo("web")},
		pages: map[string][][]model.ObservedRun{
			"acme/api": {
				{observed("acme/api", 1), observed("acme/api", 2)},
				{observed("acme/api", 3)},
			},
			"acme/web": {{observed("acme/web", 10), observed("acme/web", 11)}},
		},
		failRepo: "acme/broken",
	}
	up := &recordingUpserter{failIDs: map[string]bool{"11": true}}
	c := backfill.New(src, up, testutil.TestLogger(), backfill.WithRateLimit(0, 0), batchClock)

	res, err := c.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, "WF_BATCH_1704067200000", res.BatchID)
	assert.Equal(t, 3, res.ReposSeen)
	assert.Equal(t, 1, res.ReposFailed)
	assert.Equal(t, 5, res.RunsSeen)
	assert.Equal(t, 4, res.RunsInserted)
	assert.Equal(t, 1, res.RunsFailed)

	require.Len(t, up.seen, 4)
	for _, obs := range up.seen {
		require.NotNil(t, obs.BackfillBatch)
		assert.Equal(t, res.BatchID, *obs.BackfillBatch)
	}
}

func TestRunRecordsLanguages(t *testing.T) {
	src := &fakeSource{
		repos: []model.Repository{repo("api"), repo("empty")},
		pages: map[string][][]model.ObservedRun{"acme/api": {{observed("acme/api", 7)}}},
	}
	langs := &recordingLanguages{}
	c := backfill.New(src, &recordingUpserter{}, testutil.TestLogger(),
		backfill.WithRateLimit(0, 0), backfill.WithLanguages(langs), backfill.WithConcurrency(4))

	res, err := c.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Snapshots)
	assert.Equal(t, map[string]string{"acme/api": "sha-7", "acme/empty": ""}, langs.calls)
}

func TestRunBoundsConcurrentRepositories(t *testing.T) {
	src := &fakeSource{pages: map[string][][]model.ObservedRun{}}
	for i := range 8 {
		name := fmt.Sprintf("svc%d", i)
		src.repos = append(src.repos, repo(name))
		src.pages["acme/"+name] = [][]model.ObservedRun{{observed("acme/"+name, i)}}
	}

	var inFlight, peak, calls atomic.Int32
	src.onList = func(string, int) {
		calls.Add(1)
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}

	up := &recordingUpserter{}
	c := backfill.New(src, up, testutil.TestLogger(),
		backfill.WithConcurrency(2),
		backfill.WithRateLimit(0, 0),
	)
	res, err := c.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, int32(8), calls.Load())
	assert.Equal(t, 8, res.RunsInserted)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunValidatesInput(t *testing.T) {
	c := backfill.New(&fakeSource{}, &recordingUpserter{}, testutil.TestLogger())
	for _, owner := range []string{"", "  ", "acme/api"} {
		_, err := c.Run(context.Background(), owner)
		assert.True(t, model.IsValidation(err), owner)
	}

	_, err := backfill.New(nil, &recordingUpserter{}, testutil.TestLogger()).Run(context.Background(), "acme")
	assert.ErrorIs(t, err, backfill.ErrNoSource)
}

func TestRunListingFailureIsUpstream(t *testing.T) {
	c := backfill.New(&fakeSource{listErr: errors.New("401")}, &recordingUpserter{}, testutil.TestLogger(),
		backfill.WithRateLimit(0, 0))
	_, err := c.Run(context.Background(), "acme")
	assert.True(t, model.IsUpstream(err))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		repos: []model.Repository{repo("a"), repo("b"), repo("c")},
		pages: map[string][][]model.ObservedRun{
			"acme/a": {{observed("acme/a", 1)}, {observed("acme/a", 2)}},
			"acme/b": {{observed("acme/b", 3)}},
			"acme/c": {{observed("acme/c", 4)}},
		},
		onList: func(repo string, page int) {
			if repo == "acme/a" && page == 1 {
				cancel()
			}
		},
	}
	up := &recordingUpserter{}
	c := backfill.New(src, up, testutil.TestLogger(), backfill.WithConcurrency(1), backfill.WithRateLimit(1000, 1))

	res, err := c.Run(ctx, "acme")
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.RunsSeen, 4)
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := backfill.New(&fakeSource{repos: []model.Repository{repo("a")}}, &recordingUpserter{}, testutil.TestLogger())
	_, err := c.Run(ctx, "acme")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackfillThenWebhookKeepsBatchTag(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenLite(ctx, filepath.Join(t.TempDir(), "backfill.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RunMigrations(ctx, migrations.SQLite()))

	engine := runs.New(store, emissions.DefaultAssumptions(), testutil.TestLogger())
	src := &fakeSource{
		repos: []model.Repository{repo("api")},
		pages: map[string][][]model.ObservedRun{"acme/api": {{observed("acme/api", 42)}}},
	}
	c := backfill.New(src, engine, testutil.TestLogger(), backfill.WithRateLimit(0, 0), batchClock)

	res, err := c.Run(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsInserted)

	again, err := c.RunBatch(ctx, "acme", "WF_BATCH_2")
	require.NoError(t, err)
	assert.Equal(t, 1, again.RunsUpdated)

	_, err = engine.Upsert(ctx, observed("acme/api", 42))
	require.NoError(t, err)

	got, err := store.GetRun(ctx, model.RunKey{RepoFullName: "acme/api", RunID: "42"})
	require.NoError(t, err)
	require.NotNil(t, got.BackfillBatch)
	assert.Equal(t, "WF_BATCH_1704067200000", *got.BackfillBatch)
	assert.Equal(t, int64(1867), *got.EmissionsMg)
}

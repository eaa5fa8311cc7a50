package languages_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/languages"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
	"github.com/jai-vignesh007/EcoDev/internal/testutil"
	"github.com/jai-vignesh007/EcoDev/migrations"
)

type staticFetcher struct {
	langs map[string]int64
	err   error
}

func (f staticFetcher) ListLanguages(context.Context, string, string) (map[string]int64, error) {
	return f.langs, f.err
}

func newStore(t *testing.T) *storage.Lite {
	t.Helper()
	ctx := context.Background()
	s, err := storage.OpenLite(ctx, filepath.Join(t.TempDir(), "langs.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.RunMigrations(ctx, migrations.SQLite()))
	return s
}

var apiRepo = model.Repository{Owner: "acme", Name: "api", FullName: "acme/api", Private: true, DefaultBranch: "main"}

func TestSnapshotAndLatest(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := languages.New(store, staticFetcher{langs: map[string]int64{"Go": 1000}}, testutil.TestLogger())
	_, err := first.Snapshot(ctx, apiRepo, "abc", "")
	require.NoError(t, err)

	second := languages.New(store, staticFetcher{langs: map[string]int64{"Go": 1200, "Shell": 300}}, testutil.TestLogger())
	snap, err := second.Snapshot(ctx, apiRepo, "def", "WF_BATCH_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), snap.TotalBytes)

	latest, err := second.Latest(ctx, "acme/api")
	require.NoError(t, err)
	assert.Equal(t, "def", latest.CommitSHA)
	assert.Equal(t, "main", latest.DefaultBranch)
	assert.Equal(t, "WF_BATCH_1", latest.BatchID)
	assert.Equal(t, map[string]int64{"Go": 1200, "Shell": 300}, latest.Languages)
	assert.True(t, latest.IsPrivate)
}

func TestLatestMissing(t *testing.T) {
	svc := languages.New(newStore(t), nil, testutil.TestLogger())
	_, err := svc.Latest(context.Background(), "acme/none")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotErrors(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := languages.New(store, nil, testutil.TestLogger()).Snapshot(ctx, apiRepo, "", "")
	assert.True(t, model.IsUpstream(err))

	_, err = languages.New(store, staticFetcher{err: errors.New("404")}, testutil.TestLogger()).Snapshot(ctx, apiRepo, "", "")
	assert.True(t, model.IsUpstream(err))

	_, err = languages.New(store, staticFetcher{}, testutil.TestLogger()).Snapshot(ctx, model.Repository{Name: "api"}, "", "")
	assert.True(t, model.IsValidation(err))
}

func TestSnapshotEmptyRepository(t *testing.T) {
	svc := languages.New(newStore(t), staticFetcher{}, testutil.TestLogger())
	snap, err := svc.Snapshot(context.Background(), apiRepo, "", "")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalBytes)

	latest, err := svc.Latest(context.Background(), "acme/api")
	require.NoError(t, err)
	assert.Empty(t, latest.Languages)
}

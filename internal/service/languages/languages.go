// Package languages records append-only snapshots of a repository's
// language byte counts, captured on pushes to the default branch and during
// backfills.
package languages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
)

// Store persists snapshots.
type Store interface {
	InsertLanguageSnapshot(ctx context.Context, s model.LanguageSnapshot) error
	LatestLanguageSnapshot(ctx context.Context, repoFullName string) (model.LanguageSnapshot, error)
}

// Fetcher reads the current language breakdown from the provider.
type Fetcher interface {
	ListLanguages(ctx context.Context, owner, name string) (map[string]int64, error)
}

// Service captures and reads snapshots.
type Service struct {
	store   Store
	fetcher Fetcher
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Service. fetcher may be nil, in which case Snapshot fails
// and only Latest is usable.
func New(store Store, fetcher Fetcher, logger *slog.Logger) *Service {
	return &Service{store: store, fetcher: fetcher, now: time.Now, logger: logger}
}

// CanCapture reports whether a provider is configured.
func (s *Service) CanCapture() bool { return s.fetcher != nil }

// Snapshot fetches and stores the language breakdown of repo.
func (s *Service) Snapshot(ctx context.Context, repo model.Repository, commitSHA, batchID string) (model.LanguageSnapshot, error) {
	if repo.Owner == "" || repo.Name == "" {
		return model.LanguageSnapshot{}, &model.ValidationError{Field: "repository", Message: "owner and name are required"}
	}
	if s.fetcher == nil {
		return model.LanguageSnapshot{}, &model.UpstreamError{Op: "list languages", Err: errors.New("no provider configured")}
	}

	langs, err := s.fetcher.ListLanguages(ctx, repo.Owner, repo.Name)
	if err != nil {
		return model.LanguageSnapshot{}, &model.UpstreamError{Op: "list languages", Err: err}
	}
	var total int64
	for _, n := range langs {
		total += n
	}

	fullName := repo.FullName
	if fullName == "" {
		fullName = repo.Owner + "/" + repo.Name
	}
	snap := model.LanguageSnapshot{
		RepoFullName:  fullName,
		CapturedAt:    s.now().UTC(),
		CommitSHA:     commitSHA,
		DefaultBranch: repo.DefaultBranch,
		Languages:     langs,
		TotalBytes:    total,
		IsPrivate:     repo.Private,
		IsArchived:    repo.Archived,
		BatchID:       batchID,
	}
	if err := s.store.InsertLanguageSnapshot(ctx, snap); err != nil {
		return model.LanguageSnapshot{}, &model.UpstreamError{Op: "insert language snapshot", Err: err}
	}
	s.logger.Debug("languages: snapshot stored", "repo", fullName, "languages", len(langs), "total_bytes", total)
	return snap, nil
}

// Latest returns the most recent snapshot. It returns storage.ErrNotFound
// when none exists.
func (s *Service) Latest(ctx context.Context, repoFullName string) (model.LanguageSnapshot, error) {
	snap, err := s.store.LatestLanguageSnapshot(ctx, repoFullName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.LanguageSnapshot{}, err
		}
		return model.LanguageSnapshot{}, &model.UpstreamError{Op: "latest language snapshot", Err: err}
	}
	return snap, nil
}

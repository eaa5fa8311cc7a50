package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// InsertLanguageSnapshot appends a language snapshot.
func (db *DB) InsertLanguageSnapshot(ctx context.Context, s model.LanguageSnapshot) error {
	if s.Languages == nil {
		s.Languages = map[string]int64{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO language_snapshots
		 (repo_full_name, captured_at, commit_sha, default_branch, languages, total_bytes, is_private, is_archived, batch_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.RepoFullName, s.CapturedAt.UTC(), model.StringPtr(s.CommitSHA), model.StringPtr(s.DefaultBranch),
		s.Languages, s.TotalBytes, s.IsPrivate, s.IsArchived, model.StringPtr(s.BatchID),
	)
	if err != nil {
		return fmt.Errorf("storage: insert language snapshot: %w", err)
	}
	return nil
}

// LatestLanguageSnapshot returns the most recent snapshot for a repository.
func (db *DB) LatestLanguageSnapshot(ctx context.Context, repoFullName string) (model.LanguageSnapshot, error) {
	var (
		s                                 model.LanguageSnapshot
		commitSHA, defaultBranch, batchID *string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT repo_full_name, captured_at, commit_sha, default_branch, languages, total_bytes, is_private, is_archived, batch_id
		 FROM language_snapshots
		 WHERE repo_full_name = $1
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`,
		repoFullName,
	).Scan(&s.RepoFullName, &s.CapturedAt, &commitSHA, &defaultBranch, &s.Languages,
		&s.TotalBytes, &s.IsPrivate, &s.IsArchived, &batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LanguageSnapshot{}, ErrNotFound
		}
		return model.LanguageSnapshot{}, fmt.Errorf("storage: latest language snapshot: %w", err)
	}
	s.CapturedAt = s.CapturedAt.UTC()
	s.CommitSHA = deref(commitSHA)
	s.DefaultBranch = deref(defaultBranch)
	s.BatchID = deref(batchID)
	return s, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

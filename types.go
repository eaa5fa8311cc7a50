package ecodev

import "time"

// BackfillResult summarizes one backfill batch. It mirrors the internal
// coordinator result so callers never import internal packages.
type BackfillResult struct {
	BatchID                 string        `json:"batch_id"`
	Owner                   string        `json:"owner"`
	ReposSeen               int           `json:"repos_seen"`
	ReposFailed             int           `json:"repos_failed"`
	RunsSeen                int           `json:"runs_seen"`
	RunsInserted            int           `json:"runs_inserted"`
	RunsUpdated             int           `json:"runs_updated"`
	RunsFailed              int           `json:"runs_failed"`
	LanguageSnapshots       int           `json:"language_snapshots"`
	LanguageSnapshotsFailed int           `json:"language_snapshots_failed"`
	Duration                time.Duration `json:"duration_ns"`
}

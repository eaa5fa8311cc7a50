package model

import "time"

// Repository is the provider's view of a source repository.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	Archived      bool   `json:"archived"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// LanguageSnapshot records the byte count per language of a repository at
// one point in time. Snapshots are append-only.
type LanguageSnapshot struct {
	RepoFullName  string           `json:"repo_full_name"`
	CapturedAt    time.Time        `json:"captured_at"`
	CommitSHA     string           `json:"commit_sha,omitempty"`
	DefaultBranch string           `json:"default_branch,omitempty"`
	Languages     map[string]int64 `json:"languages"`
	TotalBytes    int64            `json:"total_bytes"`
	IsPrivate     bool             `json:"is_private"`
	IsArchived    bool             `json:"is_archived"`
	BatchID       string           `json:"batch_id,omitempty"`
}

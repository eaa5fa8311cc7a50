package model

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a CI workflow run.
type RunStatus string

const (
	RunStatusUnknown    RunStatus = "unknown"
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// RunStatusOrder lists statuses from earliest to latest lifecycle stage.
// Stores use it to refuse regressions when deliveries arrive out of order.
var RunStatusOrder = []RunStatus{
	RunStatusUnknown,
	RunStatusQueued,
	RunStatusInProgress,
	RunStatusCompleted,
}

// ParseRunStatus normalizes a provider status string. Anything outside the
// known lifecycle (e.g. "waiting", "requested") maps to RunStatusUnknown.
func ParseRunStatus(s string) RunStatus {
	switch RunStatus(strings.ToLower(strings.TrimSpace(s))) {
	case RunStatusQueued:
		return RunStatusQueued
	case RunStatusInProgress:
		return RunStatusInProgress
	case RunStatusCompleted:
		return RunStatusCompleted
	default:
		return RunStatusUnknown
	}
}

// Rank returns the position of s in RunStatusOrder.
func (s RunStatus) Rank() int {
	for i, st := range RunStatusOrder {
		if st == s {
			return i
		}
	}
	return 0
}

// RunKey identifies one durable run record.
type RunKey struct {
	RepoFullName string `json:"repo_full_name"`
	RunID        string `json:"run_id"`
}

// Owner returns the account portion of "owner/repo".
func (k RunKey) Owner() string {
	owner, _, _ := strings.Cut(k.RepoFullName, "/")
	return owner
}

// Factors are the emission assumptions a run's estimate was computed with.
type Factors struct {
	AssumedVCPUs    int     `json:"assumed_vcpus"`
	WattsPerVCPU    float64 `json:"watts_per_vcpu"`
	PUE             float64 `json:"pue"`
	GridGramsPerKWh float64 `json:"grid_g_per_kwh"`
}

// WorkflowRun is the durable record of one CI run, merged from every
// delivery observed for its key.
type WorkflowRun struct {
	RepoFullName string     `json:"repo_full_name"`
	RunID        string     `json:"run_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Status       RunStatus  `json:"status"`
	Conclusion   *string    `json:"conclusion,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Branch       *string    `json:"branch,omitempty"`
	Event        *string    `json:"event,omitempty"`
	WorkflowName *string    `json:"workflow_name,omitempty"`
	CommitSHA    *string    `json:"commit_sha,omitempty"`

	// Written once by the first delivery that carries them.
	Factors            *Factors   `json:"factors,omitempty"`
	AssumptionsVersion *string    `json:"assumptions_version,omitempty"`
	Minutes            *float64   `json:"minutes,omitempty"`
	EnergyKWh          *float64   `json:"energy_kwh,omitempty"`
	EmissionsMg        *int64     `json:"emissions_mg,omitempty"`
	CarbonComputedAt   *time.Time `json:"carbon_computed_at,omitempty"`

	BackfillBatch *string `json:"backfill_batch,omitempty"`
}

// Key returns the run's identity.
func (r WorkflowRun) Key() RunKey {
	return RunKey{RepoFullName: r.RepoFullName, RunID: r.RunID}
}

// EmissionsGrams returns the stored milligram estimate in grams.
func (r WorkflowRun) EmissionsGrams() (float64, bool) {
	if r.EmissionsMg == nil {
		return 0, false
	}
	return float64(*r.EmissionsMg) / 1000, true
}

// HasEmissions reports whether the run counts toward completed totals.
func (r WorkflowRun) HasEmissions() bool {
	return r.Status == RunStatusCompleted && r.EmissionsMg != nil
}

// ObservedRun is one delivery of run state from a webhook or a backfill page.
// It is the only input the upsert engine accepts.
type ObservedRun struct {
	RepoFullName string
	RunID        string
	IsPrivate    bool
	Timestamp    time.Time
	Status       RunStatus
	Conclusion   *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Branch       *string
	Event        *string
	WorkflowName *string
	CommitSHA    *string

	// BackfillBatch tags runs created by a backfill. Never overwritten.
	BackfillBatch *string
}

// Key returns the identity of the observed run.
func (o ObservedRun) Key() RunKey {
	return RunKey{RepoFullName: o.RepoFullName, RunID: o.RunID}
}

// Validate checks the fields required to address a record.
func (o ObservedRun) Validate() error {
	if strings.TrimSpace(o.RepoFullName) == "" {
		return &ValidationError{Field: "repo_full_name", Message: "is required"}
	}
	if strings.TrimSpace(o.RunID) == "" {
		return &ValidationError{Field: "run_id", Message: "is required"}
	}
	return nil
}

// Normalize fills the defaults every ingestion path shares: a missing
// workflow name becomes "unknown" and a missing timestamp falls back to
// the start time, then to now.
func (o ObservedRun) Normalize(now time.Time) ObservedRun {
	if o.WorkflowName == nil || *o.WorkflowName == "" {
		unknown := "unknown"
		o.WorkflowName = &unknown
	}
	if o.Status == "" {
		o.Status = RunStatusUnknown
	}
	if o.Timestamp.IsZero() {
		if o.StartedAt != nil {
			o.Timestamp = *o.StartedAt
		} else {
			o.Timestamp = now
		}
	}
	o.Timestamp = o.Timestamp.UTC()
	return o
}

// ParseTimestamp parses an RFC 3339 timestamp. Empty or malformed input
// yields nil so callers treat it as absent.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

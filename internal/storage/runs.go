package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 20 * time.Millisecond
)

// InsertRunIfAbsent creates the record for run's key unless one exists.
// It returns true when this call created the record.
func (db *DB) InsertRunIfAbsent(ctx context.Context, run model.WorkflowRun) (bool, error) {
	var inserted bool
	err := WithRetry(ctx, retryAttempts, retryBaseDelay, func() error {
		tag, err := db.pool.Exec(ctx,
			`INSERT INTO workflow_runs (`+runSelectColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			 ON CONFLICT (repo_full_name, run_id) DO NOTHING`,
			runInsertArgs(run)...,
		)
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("storage: insert run: %w", err)
	}
	return inserted, nil
}

// PatchRun applies p to the record for key in one UPDATE.
func (db *DB) PatchRun(ctx context.Context, key model.RunKey, p Patch) error {
	set, args, err := p.render(runColumns, 3, pgPlaceholder, pgValue)
	if err != nil {
		return err
	}
	query := `UPDATE workflow_runs SET ` + set + `, updated_at = now()
		WHERE repo_full_name = $1 AND run_id = $2`
	args = append([]any{key.RepoFullName, key.RunID}, args...)

	err = WithRetry(ctx, retryAttempts, retryBaseDelay, func() error {
		tag, err := db.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("storage: patch run: %w", err)
	}
	return nil
}

// GetRun returns the record for key or ErrNotFound.
func (db *DB) GetRun(ctx context.Context, key model.RunKey) (model.WorkflowRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runSelectColumns+` FROM workflow_runs WHERE repo_full_name = $1 AND run_id = $2`,
		key.RepoFullName, key.RunID,
	)
	run, err := scanPgRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkflowRun{}, ErrNotFound
		}
		return model.WorkflowRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRunsByRepo returns every run stored for repoFullName, draining the
// partition in keyset pages ordered by run_id.
func (db *DB) ListRunsByRepo(ctx context.Context, repoFullName string) ([]model.WorkflowRun, error) {
	return drainRuns(func(after model.RunKey) ([]model.WorkflowRun, error) {
		rows, err := db.pool.Query(ctx,
			`SELECT `+runSelectColumns+` FROM workflow_runs
			 WHERE repo_full_name = $1 AND run_id > $2
			 ORDER BY run_id
			 LIMIT $3`,
			repoFullName, after.RunID, listPageSize,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: list runs by repo: %w", err)
		}
		return collectPgRuns(rows)
	})
}

// ListRunsByOwner returns every run whose repository belongs to owner.
func (db *DB) ListRunsByOwner(ctx context.Context, owner string) ([]model.WorkflowRun, error) {
	prefix := owner + "/"
	return drainRuns(func(after model.RunKey) ([]model.WorkflowRun, error) {
		rows, err := db.pool.Query(ctx,
			`SELECT `+runSelectColumns+` FROM workflow_runs
			 WHERE starts_with(repo_full_name, $1)
			   AND (repo_full_name, run_id) > ($2, $3)
			 ORDER BY repo_full_name, run_id
			 LIMIT $4`,
			prefix, after.RepoFullName, after.RunID, listPageSize,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: list runs by owner: %w", err)
		}
		return collectPgRuns(rows)
	})
}

func collectPgRuns(rows pgx.Rows) ([]model.WorkflowRun, error) {
	defer rows.Close()
	var runs []model.WorkflowRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanPgRun(row pgx.Row) (model.WorkflowRun, error) {
	var (
		r                     model.WorkflowRun
		status                string
		vcpus                 *int
		watts, pue, gridGrams *float64
	)
	err := row.Scan(
		&r.RepoFullName, &r.RunID, &r.Timestamp, &status, &r.Conclusion, &r.StartedAt, &r.CompletedAt,
		&r.Branch, &r.Event, &r.WorkflowName, &r.CommitSHA,
		&vcpus, &watts, &pue, &gridGrams, &r.AssumptionsVersion,
		&r.Minutes, &r.EnergyKWh, &r.EmissionsMg, &r.CarbonComputedAt, &r.BackfillBatch,
	)
	if err != nil {
		return model.WorkflowRun{}, err
	}
	r.Status = model.ParseRunStatus(status)
	r.Factors = buildFactors(vcpus, watts, pue, gridGrams)
	r.Timestamp = r.Timestamp.UTC()
	r.StartedAt = utcPtr(r.StartedAt)
	r.CompletedAt = utcPtr(r.CompletedAt)
	r.CarbonComputedAt = utcPtr(r.CarbonComputedAt)
	return r, nil
}

// drainRuns pages through a keyset-ordered listing until a short page.
func drainRuns(page func(after model.RunKey) ([]model.WorkflowRun, error)) ([]model.WorkflowRun, error) {
	var (
		all   []model.WorkflowRun
		after model.RunKey
	)
	for {
		runs, err := page(after)
		if err != nil {
			return nil, err
		}
		all = append(all, runs...)
		if len(runs) < listPageSize {
			return all, nil
		}
		after = runs[len(runs)-1].Key()
	}
}

// runInsertArgs returns values in runSelectColumns order.
func runInsertArgs(r model.WorkflowRun) []any {
	var (
		vcpus                 *int
		watts, pue, gridGrams *float64
	)
	if f := r.Factors; f != nil {
		vcpus, watts, pue, gridGrams = &f.AssumedVCPUs, &f.WattsPerVCPU, &f.PUE, &f.GridGramsPerKWh
	}
	status := r.Status
	if status == "" {
		status = model.RunStatusUnknown
	}
	return []any{
		r.RepoFullName, r.RunID, r.Timestamp.UTC(), string(status), r.Conclusion, r.StartedAt, r.CompletedAt,
		r.Branch, r.Event, r.WorkflowName, r.CommitSHA,
		vcpus, watts, pue, gridGrams, r.AssumptionsVersion,
		r.Minutes, r.EnergyKWh, r.EmissionsMg, r.CarbonComputedAt, r.BackfillBatch,
	}
}

func buildFactors(vcpus *int, watts, pue, gridGrams *float64) *model.Factors {
	if vcpus == nil || watts == nil || pue == nil || gridGrams == nil {
		return nil
	}
	return &model.Factors{
		AssumedVCPUs:    *vcpus,
		WattsPerVCPU:    *watts,
		PUE:             *pue,
		GridGramsPerKWh: *gridGrams,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// pgValue passes patch values through; pgx encodes them natively.
func pgValue(v any) any {
	if s, ok := v.(model.RunStatus); ok {
		return string(s)
	}
	return v
}

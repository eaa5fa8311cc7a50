package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/jai-vignesh007/EcoDev/internal/model"
)

// liteTimeLayout is fixed-width so stored timestamps sort lexically.
const liteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Lite is the embedded SQLite adapter. It holds a single connection, so
// SQLite's own locking serializes writers and the conditional statements
// behave exactly as they do on Postgres.
type Lite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLite opens (creating if needed) the SQLite database at path.
func OpenLite(ctx context.Context, path string, logger *slog.Logger) (*Lite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	return &Lite{db: db, logger: logger}, nil
}

// Ping checks the database handle.
func (l *Lite) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

// Backend names the adapter for health output.
func (l *Lite) Backend() string { return "sqlite" }

// Close closes the database.
func (l *Lite) Close() error { return l.db.Close() }

// RunMigrations applies the SQLite schema files in migrationsFS.
func (l *Lite) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}
	return runMigrations(ctx, liteMigrator{l}, migrationsFS, l.logger)
}

// InsertRunIfAbsent creates the record for run's key unless one exists.
func (l *Lite) InsertRunIfAbsent(ctx context.Context, run model.WorkflowRun) (bool, error) {
	args := runInsertArgs(run)
	for i := range args {
		args[i] = liteValue(args[i])
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runSelectColumns+`)
		 VALUES (`+litePlaceholders(len(args))+`)
		 ON CONFLICT (repo_full_name, run_id) DO NOTHING`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: insert run: %w", err)
	}
	return n == 1, nil
}

// PatchRun applies p to the record for key in one UPDATE.
func (l *Lite) PatchRun(ctx context.Context, key model.RunKey, p Patch) error {
	set, args, err := p.render(runColumns, 3, litePlaceholder, liteValue)
	if err != nil {
		return err
	}
	args = append([]any{key.RepoFullName, key.RunID}, args...)
	res, err := l.db.ExecContext(ctx,
		`UPDATE workflow_runs SET `+set+`, updated_at = `+litePlaceholder(len(args)+1)+`
		 WHERE repo_full_name = ?1 AND run_id = ?2`,
		append(args, liteTime(time.Now()))...,
	)
	if err != nil {
		return fmt.Errorf("storage: patch run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: patch run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns the record for key or ErrNotFound.
func (l *Lite) GetRun(ctx context.Context, key model.RunKey) (model.WorkflowRun, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+runSelectColumns+` FROM workflow_runs WHERE repo_full_name = ?1 AND run_id = ?2`,
		key.RepoFullName, key.RunID,
	)
	run, err := scanLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WorkflowRun{}, ErrNotFound
		}
		return model.WorkflowRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRunsByRepo returns every run stored for repoFullName.
func (l *Lite) ListRunsByRepo(ctx context.Context, repoFullName string) ([]model.WorkflowRun, error) {
	return drainRuns(func(after model.RunKey) ([]model.WorkflowRun, error) {
		rows, err := l.db.QueryContext(ctx,
			`SELECT `+runSelectColumns+` FROM workflow_runs
			 WHERE repo_full_name = ?1 AND run_id > ?2
			 ORDER BY run_id
			 LIMIT ?3`,
			repoFullName, after.RunID, listPageSize,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: list runs by repo: %w", err)
		}
		return collectLiteRuns(rows)
	})
}

// ListRunsByOwner returns every run whose repository belongs to owner.
func (l *Lite) ListRunsByOwner(ctx context.Context, owner string) ([]model.WorkflowRun, error) {
	prefix := owner + "/"
	return drainRuns(func(after model.RunKey) ([]model.WorkflowRun, error) {
		rows, err := l.db.QueryContext(ctx,
			`SELECT `+runSelectColumns+` FROM workflow_runs
			 WHERE substr(repo_full_name, 1, length(?1)) = ?1
			   AND (repo_full_name, run_id) > (?2, ?3)
			 ORDER BY repo_full_name, run_id
			 LIMIT ?4`,
			prefix, after.RepoFullName, after.RunID, listPageSize,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: list runs by owner: %w", err)
		}
		return collectLiteRuns(rows)
	})
}

// InsertLanguageSnapshot appends a language snapshot.
func (l *Lite) InsertLanguageSnapshot(ctx context.Context, s model.LanguageSnapshot) error {
	if s.Languages == nil {
		s.Languages = map[string]int64{}
	}
	langs, err := json.Marshal(s.Languages)
	if err != nil {
		return fmt.Errorf("storage: encode languages: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO language_snapshots
		 (repo_full_name, captured_at, commit_sha, default_branch, languages, total_bytes, is_private, is_archived, batch_id)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`,
		s.RepoFullName, liteTime(s.CapturedAt), model.StringPtr(s.CommitSHA), model.StringPtr(s.DefaultBranch),
		string(langs), s.TotalBytes, s.IsPrivate, s.IsArchived, model.StringPtr(s.BatchID),
	)
	if err != nil {
		return fmt.Errorf("storage: insert language snapshot: %w", err)
	}
	return nil
}

// LatestLanguageSnapshot returns the most recent snapshot for a repository.
func (l *Lite) LatestLanguageSnapshot(ctx context.Context, repoFullName string) (model.LanguageSnapshot, error) {
	var (
		s                                 model.LanguageSnapshot
		capturedAt, langs                 string
		commitSHA, defaultBranch, batchID sql.NullString
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT repo_full_name, captured_at, commit_sha, default_branch, languages, total_bytes, is_private, is_archived, batch_id
		 FROM language_snapshots
		 WHERE repo_full_name = ?1
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`,
		repoFullName,
	).Scan(&s.RepoFullName, &capturedAt, &commitSHA, &defaultBranch, &langs,
		&s.TotalBytes, &s.IsPrivate, &s.IsArchived, &batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LanguageSnapshot{}, ErrNotFound
		}
		return model.LanguageSnapshot{}, fmt.Errorf("storage: latest language snapshot: %w", err)
	}
	if t := parseLiteTime(sql.NullString{String: capturedAt, Valid: true}); t != nil {
		s.CapturedAt = *t
	}
	if err := json.Unmarshal([]byte(langs), &s.Languages); err != nil {
		return model.LanguageSnapshot{}, fmt.Errorf("storage: decode languages: %w", err)
	}
	s.CommitSHA = commitSHA.String
	s.DefaultBranch = defaultBranch.String
	s.BatchID = batchID.String
	return s, nil
}

func collectLiteRuns(rows *sql.Rows) ([]model.WorkflowRun, error) {
	defer func() { _ = rows.Close() }()
	var runs []model.WorkflowRun
	for rows.Next() {
		r, err := scanLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiteRun(row rowScanner) (model.WorkflowRun, error) {
	var (
		r                                       model.WorkflowRun
		observedAt, status                      string
		startedAt, completedAt, carbonAt        sql.NullString
		conclusion, branch, event, wf, sha, ver sql.NullString
		batch                                   sql.NullString
		vcpus, mg                               sql.NullInt64
		watts, pue, gridGrams, minutes, energy  sql.NullFloat64
	)
	err := row.Scan(
		&r.RepoFullName, &r.RunID, &observedAt, &status, &conclusion, &startedAt, &completedAt,
		&branch, &event, &wf, &sha,
		&vcpus, &watts, &pue, &gridGrams, &ver,
		&minutes, &energy, &mg, &carbonAt, &batch,
	)
	if err != nil {
		return model.WorkflowRun{}, err
	}

	if t := parseLiteTime(sql.NullString{String: observedAt, Valid: true}); t != nil {
		r.Timestamp = *t
	}
	r.Status = model.ParseRunStatus(status)
	r.Conclusion = nullString(conclusion)
	r.StartedAt = parseLiteTime(startedAt)
	r.CompletedAt = parseLiteTime(completedAt)
	r.Branch = nullString(branch)
	r.Event = nullString(event)
	r.WorkflowName = nullString(wf)
	r.CommitSHA = nullString(sha)
	r.AssumptionsVersion = nullString(ver)
	r.Minutes = nullFloat(minutes)
	r.EnergyKWh = nullFloat(energy)
	if mg.Valid {
		v := mg.Int64
		r.EmissionsMg = &v
	}
	r.CarbonComputedAt = parseLiteTime(carbonAt)
	r.BackfillBatch = nullString(batch)

	if vcpus.Valid {
		n := int(vcpus.Int64)
		r.Factors = buildFactors(&n, nullFloat(watts), nullFloat(pue), nullFloat(gridGrams))
	}
	return r, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func liteTime(t time.Time) string {
	return t.UTC().Format(liteTimeLayout)
}

func parseLiteTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// liteValue converts patch and insert values to what the SQLite schema
// stores: timestamps become fixed-width UTC text.
func liteValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return liteTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return liteTime(*x)
	case model.RunStatus:
		return string(x)
	default:
		return v
	}
}

func litePlaceholder(n int) string { return "?" + strconv.Itoa(n) }

func litePlaceholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = litePlaceholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

type liteMigrator struct{ l *Lite }

func (m liteMigrator) execScript(ctx context.Context, script string) error {
	_, err := m.l.db.ExecContext(ctx, script)
	return err
}

func (m liteMigrator) recordMigration(ctx context.Context, name string) error {
	_, err := m.l.db.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES (?1) ON CONFLICT DO NOTHING`, name)
	return err
}

func (m liteMigrator) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.l.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Package timeseries answers emissions queries: it resolves the query
// window, loads the runs in scope and rolls them into a gap-free series.
//
// Both the HTTP API and the MCP server delegate to Service so the two
// surfaces return identical reports.
package timeseries

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/telemetry"
)

// RunLister loads every stored run in a scope. There is no time push-down:
// the store is keyed by repository, so window filtering happens here.
type RunLister interface {
	ListRunsByRepo(ctx context.Context, repoFullName string) ([]model.WorkflowRun, error)
	ListRunsByOwner(ctx context.Context, owner string) ([]model.WorkflowRun, error)
}

// RepositoryLister resolves an owner's repositories from the provider.
type RepositoryLister interface {
	ListRepositories(ctx context.Context, owner string) ([]model.Repository, error)
}

// Query holds the parameters of an emissions query.
type Query struct {
	Owner  string
	Repo   string
	Bucket string
	From   string
	To     string
	TZ     string
	model.Filters
}

// Service runs emissions queries.
type Service struct {
	runs       RunLister
	repos      RepositoryLister
	defaultLoc *time.Location
	lookback   int
	maxDays    int
	now        func() time.Time
	logger     *slog.Logger

	queryDuration metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithRepositoryLister lets owner reports name repositories that have no
// stored runs yet.
func WithRepositoryLister(l RepositoryLister) Option {
	return func(s *Service) { s.repos = l }
}

// WithLookbackDays sets the width of the default window.
func WithLookbackDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.lookback = days
		}
	}
}

// WithMaxWindowDays caps the width of a query window.
func WithMaxWindowDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.maxDays = days
		}
	}
}

// WithClock overrides the clock that defines "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. defaultLoc applies to queries without a tz.
func New(runs RunLister, defaultLoc *time.Location, logger *slog.Logger, opts ...Option) *Service {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	s := &Service{
		runs:       runs,
		defaultLoc: defaultLoc,
		lookback:   DefaultLookbackDays,
		maxDays:    DefaultMaxWindowDays,
		now:        time.Now,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.queryDuration, _ = telemetry.Meter("ecodev/timeseries").Float64Histogram("ecodev.query.duration",
		metric.WithDescription("Time to build an emissions report (ms)"),
		metric.WithUnit("ms"),
	)
	return s
}

// RepoEmissions reports on one repository.
func (s *Service) RepoEmissions(ctx context.Context, q Query) (model.EmissionsReport, error) {
	if err := validateName("owner", q.Owner); err != nil {
		return model.EmissionsReport{}, err
	}
	if err := validateName("repo", q.Repo); err != nil {
		return model.EmissionsReport{}, err
	}
	fullName := q.Owner + "/" + q.Repo
	return s.report(ctx, q, "repo", func(ctx context.Context) ([]model.WorkflowRun, error) {
		return s.runs.ListRunsByRepo(ctx, fullName)
	})
}

// OwnerEmissions reports on every repository of an owner.
func (s *Service) OwnerEmissions(ctx context.Context, q Query) (model.EmissionsReport, error) {
	if err := validateName("owner", q.Owner); err != nil {
		return model.EmissionsReport{}, err
	}
	q.Repo = ""
	return s.report(ctx, q, "owner", func(ctx context.Context) ([]model.WorkflowRun, error) {
		return s.runs.ListRunsByOwner(ctx, q.Owner)
	})
}

func (s *Service) report(ctx context.Context, q Query, scope string, load func(context.Context) ([]model.WorkflowRun, error)) (model.EmissionsReport, error) {
	start := time.Now()

	bucket, err := model.ParseBucket(q.Bucket)
	if err != nil {
		return model.EmissionsReport{}, err
	}
	loc, err := LoadLocation(q.TZ, s.defaultLoc)
	if err != nil {
		return model.EmissionsReport{}, err
	}
	// Reject malformed bounds before touching the store.
	if _, err := ResolveWindow(s.windowInput(q, loc), nil); err != nil {
		return model.EmissionsReport{}, err
	}

	runs, err := load(ctx)
	if err != nil {
		return model.EmissionsReport{}, &model.UpstreamError{Op: "list runs", Err: err}
	}

	window, err := ResolveWindow(s.windowInput(q, loc), Anchors(runs, q.Filters))
	if err != nil {
		return model.EmissionsReport{}, err
	}
	series := Aggregate(runs, window, bucket, q.Filters)

	report := model.EmissionsReport{
		Owner:          q.Owner,
		Repo:           q.Repo,
		Filters:        q.Filters,
		Window:         View(window, bucket),
		WindowAdjusted: window.Adjusted,
		Totals:         series.Totals,
		Series:         series.Points,
	}
	if scope == "owner" {
		report.Repositories = s.repositories(ctx, q.Owner, runs)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("ecodev.scope", scope),
		attribute.String("ecodev.bucket", string(bucket)),
		attribute.Int("ecodev.runs_loaded", len(runs)),
		attribute.Bool("ecodev.window_adjusted", window.Adjusted),
	)
	if s.queryDuration != nil {
		s.queryDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("scope", scope)))
	}
	return report, nil
}

func (s *Service) windowInput(q Query, loc *time.Location) WindowInput {
	return WindowInput{
		From:         q.From,
		To:           q.To,
		Location:     loc,
		Now:          s.now(),
		LookbackDays: s.lookback,
		MaxDays:      s.maxDays,
	}
}

// repositories lists the owner's repositories: every repo with stored runs,
// plus whatever the provider reports. A provider failure degrades to the
// stored names.
func (s *Service) repositories(ctx context.Context, owner string, runs []model.WorkflowRun) []string {
	seen := make(map[string]bool)
	for _, r := range runs {
		seen[r.RepoFullName] = true
	}
	if s.repos != nil {
		repos, err := s.repos.ListRepositories(ctx, owner)
		if err != nil {
			s.logger.Warn("timeseries: list repositories failed, using stored names", "owner", owner, "error", err)
		}
		for _, r := range repos {
			seen[r.FullName] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func validateName(field, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return &model.ValidationError{Field: field, Message: "is required"}
	}
	if strings.Contains(v, "/") {
		return &model.ValidationError{Field: field, Message: "must not contain '/'"}
	}
	return nil
}

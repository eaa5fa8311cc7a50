package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/timeseries"
	"github.com/jai-vignesh007/EcoDev/internal/storage"
)

func (s *Server) registerTools() {
	// ecodev_emissions: bucketed emissions for a repository or an owner.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecodev_emissions",
			mcplib.WithDescription(`Report estimated CI carbon emissions as a zero-filled time series.

Pass owner alone for every repository of an account, or owner and repo for
one repository. Without from/to the window covers the last year; if that
window holds no data it moves onto the earliest recorded run and
windowAdjusted is true.

WHAT YOU GET BACK:
- totals: runs, completed runs, minutes and grams of CO2e
- series: one entry per day, week or month in the window
- window: the resolved bounds, time zone and bucket`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("owner",
				mcplib.Description("Account that owns the repositories"),
				mcplib.Required(),
			),
			mcplib.WithString("repo",
				mcplib.Description("Optional repository name (without the owner prefix)"),
			),
			mcplib.WithString("bucket",
				mcplib.Description("Series granularity"),
				mcplib.Enum("day", "week", "month"),
				mcplib.DefaultString("day"),
			),
			mcplib.WithString("from", mcplib.Description("Inclusive start date, YYYY-MM-DD")),
			mcplib.WithString("to", mcplib.Description("Exclusive end date, YYYY-MM-DD")),
			mcplib.WithString("tz", mcplib.Description("IANA time zone for bucket boundaries")),
			mcplib.WithString("branch", mcplib.Description("Only runs on this branch")),
			mcplib.WithString("event", mcplib.Description("Only runs triggered by this event, e.g. push")),
			mcplib.WithString("workflow", mcplib.Description("Only runs of this workflow name")),
		),
		s.handleEmissions,
	)

	// ecodev_run: one stored run with its estimate.
	s.mcpServer.AddTool(
		mcplib.NewTool("ecodev_run",
			mcplib.WithDescription("Look up one recorded workflow run, including the factors its estimate was computed with."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("repo",
				mcplib.Description("Repository as owner/name"),
				mcplib.Required(),
			),
			mcplib.WithString("run_id",
				mcplib.Description("Provider run id"),
				mcplib.Required(),
			),
		),
		s.handleRun,
	)

	if s.languages != nil {
		// ecodev_languages: latest language snapshot.
		s.mcpServer.AddTool(
			mcplib.NewTool("ecodev_languages",
				mcplib.WithDescription("Latest recorded language byte counts of a repository."),
				mcplib.WithReadOnlyHintAnnotation(true),
				mcplib.WithIdempotentHintAnnotation(true),
				mcplib.WithOpenWorldHintAnnotation(false),
				mcplib.WithString("repo",
					mcplib.Description("Repository as owner/name"),
					mcplib.Required(),
				),
			),
			s.handleLanguages,
		)
	}
}

func (s *Server) handleEmissions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	q := timeseries.Query{
		Owner:  request.GetString("owner", ""),
		Repo:   request.GetString("repo", ""),
		Bucket: request.GetString("bucket", ""),
		From:   request.GetString("from", ""),
		To:     request.GetString("to", ""),
		TZ:     request.GetString("tz", ""),
		Filters: model.Filters{
			Branch:   request.GetString("branch", ""),
			Event:    request.GetString("event", ""),
			Workflow: request.GetString("workflow", ""),
		},
	}
	if strings.TrimSpace(q.Owner) == "" {
		return errorResult("owner is required"), nil
	}

	var (
		report model.EmissionsReport
		err    error
	)
	if q.Repo == "" {
		report, err = s.emissions.OwnerEmissions(ctx, q)
	} else {
		report, err = s.emissions.RepoEmissions(ctx, q)
	}
	if err != nil {
		return s.failure("emissions query", err), nil
	}
	return jsonResult(report)
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	key := model.RunKey{
		RepoFullName: strings.TrimSpace(request.GetString("repo", "")),
		RunID:        strings.TrimSpace(request.GetString("run_id", "")),
	}
	if key.RepoFullName == "" || key.RunID == "" {
		return errorResult("repo and run_id are required"), nil
	}

	run, err := s.runs.GetRun(ctx, key)
	if err != nil {
		return s.failure("run lookup", err), nil
	}
	resp := model.RunResponse{WorkflowRun: run}
	if g, ok := run.EmissionsGrams(); ok {
		resp.EmissionsG = &g
	}
	return jsonResult(resp)
}

func (s *Server) handleLanguages(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	repo := strings.TrimSpace(request.GetString("repo", ""))
	if repo == "" {
		return errorResult("repo is required"), nil
	}
	snap, err := s.languages.Latest(ctx, repo)
	if err != nil {
		return s.failure("language lookup", err), nil
	}
	return jsonResult(snap)
}

// failure turns a service error into a tool error. Store details stay in
// the log.
func (s *Server) failure(op string, err error) *mcplib.CallToolResult {
	switch {
	case model.IsValidation(err):
		return errorResult(err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return errorResult("not found")
	default:
		s.logger.Error("mcp: "+op+" failed", "error", err)
		return errorResult(fmt.Sprintf("%s failed", op))
	}
}

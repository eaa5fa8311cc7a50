// Package mcp implements the Model Context Protocol server for EcoDev.
//
// The MCP server exposes the read side of the HTTP API as tools and
// resources, so MCP-compatible agents can ask how much carbon a
// repository's CI has emitted without scraping the REST endpoints.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jai-vignesh007/EcoDev/internal/emissions"
	"github.com/jai-vignesh007/EcoDev/internal/model"
	"github.com/jai-vignesh007/EcoDev/internal/service/languages"
	"github.com/jai-vignesh007/EcoDev/internal/service/timeseries"
)

// RunReader looks up one stored run.
type RunReader interface {
	GetRun(ctx context.Context, key model.RunKey) (model.WorkflowRun, error)
}

// Server wraps the MCP server with EcoDev's service layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	emissions   *timeseries.Service
	runs        RunReader
	languages   *languages.Service
	assumptions emissions.Assumptions
	logger      *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
// langs may be nil, in which case the languages tool is not registered.
func New(emissionsSvc *timeseries.Service, runs RunReader, langs *languages.Service, assumptions emissions.Assumptions, logger *slog.Logger, version string) *Server {
	s := &Server{
		emissions:   emissionsSvc,
		runs:        runs,
		languages:   langs,
		assumptions: assumptions,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ecodev",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// ecodev://assumptions: the factors new estimates are computed with.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"ecodev://assumptions",
			"Emission Assumptions",
			mcplib.WithResourceDescription("Runner power, PUE and grid intensity used for new estimates"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAssumptions,
	)
}

func (s *Server) handleAssumptions(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(map[string]any{
		"version":        s.assumptions.Version,
		"watts_per_vcpu": s.assumptions.WattsPerVCPU,
		"pue":            s.assumptions.PUE,
		"grid_g_per_kwh": s.assumptions.GridGramsPerKWh,
		"vcpu_public":    s.assumptions.VCPUPublic,
		"vcpu_private":   s.assumptions.VCPUPrivate,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal assumptions: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "ecodev://assumptions",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

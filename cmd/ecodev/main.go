// Package main is the entry point for the ecodev server and CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// Containers often ship without a zoneinfo database.
	_ "time/tzdata"

	ecodev "github.com/jai-vignesh007/EcoDev"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("ECODEV_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "ecodev",
		Short: "EcoDev - CI/CD carbon emissions tracking",
		Long: `EcoDev ingests GitHub Actions workflow runs, estimates the carbon each run
emitted, and serves zero-filled emissions time series per repository or owner.

Commands:
  serve     Run the HTTP API, webhook receiver and MCP endpoint
  backfill  Import historical workflow runs for an owner
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var sqlitePath string
	root.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "use the embedded SQLite store at this path")

	appOptions := func(extra ...ecodev.Option) []ecodev.Option {
		opts := []ecodev.Option{ecodev.WithLogger(logger), ecodev.WithVersion(version)}
		if sqlitePath != "" {
			opts = append(opts, ecodev.WithSQLitePath(sqlitePath))
		}
		return append(opts, extra...)
	}

	root.AddCommand(serveCommand(appOptions))
	root.AddCommand(backfillCommand(appOptions))
	root.AddCommand(versionCommand())
	return root
}

func serveCommand(appOptions func(...ecodev.Option) []ecodev.Option) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra []ecodev.Option
			if port != 0 {
				extra = append(extra, ecodev.WithPort(port))
			}
			app, err := ecodev.New(cmd.Context(), appOptions(extra...)...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides ECODEV_PORT)")
	return cmd
}

func backfillCommand(appOptions func(...ecodev.Option) []ecodev.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <owner>",
		Short: "Import historical workflow runs for every repository of an owner",
		Long: `Backfill lists the owner's repositories on GitHub and upserts every workflow
run it finds. Runs already stored are merged, never duplicated, so it is safe
to re-run. Requires GITHUB_TOKEN. The batch summary is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			app, err := ecodev.New(cmd.Context(), appOptions()...)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := app.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			res, err := app.Backfill(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("backfill %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ecodev %s\n", version)
		},
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

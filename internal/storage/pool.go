// Package storage persists workflow runs and language snapshots.
//
// Two adapters implement the same operations: DB (PostgreSQL through a
// pgxpool) for deployments and Lite (embedded SQLite) for single-node and
// local use. Both render a Patch into one conditional UPDATE, so the
// database is the only concurrency control for run state.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a DB and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Backend names the adapter for health output.
func (db *DB) Backend() string { return "postgres" }

// Close shuts down the connection pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// RegisterPoolMetrics exports pool statistics as OTEL observable gauges.
// Call after telemetry.Init so the global meter provider is set.
func (db *DB) RegisterPoolMetrics() {
	meter := otel.GetMeterProvider().Meter("ecodev/storage")

	acquired, err1 := meter.Int64ObservableGauge("db.pool.acquired_conns",
		metric.WithDescription("Connections currently in use"))
	idle, err2 := meter.Int64ObservableGauge("db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	total, err3 := meter.Int64ObservableGauge("db.pool.total_conns",
		metric.WithDescription("Total connections in the pool"))
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			db.logger.Warn("storage: create pool gauge", "error", err)
			return
		}
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := db.pool.Stat()
		o.ObserveInt64(acquired, int64(st.AcquiredConns()))
		o.ObserveInt64(idle, int64(st.IdleConns()))
		o.ObserveInt64(total, int64(st.TotalConns()))
		return nil
	}, acquired, idle, total)
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
	}
}

// Package database provides the optional PostgreSQL run archive. Every
// completed entity is recorded with its cost and timing so operators can
// track spend and regressions across runs. The archive is disabled when no
// database is configured; the pipeline never depends on it.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

// PostgresDB is the run archive backed by PostgreSQL. It implements
// ports.ArchiveStore.
type PostgresDB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config contains PostgreSQL connection settings.
type Config struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// NewPostgresDB opens the archive database and applies pending migrations.
//
// Parameters:
//   - cfg: Connection settings
//   - logger: Zap logger
//
// Returns:
//   - *PostgresDB: Connected archive
//   - error: Connection, ping, or migration failure
func NewPostgresDB(cfg Config, logger *zap.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgDB := &PostgresDB{
		db:     db,
		logger: logger,
	}

	if err := RunMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}

	return pgDB, nil
}

// RecordRun persists one completed entity.
//
// Parameters:
//   - ctx: Context for cancellation and tracing
//   - rec: Run record from the executor
//
// Returns:
//   - error: Insert failure
func (p *PostgresDB) RecordRun(ctx context.Context, rec ports.RunRecord) error {
	tracer := otel.Tracer("database")
	ctx, span := tracer.Start(ctx, "RecordRun")

	defer span.End()

	span.SetAttributes(
		attribute.String("run_id", rec.RunID),
		attribute.String("slug", rec.Slug),
	)

	query := `
        INSERT INTO forecast_runs (
            run_id, slug, kind, model, cost_cents, duration_ms, output_len
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	start := time.Now()
	_, err := p.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Slug,
		rec.Kind,
		rec.Model,
		rec.CostCents,
		rec.DurationMs,
		rec.OutputLen,
	)

	duration := time.Since(start)

	if err != nil {
		p.logger.Error("failed to record run",
			zap.Error(err),
			zap.String("run_id", rec.RunID),
			zap.String("slug", rec.Slug),
			zap.Duration("duration", duration),
		)
		span.RecordError(err)

		return err
	}

	p.logger.Debug("run recorded",
		zap.String("run_id", rec.RunID),
		zap.String("slug", rec.Slug),
		zap.Duration("duration", duration),
	)

	return nil
}

// RunStats summarizes archived runs since a point in time.
//
// Returns:
//   - map[string]interface{}: Aggregate counts, spend, and timing
//   - error: Query failure
func (p *PostgresDB) RunStats(ctx context.Context, since time.Time) (map[string]interface{}, error) {
	query := `
        SELECT
            COUNT(*) as total_entities,
            COUNT(DISTINCT run_id) as total_runs,
            COALESCE(SUM(cost_cents), 0) as total_cost_cents,
            AVG(duration_ms) as avg_duration_ms,
            MAX(duration_ms) as max_duration_ms
        FROM forecast_runs
        WHERE created_at >= $1
    `

	var stats struct {
		TotalEntities  int
		TotalRuns      int
		TotalCostCents float64
		AvgDurationMs  sql.NullFloat64
		MaxDurationMs  sql.NullInt64
	}

	err := p.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalEntities,
		&stats.TotalRuns,
		&stats.TotalCostCents,
		&stats.AvgDurationMs,
		&stats.MaxDurationMs,
	)

	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"total_entities":   stats.TotalEntities,
		"total_runs":       stats.TotalRuns,
		"total_cost_cents": stats.TotalCostCents,
		"avg_duration_ms":  stats.AvgDurationMs.Float64,
		"max_duration_ms":  stats.MaxDurationMs.Int64,
	}

	return result, nil
}

// Close releases the connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping verifies the connection is alive.
func (p *PostgresDB) Ping() error {
	return p.db.Ping()
}

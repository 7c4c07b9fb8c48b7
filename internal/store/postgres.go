package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS simulation_runs (
		id         UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ NOT NULL,
		ticks      BIGINT NOT NULL,
		seed       BIGINT NOT NULL,
		stats      JSONB NOT NULL
	)
`

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and creates the runs table if it does not exist.
func Connect(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return NewPostgresRepository(pool), nil
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// SaveRun inserts a run report.
func (r *PostgresRepository) SaveRun(ctx context.Context, report *RunReport) error {
	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode stats: %w", err)
	}

	query := `
		INSERT INTO simulation_runs (id, started_at, ended_at, ticks, seed, stats)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		report.ID.String(), report.StartedAt, report.EndedAt, int64(report.Ticks), report.Seed, stats,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves one run by id.
func (r *PostgresRepository) GetRun(ctx context.Context, id uuid.UUID) (*RunReport, error) {
	query := `
		SELECT id::text, started_at, ended_at, ticks, seed, stats
		FROM simulation_runs
		WHERE id = $1
	`
	report, err := scanRun(r.pool.QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get run: %w", err)
	}
	return report, nil
}

// ListRuns retrieves the most recent runs.
func (r *PostgresRepository) ListRuns(ctx context.Context, limit int) ([]RunReport, error) {
	query := `
		SELECT id::text, started_at, ended_at, ticks, seed, stats
		FROM simulation_runs
		ORDER BY ended_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query runs: %w", err)
	}
	defer rows.Close()

	var results []RunReport
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan run row: %w", err)
		}
		results = append(results, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read runs: %w", err)
	}
	return results, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func scanRun(row pgx.Row) (*RunReport, error) {
	var (
		report RunReport
		id     string
		ticks  int64
		stats  []byte
	)
	if err := row.Scan(&id, &report.StartedAt, &report.EndedAt, &ticks, &report.Seed, &stats); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &report.Stats); err != nil {
		return nil, err
	}
	report.ID = parsed
	report.Ticks = uint64(ticks)
	return &report, nil
}

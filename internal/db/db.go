// Package db provides PostgreSQL persistence for run history. It is an
// optional mirror of in-memory run state: callers treat every write as
// best-effort and never let a database failure interrupt a run.
package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateRun records the start of a run.
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, listName, artifactName string, total int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO repetition_runs (id, list_name, artifact_name, total, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 ON CONFLICT (id) DO NOTHING`,
		runID, listName, artifactName, total,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun records a run's terminal state and final counters.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, completed, failed int, artifactPath string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE repetition_runs
		 SET status = $1, completed = $2, failed = $3, artifact_path = $4, completed_at = NOW()
		 WHERE id = $5`,
		status, completed, failed, artifactPath, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetRun retrieves a run row by id, or nil if none exists.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*RunRecord, error) {
	var run RunRecord
	err := db.pool.QueryRow(ctx,
		`SELECT id, list_name, artifact_name, total, completed, failed, status,
		        COALESCE(artifact_path, ''), created_at, completed_at
		 FROM repetition_runs
		 WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.ListName, &run.ArtifactName, &run.Total, &run.Completed,
		&run.Failed, &run.Status, &run.ArtifactPath, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, list_name, artifact_name, total, completed, failed, status,
		        COALESCE(artifact_path, ''), created_at, completed_at
		 FROM repetition_runs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		if err := rows.Scan(&run.ID, &run.ListName, &run.ArtifactName, &run.Total, &run.Completed,
			&run.Failed, &run.Status, &run.ArtifactPath, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

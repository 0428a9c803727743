package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SaveOutcome upserts the outcome at a task-list position. Retried items
// overwrite their earlier row so the table holds exactly one row per
// position.
func (db *DB) SaveOutcome(ctx context.Context, runID uuid.UUID, position int, outcome OutcomeRecord) error {
	var payloadJSON []byte
	if outcome.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(outcome.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome payload: %w", err)
		}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO item_outcomes (run_id, position, item, status, reason, detail, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, position)
		 DO UPDATE SET status = $4, reason = $5, detail = $6, payload = $7, created_at = NOW()`,
		runID, position, outcome.Item, outcome.Status, outcome.Reason, outcome.Detail, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome for %q: %w", outcome.Item, err)
	}
	return nil
}

// ListOutcomes returns the recorded outcomes for a run in task-list order.
func (db *DB) ListOutcomes(ctx context.Context, runID uuid.UUID) ([]OutcomeRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT item, status, reason, detail, payload
		 FROM item_outcomes
		 WHERE run_id = $1
		 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []OutcomeRecord
	for rows.Next() {
		var outcome OutcomeRecord
		var payloadJSON []byte
		if err := rows.Scan(&outcome.Item, &outcome.Status, &outcome.Reason, &outcome.Detail, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &outcome.Payload)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outcomes: %w", err)
	}
	return outcomes, nil
}

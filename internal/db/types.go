package db

import (
	"time"

	"github.com/google/uuid"
)

// RunRecord is a persisted run row.
type RunRecord struct {
	ID           uuid.UUID  `json:"id"`
	ListName     string     `json:"list_name"`
	ArtifactName string     `json:"artifact_name"`
	Total        int        `json:"total"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	Status       string     `json:"status"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// OutcomeRecord is a persisted per-item outcome.
type OutcomeRecord struct {
	Item    string            `json:"item"`
	Status  string            `json:"status"`
	Reason  string            `json:"reason,omitempty"`
	Detail  string            `json:"detail,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

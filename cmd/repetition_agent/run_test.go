package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, exitOK},
		{"not found", fmt.Errorf("resolve: %w", tasklist.ErrNotFound), exitNotFound},
		{"empty list", &tasklist.EmptyListError{Name: "x"}, exitEmptyList},
		{"not confirmed", runner.ErrNotConfirmed, exitNotConfirmed},
		{"total failure", fmt.Errorf("run abc: %w", runner.ErrTotalFailure), exitTotalFailure},
		{"artifact write", &runner.ArtifactWriteError{Path: "out.csv", Cause: errors.New("disk full")}, 1},
		{"anything else", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, exitCode(tt.err))
		})
	}
}

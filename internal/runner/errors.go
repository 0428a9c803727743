package runner

import (
	"errors"
	"fmt"
)

// ErrNotConfirmed indicates the user rejected the confirmation gate; the
// run was cancelled before any worker invocation.
var ErrNotConfirmed = errors.New("run was not confirmed")

// ErrTotalFailure indicates zero items succeeded across the whole run.
var ErrTotalFailure = errors.New("every item failed")

// ErrRunNotFound indicates no run is registered under the given id.
var ErrRunNotFound = errors.New("run not found")

// ArtifactWriteError indicates the aggregated artifact could not be
// persisted. The run is marked Failed but its outcomes stay in memory so
// finalization alone can be retried.
type ArtifactWriteError struct {
	Path  string
	Cause error
}

func (e *ArtifactWriteError) Error() string {
	return fmt.Sprintf("failed to write result artifact %s: %v", e.Path, e.Cause)
}

func (e *ArtifactWriteError) Unwrap() error {
	return e.Cause
}

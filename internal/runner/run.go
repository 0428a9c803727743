// Package runner implements the repetitive-task execution engine: it takes
// a confirmed task list and a per-item instruction, drives one worker
// invocation per item, records every outcome, and settles the run into a
// terminal state. A single item's failure never aborts the run; only
// total failure or an unwritable artifact does.
package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// State is the lifecycle state of a Run. Transitions are forward-only.
type State string

const (
	StatePending              State = "pending"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateRunning              State = "running"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// OutcomeStatus is the per-item result status.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// FailureReason classifies a per-item failure. None of these escalate to
// a run-level failure on their own.
type FailureReason string

const (
	ReasonSchemaMismatch FailureReason = "schema_mismatch"
	ReasonWorkerError    FailureReason = "worker_error"
	ReasonTimeout        FailureReason = "timeout"
	ReasonCancelled      FailureReason = "cancelled"
)

// ItemOutcome is the recorded result for one item. Immutable once recorded.
type ItemOutcome struct {
	Item    string            `json:"item"`
	Status  OutcomeStatus     `json:"status"`
	Payload map[string]string `json:"payload,omitempty"`
	Reason  FailureReason     `json:"reason,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

// RunRequest binds a resolved task list to the instruction and the output
// artifact name. It is immutable for the run's duration.
type RunRequest struct {
	List         *tasklist.TaskList `json:"list" validate:"required"`
	Instruction  worker.Instruction `json:"instruction" validate:"required"`
	ArtifactName string             `json:"artifact_name" validate:"required"`
}

// Run is one execution of the engine over a confirmed task list. It is
// owned by the Runner; everyone else reads it through Snapshot.
type Run struct {
	mu sync.Mutex

	id  uuid.UUID
	req RunRequest

	state    State
	outcomes []ItemOutcome
	recorded []bool

	succeeded int
	failed    int
	lastItem  string

	startedAt  time.Time
	finishedAt time.Time

	artifactPath string
	cancelled    bool
}

// NewRun validates the request and creates a Run in the Pending state,
// with one outcome slot reserved per item.
func NewRun(req RunRequest) (*Run, error) {
	if req.List == nil {
		return nil, fmt.Errorf("run request has no task list")
	}
	if err := req.List.Validate(); err != nil {
		return nil, err
	}
	if err := req.Instruction.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	if req.ArtifactName == "" {
		return nil, fmt.Errorf("run request has no artifact name")
	}
	return &Run{
		id:       uuid.New(),
		req:      req,
		state:    StatePending,
		outcomes: make([]ItemOutcome, len(req.List.Items)),
		recorded: make([]bool, len(req.List.Items)),
	}, nil
}

// ID returns the run identifier.
func (r *Run) ID() uuid.UUID { return r.id }

// Request returns the immutable run request.
func (r *Run) Request() RunRequest { return r.req }

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ArtifactPath returns the finalized artifact location, empty until the
// aggregation has succeeded.
func (r *Run) ArtifactPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifactPath
}

// Submit transitions Pending -> AwaitingConfirmation.
func (r *Run) Submit() error {
	return r.transition(StatePending, StateAwaitingConfirmation)
}

// Confirm transitions AwaitingConfirmation -> Running and starts the clock.
func (r *Run) Confirm() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateAwaitingConfirmation {
		return fmt.Errorf("cannot confirm run in state %q", r.state)
	}
	r.state = StateRunning
	r.startedAt = time.Now()
	return nil
}

// Reject transitions AwaitingConfirmation -> Cancelled. No items run.
func (r *Run) Reject() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateAwaitingConfirmation {
		return fmt.Errorf("cannot reject run in state %q", r.state)
	}
	r.state = StateCancelled
	r.finishedAt = time.Now()
	return nil
}

// Cancel requests cooperative cancellation. During Running the engine
// checks the flag before dispatching each item; in-flight invocations are
// allowed to finish and their outcomes are still recorded.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *Run) cancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Run) transition(from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return fmt.Errorf("invalid transition %q -> %q (run is %q)", from, to, r.state)
	}
	r.state = to
	return nil
}

// recordOutcome stores the outcome for the item at the given position and
// updates the counters. Counter updates are serialized here so concurrent
// completions never race.
func (r *Run) recordOutcome(position int, outcome ItemOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if position < 0 || position >= len(r.outcomes) || r.recorded[position] {
		return
	}
	r.outcomes[position] = outcome
	r.recorded[position] = true
	r.lastItem = outcome.Item
	if outcome.Status == OutcomeSuccess {
		r.succeeded++
	} else {
		r.failed++
	}
}

// fillUnrecorded marks every item that never got dispatched as Failed
// with the given reason, keeping one outcome per item.
func (r *Run) fillUnrecorded(reason FailureReason, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, done := range r.recorded {
		if done {
			continue
		}
		r.outcomes[i] = ItemOutcome{
			Item:   r.req.List.Items[i].Name,
			Status: OutcomeFailed,
			Reason: reason,
			Detail: detail,
		}
		r.recorded[i] = true
		r.failed++
	}
}

func (r *Run) settle(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = state
	r.finishedAt = time.Now()
}

func (r *Run) setArtifactPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifactPath = path
}

// Outcomes returns a copy of the per-item outcomes in task-list order.
// Slots for items not yet processed are zero-valued.
func (r *Run) Outcomes() []ItemOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ItemOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Snapshot is a point-in-time read-only view of a Run.
type Snapshot struct {
	RunID          uuid.UUID `json:"run_id"`
	ListName       string    `json:"list_name"`
	State          State     `json:"state"`
	Total          int       `json:"total"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	Remaining      int       `json:"remaining"`
	LastItem       string    `json:"last_item,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	ArtifactPath   string    `json:"artifact_path,omitempty"`
}

// Snapshot captures the run's mutable fields at call time. Safe to call
// at any point; it never blocks the engine beyond a counter read.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var elapsed float64
	if !r.startedAt.IsZero() {
		end := r.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(r.startedAt).Seconds()
	}

	total := len(r.outcomes)
	return Snapshot{
		RunID:          r.id,
		ListName:       r.req.List.Name,
		State:          r.state,
		Total:          total,
		Completed:      r.succeeded,
		Failed:         r.failed,
		Remaining:      total - r.succeeded - r.failed,
		LastItem:       r.lastItem,
		ElapsedSeconds: elapsed,
		ArtifactPath:   r.artifactPath,
	}
}

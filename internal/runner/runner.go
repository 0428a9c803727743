package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/repetition-orchestrator/internal/db"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// Aggregator persists a run's outcomes as a single tabular artifact and
// returns the artifact path.
type Aggregator interface {
	Finalize(run *Run) (string, error)
}

// Options configures a Runner.
type Options struct {
	Worker     worker.Worker
	Gate       Gate
	Aggregator Aggregator
	Tracker    *Tracker

	// Concurrency is the maximum number of worker invocations in flight.
	// Zero or one means strictly sequential, in task-list order.
	Concurrency int

	// ItemTimeout bounds a single worker invocation. A timed-out item is
	// recorded as Failed with reason Timeout, never escalated. Zero uses
	// DefaultItemTimeout.
	ItemTimeout time.Duration

	// MaxRetriesPerItem is how many extra invocations a failing item
	// gets before its failure is recorded. Zero means no retries.
	MaxRetriesPerItem int

	// DB, when set, mirrors run state to Postgres. Persistence is
	// best-effort: a database failure warns and the run continues.
	DB *db.DB

	// OnProgress, when set, is called with a fresh snapshot after each
	// item settles.
	OnProgress func(Snapshot)

	Verbose bool
}

// DefaultItemTimeout bounds a worker invocation when no timeout is
// configured.
const DefaultItemTimeout = 120 * time.Second

// Runner drives runs through the execution loop.
type Runner struct {
	opts Options
}

// New creates a Runner. Worker, Gate, and Aggregator are required.
func New(opts Options) (*Runner, error) {
	if opts.Worker == nil {
		return nil, fmt.Errorf("runner requires a worker")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("runner requires a confirmation gate")
	}
	if opts.Aggregator == nil {
		return nil, fmt.Errorf("runner requires an aggregator")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = DefaultItemTimeout
	}
	return &Runner{opts: opts}, nil
}

// Execute runs every item of an already-confirmed run and settles it into
// a terminal state. It returns ErrTotalFailure when zero items succeed,
// an *ArtifactWriteError when the artifact cannot be persisted, and nil
// on Completed or cooperative cancellation.
func (r *Runner) Execute(ctx context.Context, run *Run) error {
	if run.State() != StateRunning {
		return fmt.Errorf("cannot execute run %s in state %q: confirmation is required first", run.ID(), run.State())
	}

	req := run.Request()
	items := req.List.Items

	if r.opts.DB != nil {
		if err := r.opts.DB.CreateRun(ctx, run.ID(), req.List.Name, req.ArtifactName, len(items)); err != nil {
			fmt.Printf("Warning: failed to record run in database: %v\n", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for position, item := range items {
		// Cooperative cancellation: stop dispatching new items, let
		// in-flight invocations finish and record their outcomes.
		if gCtx.Err() != nil || run.cancelRequested() {
			break
		}

		g.Go(func() error {
			// Re-check once the concurrency slot is acquired; a cancel
			// may have landed while this item waited for one.
			if gCtx.Err() != nil || run.cancelRequested() {
				return nil
			}
			outcome := r.processItem(gCtx, item.Name, req.Instruction)
			run.recordOutcome(position, outcome)
			if r.opts.DB != nil {
				_ = r.opts.DB.SaveOutcome(ctx, run.ID(), position, db.OutcomeRecord{
					Item:    outcome.Item,
					Status:  string(outcome.Status),
					Reason:  string(outcome.Reason),
					Detail:  outcome.Detail,
					Payload: outcome.Payload,
				})
			}
			if r.opts.OnProgress != nil {
				r.opts.OnProgress(run.Snapshot())
			}
			return nil
		})
	}

	// Item failures are recorded, never returned, so Wait only reflects
	// scheduling; the error we care about is cancellation, handled below.
	_ = g.Wait()

	interrupted := run.cancelRequested() || ctx.Err() != nil
	if interrupted {
		run.fillUnrecorded(ReasonCancelled, "run cancelled before item was dispatched")
	}

	path, err := r.opts.Aggregator.Finalize(run)
	if err != nil {
		run.settle(StateFailed)
		r.completeInDB(run)
		var writeErr *ArtifactWriteError
		if errors.As(err, &writeErr) {
			return err
		}
		return &ArtifactWriteError{Path: req.ArtifactName, Cause: err}
	}
	run.setArtifactPath(path)

	snap := run.Snapshot()
	switch {
	case interrupted:
		run.settle(StateCancelled)
	case snap.Completed == 0:
		run.settle(StateFailed)
	default:
		run.settle(StateCompleted)
	}
	r.completeInDB(run)

	if run.State() == StateFailed {
		return fmt.Errorf("run %s: %w", run.ID(), ErrTotalFailure)
	}
	return nil
}

// Finalize re-runs aggregation alone. Used to retry artifact persistence
// after an ArtifactWriteError; the outcomes are still in memory.
func (r *Runner) Finalize(run *Run) (string, error) {
	path, err := r.opts.Aggregator.Finalize(run)
	if err != nil {
		return "", err
	}
	run.setArtifactPath(path)
	return path, nil
}

// processItem invokes the worker for one item, retrying up to the
// configured budget, and returns the outcome to record. It never returns
// an error: every failure mode becomes a Failed outcome.
func (r *Runner) processItem(ctx context.Context, item string, in worker.Instruction) ItemOutcome {
	var lastErr error
	attempts := r.opts.MaxRetriesPerItem + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil && lastErr != nil {
			break
		}
		payload, err := r.invoke(ctx, item, in)
		if err == nil {
			return ItemOutcome{Item: item, Status: OutcomeSuccess, Payload: payload}
		}
		lastErr = err
		if r.opts.Verbose {
			fmt.Printf("[VERBOSE] item %q attempt %d/%d failed: %v\n", item, attempt+1, attempts, err)
		}
	}

	return ItemOutcome{
		Item:   item,
		Status: OutcomeFailed,
		Reason: classifyFailure(lastErr),
		Detail: lastErr.Error(),
	}
}

func (r *Runner) invoke(ctx context.Context, item string, in worker.Instruction) (map[string]string, error) {
	itemCtx, cancel := context.WithTimeout(ctx, r.opts.ItemTimeout)
	defer cancel()
	return r.opts.Worker.Do(itemCtx, item, in)
}

// classifyFailure maps a worker error onto the per-item failure taxonomy.
func classifyFailure(err error) FailureReason {
	var schemaErr *worker.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		return ReasonSchemaMismatch
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	default:
		return ReasonWorkerError
	}
}

func (r *Runner) completeInDB(run *Run) {
	if r.opts.DB == nil {
		return
	}
	snap := run.Snapshot()
	// The caller's context may already be cancelled; the final state is
	// still worth persisting.
	if err := r.opts.DB.CompleteRun(context.Background(), run.ID(), string(snap.State), snap.Completed, snap.Failed, snap.ArtifactPath); err != nil {
		fmt.Printf("Warning: failed to record run completion in database: %v\n", err)
	}
}

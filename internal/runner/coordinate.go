package runner

import (
	"context"
	"fmt"

	"github.com/jonathan/repetition-orchestrator/internal/resolver"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// maxAmendments caps how many times the user may refine the query at the
// gate before we give up instead of looping forever.
const maxAmendments = 5

// ResolveAndRun is the full workflow: resolve the query to a task list,
// summarize it at the confirmation gate, and on approval execute the run
// to completion. An Amended decision re-enters resolution with the
// refined query; Rejected returns ErrNotConfirmed with no side effects
// beyond the cancelled run record.
//
// The returned Run is non-nil whenever a run was created, even on error,
// so callers can still inspect its outcomes.
func (r *Runner) ResolveAndRun(ctx context.Context, res *resolver.Resolver, query string, in worker.Instruction, artifactName string) (*Run, error) {
	for range maxAmendments + 1 {
		list, err := res.Resolve(ctx, query)
		if err != nil {
			return nil, err
		}

		name := artifactName
		if name == "" {
			name = list.Name + "_results"
		}
		run, err := NewRun(RunRequest{List: list, Instruction: in, ArtifactName: name})
		if err != nil {
			return nil, err
		}
		if r.opts.Tracker != nil {
			r.opts.Tracker.Register(run)
		}
		if err := run.Submit(); err != nil {
			return run, err
		}

		decision, err := r.opts.Gate.AwaitConfirmation(ctx, Summarize(list))
		if err != nil {
			return run, fmt.Errorf("confirmation failed: %w", err)
		}

		switch decision.Kind {
		case DecisionConfirmed:
			if err := run.Confirm(); err != nil {
				return run, err
			}
			return run, r.Execute(ctx, run)
		case DecisionRejected:
			if err := run.Reject(); err != nil {
				return run, err
			}
			return run, ErrNotConfirmed
		case DecisionAmended:
			// The superseded run is cancelled; the refined query gets a
			// fresh one.
			if err := run.Reject(); err != nil {
				return run, err
			}
			query = decision.NewQuery
		default:
			return run, fmt.Errorf("unknown gate decision %q", decision.Kind)
		}
	}
	return nil, fmt.Errorf("no confirmation after %d amended queries", maxAmendments)
}

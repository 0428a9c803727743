package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/repetition-orchestrator/internal/resolver"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// spyWorker records every invocation and fails or delays per item.
type spyWorker struct {
	mu       sync.Mutex
	calls    []string
	attempts map[string]int
	fail     map[string]error
	failures map[string]int // per-item transient failures before success
	delay    map[string]time.Duration
}

func newSpyWorker() *spyWorker {
	return &spyWorker{
		attempts: make(map[string]int),
		fail:     make(map[string]error),
		failures: make(map[string]int),
		delay:    make(map[string]time.Duration),
	}
}

func (w *spyWorker) Do(ctx context.Context, item string, in worker.Instruction) (map[string]string, error) {
	w.mu.Lock()
	w.calls = append(w.calls, item)
	attempt := w.attempts[item]
	w.attempts[item]++
	w.mu.Unlock()

	if d := w.delay[item]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := w.fail[item]; err != nil {
		return nil, err
	}
	if attempt < w.failures[item] {
		return nil, fmt.Errorf("transient failure on attempt %d", attempt+1)
	}

	payload := make(map[string]string, len(in.ResponseFields))
	for _, field := range in.ResponseFields {
		payload[field] = item + " " + field
	}
	return payload, nil
}

func (w *spyWorker) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

// fakeAggregator counts finalizations and can be made to fail.
type fakeAggregator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAggregator) Finalize(run *Run) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return "results/" + run.Request().ArtifactName + ".csv", nil
}

func testInstruction() worker.Instruction {
	return worker.Instruction{
		Template:       "Look up {item_name}",
		ResponseFields: []string{"value"},
	}
}

func newTestList(t *testing.T, names ...string) *tasklist.TaskList {
	t.Helper()
	list := tasklist.NewFromNames("test_list", names)
	require.NoError(t, list.Validate())
	return list
}

func newRunningRun(t *testing.T, names ...string) *Run {
	t.Helper()
	run, err := NewRun(RunRequest{
		List:         newTestList(t, names...),
		Instruction:  testInstruction(),
		ArtifactName: "test_results",
	})
	require.NoError(t, err)
	require.NoError(t, run.Submit())
	require.NoError(t, run.Confirm())
	return run
}

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.Gate == nil {
		opts.Gate = AutoApprove()
	}
	if opts.Aggregator == nil {
		opts.Aggregator = &fakeAggregator{}
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestRunTransitions(t *testing.T) {
	run, err := NewRun(RunRequest{
		List:         newTestList(t, "a"),
		Instruction:  testInstruction(),
		ArtifactName: "out",
	})
	require.NoError(t, err)
	assert.Equal(t, StatePending, run.State())

	// Confirmation before submission is invalid.
	require.Error(t, run.Confirm())

	require.NoError(t, run.Submit())
	assert.Equal(t, StateAwaitingConfirmation, run.State())

	require.NoError(t, run.Confirm())
	assert.Equal(t, StateRunning, run.State())

	// No transition leaves a terminal state.
	run.settle(StateCompleted)
	run.settle(StateFailed)
	assert.Equal(t, StateCompleted, run.State())
}

func TestNewRun_RejectsInvalidRequests(t *testing.T) {
	_, err := NewRun(RunRequest{Instruction: testInstruction(), ArtifactName: "out"})
	require.Error(t, err)

	_, err = NewRun(RunRequest{List: newTestList(t, "a"), ArtifactName: "out"})
	require.Error(t, err)

	_, err = NewRun(RunRequest{List: newTestList(t, "a"), Instruction: testInstruction()})
	require.Error(t, err)

	empty := &tasklist.TaskList{Name: "empty"}
	_, err = NewRun(RunRequest{List: empty, Instruction: testInstruction(), ArtifactName: "out"})
	require.Error(t, err)
	assert.True(t, tasklist.IsEmpty(err))
}

func TestExecute_RequiresConfirmation(t *testing.T) {
	w := newSpyWorker()
	r := newTestRunner(t, Options{Worker: w})

	run, err := NewRun(RunRequest{
		List:         newTestList(t, "a"),
		Instruction:  testInstruction(),
		ArtifactName: "out",
	})
	require.NoError(t, err)

	require.Error(t, r.Execute(context.Background(), run))
	assert.Zero(t, w.callCount(), "no worker invocation before confirmation")
}

func TestExecute_AllSucceed(t *testing.T) {
	w := newSpyWorker()
	r := newTestRunner(t, Options{Worker: w})
	run := newRunningRun(t, "a", "b", "c")

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCompleted, run.State())

	snap := run.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Completed)
	assert.Zero(t, snap.Failed)
	assert.Zero(t, snap.Remaining)
	assert.Equal(t, "results/test_results.csv", snap.ArtifactPath)
	assert.Greater(t, snap.ElapsedSeconds, 0.0)
}

func TestExecute_PartialFailureCompletes(t *testing.T) {
	w := newSpyWorker()
	w.fail["b"] = errors.New("worker exploded")
	r := newTestRunner(t, Options{Worker: w})
	run := newRunningRun(t, "a", "b", "c")

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCompleted, run.State(), "partial success is a valid terminal state")

	outcomes := run.Outcomes()
	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeSuccess, outcomes[0].Status)
	assert.Equal(t, OutcomeFailed, outcomes[1].Status)
	assert.Equal(t, ReasonWorkerError, outcomes[1].Reason)
	assert.Contains(t, outcomes[1].Detail, "worker exploded")
	assert.Equal(t, OutcomeSuccess, outcomes[2].Status)
}

func TestExecute_TotalFailure(t *testing.T) {
	w := newSpyWorker()
	w.fail["a"] = errors.New("down")
	w.fail["b"] = errors.New("down")
	r := newTestRunner(t, Options{Worker: w})
	run := newRunningRun(t, "a", "b")

	err := r.Execute(context.Background(), run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTotalFailure))
	assert.Equal(t, StateFailed, run.State())

	// Every outcome is still recorded and queryable.
	outcomes := run.Outcomes()
	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		assert.Equal(t, OutcomeFailed, outcome.Status)
	}
}

func TestExecute_SchemaMismatchIsPerItem(t *testing.T) {
	w := newSpyWorker()
	w.fail["b"] = &worker.SchemaError{Item: "b", Issues: []string{"missing field value"}}
	r := newTestRunner(t, Options{Worker: w})
	run := newRunningRun(t, "a", "b")

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCompleted, run.State())
	assert.Equal(t, ReasonSchemaMismatch, run.Outcomes()[1].Reason)
}

func TestExecute_TimeoutIsPerItem(t *testing.T) {
	w := newSpyWorker()
	w.delay["slow"] = 500 * time.Millisecond
	r := newTestRunner(t, Options{Worker: w, ItemTimeout: 20 * time.Millisecond})
	run := newRunningRun(t, "fast", "slow")

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCompleted, run.State())

	outcomes := run.Outcomes()
	assert.Equal(t, OutcomeSuccess, outcomes[0].Status)
	assert.Equal(t, OutcomeFailed, outcomes[1].Status)
	assert.Equal(t, ReasonTimeout, outcomes[1].Reason)
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	w := newSpyWorker()
	w.failures["a"] = 1
	r := newTestRunner(t, Options{Worker: w, MaxRetriesPerItem: 1})
	run := newRunningRun(t, "a")

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCompleted, run.State())
	assert.Equal(t, 2, w.callCount())
}

func TestExecute_NoRetriesByDefault(t *testing.T) {
	w := newSpyWorker()
	w.failures["a"] = 1
	r := newTestRunner(t, Options{Worker: w})
	run := newRunningRun(t, "a")

	err := r.Execute(context.Background(), run)
	assert.True(t, errors.Is(err, ErrTotalFailure))
	assert.Equal(t, 1, w.callCount())
}

func TestExecute_CooperativeCancellation(t *testing.T) {
	w := newSpyWorker()
	var run *Run
	r := newTestRunner(t, Options{
		Worker: w,
		OnProgress: func(Snapshot) {
			run.Cancel()
		},
	})
	run = newRunningRun(t, "a", "b", "c")

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCancelled, run.State())
	assert.Equal(t, 1, w.callCount(), "cancellation is checked before dispatching the next item")

	// One row per item even for the items never dispatched.
	outcomes := run.Outcomes()
	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeSuccess, outcomes[0].Status)
	assert.Equal(t, ReasonCancelled, outcomes[1].Reason)
	assert.Equal(t, ReasonCancelled, outcomes[2].Reason)
}

func TestExecute_ConcurrentCompletionOrderDoesNotReorderOutcomes(t *testing.T) {
	w := newSpyWorker()
	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("item-%d", i)
		// Earlier items finish later.
		w.delay[names[i]] = time.Duration(8-i) * 5 * time.Millisecond
	}
	r := newTestRunner(t, Options{Worker: w, Concurrency: 4})
	run := newRunningRun(t, names...)

	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, StateCompleted, run.State())

	outcomes := run.Outcomes()
	require.Len(t, outcomes, len(names))
	for i, outcome := range outcomes {
		assert.Equal(t, names[i], outcome.Item, "outcomes stay in task-list order")
		assert.Equal(t, OutcomeSuccess, outcome.Status)
	}
}

func TestExecute_ArtifactWriteErrorFailsRun(t *testing.T) {
	w := newSpyWorker()
	agg := &fakeAggregator{err: errors.New("disk full")}
	r := newTestRunner(t, Options{Worker: w, Aggregator: agg})
	run := newRunningRun(t, "a", "b")

	err := r.Execute(context.Background(), run)
	require.Error(t, err)
	var writeErr *ArtifactWriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, StateFailed, run.State())

	// Outcomes survive for a finalize-only retry.
	require.Len(t, run.Outcomes(), 2)
	agg.err = nil
	path, err := r.Finalize(run)
	require.NoError(t, err)
	assert.Equal(t, "results/test_results.csv", path)
	assert.Equal(t, path, run.ArtifactPath())
}

func TestResolveAndRun_RejectedRunsNothing(t *testing.T) {
	store, err := tasklist.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(tasklist.NewFromNames("maryland_counties", []string{"Allegany", "Baltimore"})))
	res := resolver.New(store, nil, false)

	w := newSpyWorker()
	gate := GateFunc(func(_ context.Context, summary Summary) (Decision, error) {
		assert.Equal(t, 2, summary.Count)
		return Decision{Kind: DecisionRejected}, nil
	})
	r := newTestRunner(t, Options{Worker: w, Gate: gate})

	run, err := r.ResolveAndRun(context.Background(), res, "maryland_counties", testInstruction(), "out")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfirmed))
	require.NotNil(t, run)
	assert.Equal(t, StateCancelled, run.State())
	assert.Zero(t, w.callCount(), "no worker invocation without confirmation")
}

func TestResolveAndRun_AmendedReentersResolution(t *testing.T) {
	store, err := tasklist.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(tasklist.NewFromNames("first", []string{"x"})))
	require.NoError(t, store.Save(tasklist.NewFromNames("second", []string{"y", "z"})))
	res := resolver.New(store, nil, false)

	w := newSpyWorker()
	var summaries []Summary
	gate := GateFunc(func(_ context.Context, summary Summary) (Decision, error) {
		summaries = append(summaries, summary)
		if summary.Name == "first" {
			return Decision{Kind: DecisionAmended, NewQuery: "second"}, nil
		}
		return Decision{Kind: DecisionConfirmed}, nil
	})
	tracker := NewTracker()
	r := newTestRunner(t, Options{Worker: w, Gate: gate, Tracker: tracker})

	run, err := r.ResolveAndRun(context.Background(), res, "first", testInstruction(), "out")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State())
	assert.Equal(t, "second", run.Request().List.Name)
	require.Len(t, summaries, 2)
	assert.Equal(t, 2, w.callCount())

	// Both the superseded and the executed run are tracked.
	assert.Len(t, tracker.Snapshots(), 2)
}

func TestSummarize_SampleIsCapped(t *testing.T) {
	list := newTestList(t, "a", "b", "c", "d", "e", "f", "g")
	summary := Summarize(list)
	assert.Equal(t, 7, summary.Count)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, summary.Sample)

	short := newTestList(t, "a", "b")
	assert.Equal(t, []string{"a", "b"}, Summarize(short).Sample)
}

func TestTracker(t *testing.T) {
	tracker := NewTracker()
	run := newRunningRun(t, "a")
	tracker.Register(run)

	snap, err := tracker.Status(run.ID())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, 1, snap.Total)

	_, err = tracker.Status(uuid.New())
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

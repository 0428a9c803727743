package runner

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Tracker is the process-wide run registry: it hands out read-only
// snapshots of any registered run at any time without blocking the
// engine.
type Tracker struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
}

// NewTracker creates an empty registry.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[uuid.UUID]*Run)}
}

// Register makes a run queryable by id.
func (t *Tracker) Register(run *Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.ID()] = run
}

// Get returns the registered run, or ErrRunNotFound.
func (t *Tracker) Get(id uuid.UUID) (*Run, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Status returns a point-in-time snapshot for the run id.
func (t *Tracker) Status(id uuid.UUID) (Snapshot, error) {
	run, err := t.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return run.Snapshot(), nil
}

// Snapshots returns a snapshot per registered run, ordered by run id for
// stable listings.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.RLock()
	runs := make([]*Run, 0, len(t.runs))
	for _, run := range t.runs {
		runs = append(runs, run)
	}
	t.mu.RUnlock()

	out := make([]Snapshot, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RunID.String() < out[j].RunID.String()
	})
	return out
}

package runner

import (
	"context"

	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

// sampleSize is how many items a summary shows the user before asking
// for confirmation.
const sampleSize = 5

// Summary describes a resolved task list compactly enough to confirm.
type Summary struct {
	Name   string   `json:"name"`
	Count  int      `json:"count"`
	Sample []string `json:"sample"`
}

// DecisionKind is the user's answer at the confirmation gate.
type DecisionKind string

const (
	DecisionConfirmed DecisionKind = "confirmed"
	DecisionRejected  DecisionKind = "rejected"
	DecisionAmended   DecisionKind = "amended"
)

// Decision carries the gate's answer. NewQuery is set only for Amended.
type Decision struct {
	Kind     DecisionKind
	NewQuery string
}

// Gate blocks bulk execution until the user has explicitly approved the
// summarized task list. Implementations own the wait semantics (stdin
// prompt, HTTP endpoint, auto-approve flag); the engine's only contract
// is that no worker runs before Confirmed is observed.
type Gate interface {
	AwaitConfirmation(ctx context.Context, summary Summary) (Decision, error)
}

// Summarize builds the confirmation summary: item count plus a sample of
// at most five item names.
func Summarize(list *tasklist.TaskList) Summary {
	names := list.Names()
	sample := names
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	out := make([]string, len(sample))
	copy(out, sample)
	return Summary{Name: list.Name, Count: len(names), Sample: out}
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, summary Summary) (Decision, error)

func (f GateFunc) AwaitConfirmation(ctx context.Context, summary Summary) (Decision, error) {
	return f(ctx, summary)
}

// AutoApprove is a Gate that confirms every summary without asking.
func AutoApprove() Gate {
	return GateFunc(func(context.Context, Summary) (Decision, error) {
		return Decision{Kind: DecisionConfirmed}, nil
	})
}

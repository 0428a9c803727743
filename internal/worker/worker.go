package worker

import (
	"context"
	"fmt"

	"github.com/jonathan/repetition-orchestrator/internal/llm"
)

// Worker answers a single item. Implementations must be safe for
// concurrent use; the runner may have several invocations in flight.
type Worker interface {
	// Do returns the declared response fields for one item, or an error.
	// A *SchemaError means the answer arrived but did not match the
	// contract; any other error is a worker failure.
	Do(ctx context.Context, item string, in Instruction) (map[string]string, error)
}

// LLMWorker answers items with a single LLM call per item.
type LLMWorker struct {
	client llm.Client
	tier   llm.ModelTier
}

// NewLLMWorker creates a worker over the given client. The worker model
// tier is used unless overridden.
func NewLLMWorker(client llm.Client) *LLMWorker {
	return &LLMWorker{client: client, tier: llm.TierWorker}
}

// WithTier returns a copy of the worker using a different model tier.
func (w *LLMWorker) WithTier(tier llm.ModelTier) *LLMWorker {
	return &LLMWorker{client: w.client, tier: tier}
}

// Do renders the prompt for the item, invokes the model, and validates
// the response against the instruction's declared fields.
func (w *LLMWorker) Do(ctx context.Context, item string, in Instruction) (map[string]string, error) {
	prompt, err := in.Prompt(item)
	if err != nil {
		return nil, err
	}

	raw, err := w.client.GenerateJSON(ctx, prompt, w.tier)
	if err != nil {
		return nil, fmt.Errorf("worker invocation failed for %q: %w", item, err)
	}

	return ValidatePayload(item, in.ResponseFields, raw)
}

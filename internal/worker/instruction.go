// Package worker defines the per-item worker capability: given one item,
// an instruction template, and a response-format contract, it produces a
// flat mapping of the declared fields to string values.
package worker

import (
	"fmt"
	"strings"

	"github.com/jonathan/repetition-orchestrator/internal/prompts"
)

// Placeholder is the substitution marker the instruction template must
// contain; it is replaced with the item name for each invocation.
const Placeholder = "{item_name}"

// Instruction is the per-run contract: a template with a single item-name
// placeholder plus the ordered set of response fields the worker must
// return for every item.
type Instruction struct {
	Template       string   `json:"template" validate:"required"`
	ResponseFields []string `json:"response_fields" validate:"required,min=1,dive,required"`
}

// Validate checks the instruction contract beyond struct tags: the
// template must contain the placeholder and field names must be unique.
func (in Instruction) Validate() error {
	if !strings.Contains(in.Template, Placeholder) {
		return fmt.Errorf("instruction template must contain the %s placeholder", Placeholder)
	}
	seen := make(map[string]bool, len(in.ResponseFields))
	for _, field := range in.ResponseFields {
		if field == "" {
			return fmt.Errorf("response field names must be non-empty")
		}
		if seen[field] {
			return fmt.Errorf("duplicate response field %q", field)
		}
		seen[field] = true
	}
	return nil
}

// Render substitutes the item name into the instruction template.
func (in Instruction) Render(item string) string {
	return strings.ReplaceAll(in.Template, Placeholder, item)
}

// ResponseFormat returns the flat-JSON shape description sent to the
// worker, e.g. {"county": "string", "official_website": "string"}.
func (in Instruction) ResponseFormat() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, field := range in.ResponseFields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%q: \"string\"", field))
	}
	sb.WriteString("}")
	return sb.String()
}

// Prompt builds the full worker prompt for one item in the fixed
// Item name / Instructions / Response format shape.
func (in Instruction) Prompt(item string) (string, error) {
	template, err := prompts.Get("worker.json", "execute-item")
	if err != nil {
		return "", err
	}
	return prompts.Format(template, map[string]string{
		"Item":           item,
		"Instructions":   in.Render(item),
		"ResponseFormat": in.ResponseFormat(),
	}), nil
}

package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaError indicates the worker's payload did not structurally match
// the declared response fields (missing, extra, or non-string fields).
// It is a per-item failure, never a run-level one.
type SchemaError struct {
	Item   string
	Issues []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response for %q does not match declared fields: %s",
		e.Item, strings.Join(e.Issues, "; "))
}

// buildSchema renders the JSON Schema implied by the declared fields:
// a flat object with exactly those fields, all strings.
func buildSchema(fields []string) (string, error) {
	properties := make(map[string]any, len(fields))
	for _, field := range fields {
		properties[field] = map[string]string{"type": "string"}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             fields,
		"additionalProperties": false,
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to build response schema: %w", err)
	}
	return string(data), nil
}

// ValidatePayload checks raw worker output against the declared response
// fields and decodes it. A structural mismatch returns a *SchemaError.
func ValidatePayload(item string, fields []string, raw string) (map[string]string, error) {
	schemaContent, err := buildSchema(fields)
	if err != nil {
		return nil, err
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		// Not even parseable JSON; still a schema problem from the
		// run's point of view, not a worker transport error.
		return nil, &SchemaError{Item: item, Issues: []string{err.Error()}}
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			issues = append(issues, fmt.Sprintf("%s: %s", field, desc.Description()))
		}
		return nil, &SchemaError{Item: item, Issues: issues}
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &SchemaError{Item: item, Issues: []string{err.Error()}}
	}
	return payload, nil
}

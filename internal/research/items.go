package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/repetition-orchestrator/internal/llm"
)

// ParseItems decodes the extraction model's output. The prompt asks for
// {"items": [...]}, but models sometimes return a bare JSON array; both
// forms are accepted. Blank entries and duplicates are dropped while
// preserving order.
func ParseItems(raw string) ([]string, error) {
	raw = llm.CleanJSONBlock(raw)

	var wrapped struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.Items != nil {
		return dedupe(wrapped.Items), nil
	}

	var bare []string
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		return dedupe(bare), nil
	}

	return nil, fmt.Errorf("failed to parse item list from model output: %s", truncate(raw, 200))
}

func dedupe(items []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		result = append(result, item)
	}
	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

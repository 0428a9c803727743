// Package tasklist defines task lists and their durable CSV-backed store.
// A task list is an ordered collection of items for one repetitive run;
// it is immutable once a run has been confirmed against it.
package tasklist

import (
	"fmt"
	"time"
)

// Source records how a task list came to exist.
type Source string

// Source constants define task list provenance
const (
	// SourceFile means the list was loaded from a tabular file on disk
	SourceFile Source = "file"
	// SourceConstructed means the list was built from an external item source
	SourceConstructed Source = "constructed"
)

// Item is a single unit of repetitive work. Name comes from the first
// column of the backing CSV; any additional columns become metadata.
type Item struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TaskList is an ordered, named sequence of items.
type TaskList struct {
	Name      string    `json:"name"`
	Items     []Item    `json:"items"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Names returns the item names in list order.
func (l *TaskList) Names() []string {
	names := make([]string, len(l.Items))
	for i, item := range l.Items {
		names[i] = item.Name
	}
	return names
}

// Validate checks the task list invariants: a non-empty name, at least
// one item, and no blank item names. A list that fails Validate must not
// reach confirmation or execution.
func (l *TaskList) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("task list has no name")
	}
	if len(l.Items) == 0 {
		return &EmptyListError{Name: l.Name}
	}
	for i, item := range l.Items {
		if item.Name == "" {
			return fmt.Errorf("task list %q has a blank item at position %d", l.Name, i)
		}
	}
	return nil
}

// NewFromNames builds a constructed task list from bare item names,
// skipping blank entries.
func NewFromNames(name string, names []string) *TaskList {
	items := make([]Item, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		items = append(items, Item{Name: n})
	}
	return &TaskList{
		Name:      name,
		Items:     items,
		Source:    SourceConstructed,
		CreatedAt: time.Now().UTC(),
	}
}

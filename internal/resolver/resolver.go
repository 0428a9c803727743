// Package resolver turns a user query into a concrete task list: it looks
// up the store first and, when nothing matches, constructs a new list from
// an external item source and persists it so identical future queries
// resolve without reconstruction.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

// ItemSource supplies item names for a query when no stored list matches.
// research.Researcher is the production implementation.
type ItemSource interface {
	Items(ctx context.Context, query string) ([]string, error)
}

// Resolver resolves queries against a task list store, falling back to an
// item source for construction. A nil source disables construction.
type Resolver struct {
	store   *tasklist.Store
	source  ItemSource
	verbose bool
}

// New creates a resolver over the given store and optional item source.
func New(store *tasklist.Store, source ItemSource, verbose bool) *Resolver {
	return &Resolver{store: store, source: source, verbose: verbose}
}

// Resolve returns the task list for the query. Lookup order:
//  1. exact stored name match on the raw query
//  2. stored name match on the slug of the query
//  3. construction from the item source, persisted under the slug
//
// Returns tasklist.ErrNotFound when nothing matches and no source is
// configured, and an EmptyListError when the resolved list has no items.
func (r *Resolver) Resolve(ctx context.Context, query string) (*tasklist.TaskList, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}

	for _, name := range []string{query, Slug(query)} {
		list, err := r.store.Get(name)
		if err == nil {
			if verr := list.Validate(); verr != nil {
				return nil, verr
			}
			return list, nil
		}
		if !errors.Is(err, tasklist.ErrNotFound) {
			return nil, err
		}
	}

	if r.source == nil {
		return nil, tasklist.ErrNotFound
	}

	if r.verbose {
		fmt.Printf("No stored task list for %q; constructing from external source...\n", query)
	}

	names, err := r.source.Items(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to construct task list for %q: %w", query, err)
	}

	list := tasklist.NewFromNames(Slug(query), names)
	if len(list.Items) == 0 {
		return nil, &tasklist.EmptyListError{Name: list.Name}
	}

	if err := r.store.Save(list); err != nil {
		return nil, fmt.Errorf("failed to persist constructed task list: %w", err)
	}

	return list, nil
}

// Slug derives a stable store name from a free-form query: lowercase,
// runs of non-alphanumerics collapsed to single underscores.
func Slug(query string) string {
	var sb strings.Builder
	lastUnderscore := true // trims leading separators
	for _, r := range strings.ToLower(strings.TrimSpace(query)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				sb.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

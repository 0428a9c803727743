package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

// countingSource records how many times it was asked for items.
type countingSource struct {
	items []string
	err   error
	calls int
}

func (s *countingSource) Items(_ context.Context, _ string) ([]string, error) {
	s.calls++
	return s.items, s.err
}

func newTestStore(t *testing.T) *tasklist.Store {
	t.Helper()
	store, err := tasklist.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestResolve_StoredListSkipsSource(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(tasklist.NewFromNames("maryland_counties", []string{"Allegany", "Baltimore"})))

	source := &countingSource{items: []string{"should", "not", "be", "used"}}
	r := New(store, source, false)

	list, err := r.Resolve(context.Background(), "maryland_counties")
	require.NoError(t, err)
	assert.Equal(t, []string{"Allegany", "Baltimore"}, list.Names())
	assert.Zero(t, source.calls, "stored list must resolve without invoking the external source")
}

func TestResolve_SlugMatchesStoredList(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(tasklist.NewFromNames("maryland_counties", []string{"Allegany"})))

	r := New(store, nil, false)

	list, err := r.Resolve(context.Background(), "Maryland Counties")
	require.NoError(t, err)
	assert.Equal(t, "maryland_counties", list.Name)
}

func TestResolve_ConstructsAndPersists(t *testing.T) {
	store := newTestStore(t)
	source := &countingSource{items: []string{"Allegany", "Anne Arundel", "Baltimore"}}
	r := New(store, source, false)

	list, err := r.Resolve(context.Background(), "Maryland counties")
	require.NoError(t, err)
	assert.Equal(t, "maryland_counties", list.Name)
	assert.Equal(t, tasklist.SourceConstructed, list.Source)
	assert.Equal(t, 1, source.calls)

	// A second resolve hits the store, not the source.
	again, err := r.Resolve(context.Background(), "Maryland counties")
	require.NoError(t, err)
	assert.Equal(t, list.Names(), again.Names())
	assert.Equal(t, 1, source.calls)
}

func TestResolve_EmptyConstruction(t *testing.T) {
	store := newTestStore(t)
	source := &countingSource{items: nil}
	r := New(store, source, false)

	_, err := r.Resolve(context.Background(), "ghost towns of atlantis")
	require.Error(t, err)
	assert.True(t, tasklist.IsEmpty(err))

	// Nothing was persisted.
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestResolve_NotFoundWithoutSource(t *testing.T) {
	r := New(newTestStore(t), nil, false)

	_, err := r.Resolve(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tasklist.ErrNotFound))
}

func TestResolve_SourceError(t *testing.T) {
	source := &countingSource{err: errors.New("search quota exceeded")}
	r := New(newTestStore(t), source, false)

	_, err := r.Resolve(context.Background(), "maryland counties")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search quota exceeded")
}

func TestSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Maryland counties", "maryland_counties"},
		{"  US states!  ", "us_states"},
		{"Top-10 ISPs (2024)", "top_10_isps_2024"},
		{"already_slugged", "already_slugged"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Slug(tt.input), "input: %q", tt.input)
	}
}

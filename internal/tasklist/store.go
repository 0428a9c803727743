package tasklist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store is a directory of task list CSV files. Each list is one file,
// named <name>.csv, with a header row; the first column holds item names
// and any extra columns become item metadata.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("task list directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task list directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the names of all stored task lists, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read task list directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a task list with the given name is stored.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Get loads a stored task list by exact name (case-insensitive on the
// file stem). Returns ErrNotFound when no file matches.
func (s *Store) Get(name string) (*TaskList, error) {
	path := s.path(name)
	if _, err := os.Stat(path); err != nil {
		// Fall back to a case-insensitive scan of the directory.
		match, found := s.findInsensitive(name)
		if !found {
			return nil, ErrNotFound
		}
		path = match
		name = strings.TrimSuffix(filepath.Base(match), filepath.Ext(match))
	}
	return s.load(name, path)
}

// Save persists a task list as a new CSV file. Saving over an existing
// name is refused so a confirmed list can never change underneath a run.
func (s *Store) Save(list *TaskList) error {
	if err := list.Validate(); err != nil {
		return err
	}
	path := s.path(list.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, list.Name)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create task list file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	// Columns: name first, then the union of metadata keys in sorted order.
	metaKeys := collectMetadataKeys(list.Items)
	header := append([]string{"name"}, metaKeys...)

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write task list header: %w", err)
	}
	for _, item := range list.Items {
		row := make([]string, 0, len(header))
		row = append(row, item.Name)
		for _, key := range metaKeys {
			row = append(row, item.Metadata[key])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write task list row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush task list file: %w", err)
	}
	return nil
}

// Path returns the on-disk path for a task list name.
func (s *Store) Path(name string) string {
	return s.path(name)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

func (s *Store) findInsensitive(name string) (string, bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", false
	}
	want := strings.ToLower(name)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if strings.ToLower(stem) == want && strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			return filepath.Join(s.dir, entry.Name()), true
		}
	}
	return "", false
}

func (s *Store) load(name, path string) (*TaskList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "failed to open file", Cause: err}
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows; missing cells become empty metadata

	header, err := r.Read()
	if err == io.EOF {
		return nil, &EmptyListError{Name: name}
	}
	if err != nil {
		return nil, &LoadError{Path: path, Message: "failed to read header", Cause: err}
	}
	if len(header) == 0 {
		return nil, &LoadError{Path: path, Message: "header row has no columns"}
	}

	var items []Item
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Path: path, Message: "failed to read row", Cause: err}
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		item := Item{Name: strings.TrimSpace(record[0])}
		for i := 1; i < len(record) && i < len(header); i++ {
			if record[i] == "" {
				continue
			}
			if item.Metadata == nil {
				item.Metadata = make(map[string]string)
			}
			item.Metadata[header[i]] = record[i]
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, &EmptyListError{Name: name}
	}

	createdAt := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		createdAt = info.ModTime().UTC()
	}

	return &TaskList{
		Name:      name,
		Items:     items,
		Source:    SourceFile,
		CreatedAt: createdAt,
	}, nil
}

// IsNotFound reports whether err indicates a missing task list.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func collectMetadataKeys(items []Item) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, item := range items {
		for key := range item.Metadata {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

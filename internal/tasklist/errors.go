package tasklist

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates no stored task list matches the requested name.
var ErrNotFound = errors.New("task list not found")

// ErrAlreadyExists indicates a save would overwrite a stored task list.
var ErrAlreadyExists = errors.New("task list already exists")

// EmptyListError indicates a resolved task list has zero items. It is
// fatal: an empty list must never reach the confirmation gate.
type EmptyListError struct {
	Name string
}

func (e *EmptyListError) Error() string {
	return fmt.Sprintf("task list %q has no items", e.Name)
}

// LoadError represents an error loading or parsing a task list file.
type LoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load task list %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load task list %s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// IsEmpty reports whether err indicates an empty task list.
func IsEmpty(err error) bool {
	var emptyErr *EmptyListError
	return errors.As(err, &emptyErr)
}

// Package aggregate persists a run's per-item outcomes as a single CSV
// artifact: one row per task-list item, in task-list order.
package aggregate

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/repetition-orchestrator/internal/runner"
)

// Writer finalizes runs into CSV artifacts under a results directory.
type Writer struct {
	dir string
}

// NewWriter creates the results directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("results directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Finalize writes the run's artifact and returns its path. The header is
// the item column, the declared response fields in order, then the status
// column. Every item gets exactly one row whether it succeeded or not;
// failed rows carry empty field values. A prior artifact of the same name
// is replaced, and repeated calls on a settled run produce byte-identical
// output.
func (w *Writer) Finalize(run *runner.Run) (string, error) {
	req := run.Request()
	path := w.Path(req.ArtifactName)

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := make([]string, 0, len(req.Instruction.ResponseFields)+2)
	header = append(header, "item")
	header = append(header, req.Instruction.ResponseFields...)
	header = append(header, "status")
	if err := cw.Write(header); err != nil {
		return "", &runner.ArtifactWriteError{Path: path, Cause: err}
	}

	outcomes := run.Outcomes()
	for i, item := range req.List.Items {
		outcome := outcomes[i]
		row := make([]string, 0, len(header))
		row = append(row, item.Name)
		for _, field := range req.Instruction.ResponseFields {
			row = append(row, outcome.Payload[field])
		}
		row = append(row, string(outcome.Status))
		if err := cw.Write(row); err != nil {
			return "", &runner.ArtifactWriteError{Path: path, Cause: err}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", &runner.ArtifactWriteError{Path: path, Cause: err}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", &runner.ArtifactWriteError{Path: path, Cause: err}
	}
	return path, nil
}

// Path returns where the artifact for the given name lives.
func (w *Writer) Path(name string) string {
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}
	return filepath.Join(w.dir, name)
}

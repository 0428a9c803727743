// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintTaskListSummary outputs the confirmation-gate view of a task list:
// item count plus a short sample.
func (p *Printer) PrintTaskListSummary(list *tasklist.TaskList) {
	if list == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Items:  %d\n", len(list.Items)))
	sb.WriteString(fmt.Sprintf("Source: %s\n\n", list.Source))

	count := min(len(list.Items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", list.Items[i].Name))
	}
	if len(list.Items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(list.Items)-maxItemsToShow))
	}

	p.printBox(fmt.Sprintf("TASK LIST: %s", list.Name), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRunSnapshot outputs the current progress of a run.
func (p *Printer) PrintRunSnapshot(snap runner.Snapshot) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("State:     %s\n", snap.State))
	sb.WriteString(fmt.Sprintf("Progress:  %d/%d done, %d failed, %d remaining\n",
		snap.Completed+snap.Failed, snap.Total, snap.Failed, snap.Remaining))
	if snap.LastItem != "" {
		sb.WriteString(fmt.Sprintf("Last item: %s\n", snap.LastItem))
	}
	sb.WriteString(fmt.Sprintf("Elapsed:   %.1fs", snap.ElapsedSeconds))
	if snap.ArtifactPath != "" {
		sb.WriteString(fmt.Sprintf("\nArtifact:  %s", snap.ArtifactPath))
	}

	p.printBox(fmt.Sprintf("RUN %s", snap.RunID), sb.String())
}

// PrintOutcomes outputs a per-item result summary, failures first.
func (p *Printer) PrintOutcomes(outcomes []runner.ItemOutcome) {
	if len(outcomes) == 0 {
		return
	}

	var failed []runner.ItemOutcome
	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Status == runner.OutcomeFailed {
			failed = append(failed, outcome)
		} else {
			succeeded++
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Succeeded: %d   Failed: %d\n", succeeded, len(failed)))

	if len(failed) > 0 {
		sb.WriteString("\nFailures:\n")
		count := min(len(failed), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s (%s)\n", failed[i].Item, failed[i].Reason))
		}
		if len(failed) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(failed)-maxItemsToShow))
		}
	}

	p.printBox("ITEM OUTCOMES", strings.TrimSuffix(sb.String(), "\n"))
}

package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

func TestPrintTaskListSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	list := tasklist.NewFromNames("maryland_counties", []string{
		"Allegany", "Anne Arundel", "Baltimore", "Calvert", "Caroline", "Carroll", "Cecil",
	})

	p.PrintTaskListSummary(list)
	output := buf.String()

	assert.Contains(t, output, "TASK LIST: maryland_counties")
	assert.Contains(t, output, "Items:  7")
	assert.Contains(t, output, "Allegany")
	assert.Contains(t, output, "Caroline")
	assert.Contains(t, output, "... and 2 more")
	assert.NotContains(t, output, "Cecil")
}

func TestPrintTaskListSummary_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintTaskListSummary(nil)

	assert.Empty(t, buf.String())
}

func TestPrintRunSnapshot(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRunSnapshot(runner.Snapshot{
		State:          runner.StateRunning,
		Total:          10,
		Completed:      4,
		Failed:         1,
		Remaining:      5,
		LastItem:       "Calvert",
		ElapsedSeconds: 12.34,
	})
	output := buf.String()

	assert.Contains(t, output, "running")
	assert.Contains(t, output, "5/10 done")
	assert.Contains(t, output, "1 failed")
	assert.Contains(t, output, "Calvert")
	assert.Contains(t, output, "12.3s")
}

func TestPrintOutcomes(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintOutcomes([]runner.ItemOutcome{
		{Item: "Allegany", Status: runner.OutcomeSuccess},
		{Item: "Anne Arundel", Status: runner.OutcomeFailed, Reason: runner.ReasonWorkerError},
		{Item: "Baltimore", Status: runner.OutcomeSuccess},
	})
	output := buf.String()

	assert.Contains(t, output, "ITEM OUTCOMES")
	assert.Contains(t, output, "Succeeded: 2")
	assert.Contains(t, output, "Failed: 1")
	assert.Contains(t, output, "Anne Arundel (worker_error)")
}

func TestPrintOutcomes_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintOutcomes(nil)

	assert.Empty(t, buf.String())
}

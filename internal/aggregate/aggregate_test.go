package aggregate

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// websiteWorker answers county-website lookups but errors for one county.
type websiteWorker struct {
	failFor string
}

func (w *websiteWorker) Do(_ context.Context, item string, in worker.Instruction) (map[string]string, error) {
	if item == w.failFor {
		return nil, errors.New("lookup failed")
	}
	return map[string]string{
		"county":           item,
		"official_website": "https://" + item + ".example.gov",
	}, nil
}

func countyRun(t *testing.T) *runner.Run {
	t.Helper()
	list := tasklist.NewFromNames("maryland_counties", []string{"Allegany", "Anne Arundel", "Baltimore"})
	run, err := runner.NewRun(runner.RunRequest{
		List: list,
		Instruction: worker.Instruction{
			Template:       "Find the official website for {item_name}",
			ResponseFields: []string{"county", "official_website"},
		},
		ArtifactName: "maryland_county_websites",
	})
	require.NoError(t, err)
	require.NoError(t, run.Submit())
	require.NoError(t, run.Confirm())
	return run
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFinalize_OneRowPerItemWithFailures(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)

	r, err := runner.New(runner.Options{
		Worker:     &websiteWorker{failFor: "Anne Arundel"},
		Gate:       runner.AutoApprove(),
		Aggregator: writer,
	})
	require.NoError(t, err)

	run := countyRun(t)
	require.NoError(t, r.Execute(context.Background(), run))
	assert.Equal(t, runner.StateCompleted, run.State(), "one failed county does not fail the run")

	path := run.ArtifactPath()
	assert.Equal(t, filepath.Join(dir, "maryland_county_websites.csv"), path)

	rows := readCSV(t, path)
	require.Len(t, rows, 4, "header plus one row per county")
	assert.Equal(t, []string{"item", "county", "official_website", "status"}, rows[0])
	assert.Equal(t, []string{"Allegany", "Allegany", "https://Allegany.example.gov", "success"}, rows[1])
	assert.Equal(t, []string{"Anne Arundel", "", "", "failed"}, rows[2])
	assert.Equal(t, []string{"Baltimore", "Baltimore", "https://Baltimore.example.gov", "success"}, rows[3])
}

func TestFinalize_Idempotent(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	r, err := runner.New(runner.Options{
		Worker:     &websiteWorker{},
		Gate:       runner.AutoApprove(),
		Aggregator: writer,
	})
	require.NoError(t, err)

	run := countyRun(t)
	require.NoError(t, r.Execute(context.Background(), run))

	first, err := os.ReadFile(run.ArtifactPath())
	require.NoError(t, err)

	path, err := writer.Finalize(run)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-finalizing a settled run is byte-identical")
}

func TestFinalize_ReplacesPriorArtifact(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)

	path := writer.Path("maryland_county_websites")
	require.NoError(t, os.WriteFile(path, []byte("stale contents\n"), 0o644))

	r, err := runner.New(runner.Options{
		Worker:     &websiteWorker{},
		Gate:       runner.AutoApprove(),
		Aggregator: writer,
	})
	require.NoError(t, err)

	run := countyRun(t)
	require.NoError(t, r.Execute(context.Background(), run))

	rows := readCSV(t, path)
	require.Len(t, rows, 4)
	assert.NotEqual(t, "stale", rows[0][0])
}

func TestFinalize_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	require.NoError(t, err)

	// Make the artifact path unwritable by turning it into a directory.
	require.NoError(t, os.Mkdir(writer.Path("maryland_county_websites"), 0o755))

	run := countyRun(t)
	_, err = writer.Finalize(run)
	require.Error(t, err)

	var writeErr *runner.ArtifactWriteError
	assert.True(t, errors.As(err, &writeErr))
}

func TestPath_AppendsExtension(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".csv", filepath.Ext(writer.Path("results")))
	assert.Equal(t, ".csv", filepath.Ext(writer.Path("results.csv")))
	assert.NotContains(t, writer.Path("results.csv"), ".csv.csv")
}

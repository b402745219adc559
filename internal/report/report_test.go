package report

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// TestRecorder_Save verifies the TSV layout: union header in first-seen
// order, rows sorted by key, and "NA" for absent fields.
func TestRecorder_Save(t *testing.T) {
	rec := NewRecorder("step")
	rec.Record("b", map[string]any{"status": "passed", "duration": "2s"})
	rec.Record("a", map[string]any{"status": "failed", "exitCode": 1})
	require.Equal(t, 2, rec.Len())

	path := filepath.Join(t.TempDir(), "steps.tsv")
	require.NoError(t, rec.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "step\tduration\tstatus\texitCode", lines[0])
	assert.Equal(t, "a\tNA\tfailed\t1", lines[1])
	assert.Equal(t, "b\t2s\tpassed\tNA", lines[2])
}

// TestRecorder_CollapsesWhitespace verifies that multi-line strings fit
// on one row.
func TestRecorder_CollapsesWhitespace(t *testing.T) {
	rec := NewRecorder("step")
	rec.Record("a", map[string]any{"command": "pip install .\n  && pytest --runremote"})

	path := filepath.Join(t.TempDir(), "steps.tsv")
	require.NoError(t, rec.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pip install . && pytest --runremote")
}

// TestRecorder_MergesRows verifies that recording the same key twice
// merges fields and overwrites duplicates.
func TestRecorder_MergesRows(t *testing.T) {
	rec := NewRecorder("step")
	rec.Record("a", map[string]any{"status": "started"})
	rec.Record("a", map[string]any{"status": "passed", "duration": "1s"})
	require.Equal(t, 1, rec.Len())

	path := filepath.Join(t.TempDir(), "steps.tsv")
	require.NoError(t, rec.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "passed")
	assert.NotContains(t, string(data), "started")
}

// TestRecorder_Empty verifies that an empty recorder leaves no file.
func TestRecorder_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.tsv")
	require.NoError(t, NewRecorder("step").Save(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

// TestWriter_Write verifies the full artifact layout of a finished run.
func TestWriter_Write(t *testing.T) {
	res := &model.RunResult{
		ID:        "2026_08_25_10_00_00",
		Repo:      "/work/tortoise",
		Branch:    "main",
		Status:    model.StatusFailed,
		StartedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		Duration:  2 * time.Minute,
		Jobs: []model.JobResult{
			{
				Name:     "python-3.6",
				Status:   model.StatusPassed,
				CacheHit: true,
				Duration: 90 * time.Second,
				Steps: []model.StepResult{
					{Job: "python-3.6", Phase: model.PhaseCacheRestore, Status: model.StatusPassed},
					{Job: "python-3.6", Phase: model.PhaseScript, Command: "pytest --runremote", Status: model.StatusPassed, Duration: 80 * time.Second},
					{Job: "python-3.6", Phase: model.PhaseCacheSave, Status: model.StatusPassed},
				},
			},
			{
				Name:   "python-3.7",
				Status: model.StatusFailed,
				Steps: []model.StepResult{
					{Job: "python-3.7", Phase: model.PhaseScript, Command: "pytest --runremote", Status: model.StatusFailed, ExitCode: 2},
				},
			},
		},
	}
	p := &plan.Plan{Jobs: []*plan.Job{
		{Name: "python-3.6"},
		{Name: "python-3.7", Needs: []string{"python-3.6"}},
	}}

	runsDir := t.TempDir()
	w, err := NewWriter(runsDir, res.ID)
	require.NoError(t, err)
	require.NoError(t, w.Write(p, res))

	data, err := os.ReadFile(filepath.Join(w.Dir(), "summary.json"))
	require.NoError(t, err)
	var got model.RunResult
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.Len(t, got.Jobs, 2)
	assert.True(t, got.Jobs[0].CacheHit)

	tsv, err := os.ReadFile(filepath.Join(w.Dir(), "steps.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(tsv), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "step\t"))
	assert.Contains(t, lines[1], "python-3.6/00")
	assert.Contains(t, string(tsv), "pytest --runremote")
	assert.Contains(t, string(tsv), "NA")

	dot, err := os.ReadFile(filepath.Join(w.Dir(), "graph.dot"))
	require.NoError(t, err)
	lower := strings.ToLower(string(dot))
	assert.Contains(t, lower, "strict digraph")
	assert.Contains(t, lower, "#2ea043")
	assert.Contains(t, lower, "#da3633")
	assert.Contains(t, lower, `"python-3.6" -> "python-3.7";`)

	target, err := os.Readlink(filepath.Join(runsDir, "latest"))
	require.NoError(t, err)
	assert.Equal(t, res.ID, target)
}

// TestWriter_JobLog verifies that job logs land under logs/.
func TestWriter_JobLog(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "2026_08_25_10_00_00")
	require.NoError(t, err)

	log, err := w.JobLog("python-3.6")
	require.NoError(t, err)
	_, err = io.WriteString(log, "collecting tests\n")
	require.NoError(t, err)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(filepath.Join(w.Dir(), "logs", "python-3.6.log"))
	require.NoError(t, err)
	assert.Equal(t, "collecting tests\n", string(data))
}

// TestDefaultDir verifies the artifact location under the work tree.
func TestDefaultDir(t *testing.T) {
	assert.Equal(t, filepath.Join("work", ".stagehand", "runs"), DefaultDir("work"))
}

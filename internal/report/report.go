package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// DefaultDir returns the run artifact root under the given work tree.
func DefaultDir(workdir string) string {
	return filepath.Join(workdir, ".stagehand", "runs")
}

// Writer lays out the artifact directory of a single run.
type Writer struct {
	dir string
}

// NewWriter creates the artifact directory for runID under runsDir and
// repoints the "latest" symlink at it.
func NewWriter(runsDir, runID string) (*Writer, error) {
	dir := filepath.Join(runsDir, runID)
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, errors.WithMessage(err, "could not create report directory")
	}

	// Best effort: the symlink is a convenience, not an artifact.
	latest := filepath.Join(runsDir, "latest")
	_ = os.Remove(latest)
	_ = os.Symlink(runID, latest)

	return &Writer{dir: dir}, nil
}

// Dir returns the run's artifact directory.
func (w *Writer) Dir() string {
	return w.dir
}

// JobLog opens the log file capturing one job's combined stdout and
// stderr. The caller owns the returned handle.
func (w *Writer) JobLog(job string) (io.WriteCloser, error) {
	path := filepath.Join(w.dir, "logs", job+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path is derived from a validated job name
	if err != nil {
		return nil, errors.WithMessage(err, "could not open job log")
	}
	return f, nil
}

// WriteSummary persists the full run result as summary.json.
func (w *Writer) WriteSummary(res *model.RunResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(w.dir, "summary.json"), data, 0o644); err != nil {
		return errors.WithMessage(err, "could not write run summary")
	}
	return nil
}

// WriteSteps persists the per-step table as steps.tsv. Rows are keyed
// by job name and position, so they sort per job in execution order.
func (w *Writer) WriteSteps(res *model.RunResult) error {
	rec := NewRecorder("step")
	for _, job := range res.Jobs {
		for i, step := range job.Steps {
			values := map[string]any{
				"phase":  step.Phase.String(),
				"status": step.Status.String(),
			}
			if step.Name != "" {
				values["name"] = step.Name
			}
			if step.Command != "" {
				values["command"] = step.Command
			}
			if step.ExitCode != 0 {
				values["exitCode"] = step.ExitCode
			}
			if step.SkipReason != "" {
				values["skipReason"] = step.SkipReason
			}
			if step.Duration > 0 {
				values["duration"] = step.Duration.String()
			}
			if step.OutputBytes > 0 {
				values["outputBytes"] = step.OutputBytes
			}
			rec.Record(fmt.Sprintf("%s/%02d", job.Name, i), values)
		}
	}
	return rec.Save(filepath.Join(w.dir, "steps.tsv"))
}

// WriteGraph renders the job dependency graph as graph.dot, with nodes
// colored by outcome and annotated with job durations.
func (w *Writer) WriteGraph(p *plan.Plan, res *model.RunResult) error {
	d, err := plan.NewDrawerFromPlan(p)
	if err != nil {
		return err
	}
	for _, job := range res.Jobs {
		if job.Status != "" {
			if err := d.SetStatus(job.Name, job.Status); err != nil {
				return err
			}
		}
		if job.Duration > 0 {
			if err := d.SetDuration(job.Name, job.Duration); err != nil {
				return err
			}
		}
	}

	out, err := os.Create(filepath.Join(w.dir, "graph.dot"))
	if err != nil {
		return errors.WithMessage(err, "could not write run graph")
	}
	if err := d.Draw(out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Write persists every artifact of a finished run.
func (w *Writer) Write(p *plan.Plan, res *model.RunResult) error {
	if err := w.WriteSummary(res); err != nil {
		return err
	}
	if err := w.WriteSteps(res); err != nil {
		return err
	}
	return w.WriteGraph(p, res)
}

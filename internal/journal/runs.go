package journal

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// RunRecord is the folded view of one run's events, the unit `stagehand
// history` displays.
type RunRecord struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Repo      string        `json:"repo,omitempty"`
	Branch    string        `json:"branch,omitempty"`
	Commit    string        `json:"commit,omitempty"`
	Status    model.Status  `json:"status,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	// Planned is the number of jobs the run set out to execute; the
	// count maps tally how they ended. A run that died mid-flight has
	// an empty Status and incomplete counts.
	Planned int `json:"planned"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Runs folds the journal into one record per run, oldest first.
func (j *Journal) Runs() ([]RunRecord, error) {
	it, err := j.Iterator()
	if err != nil {
		return nil, err
	}

	var order []string
	byID := make(map[string]*RunRecord)

	for {
		ev, err := it.LoadNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		rec := byID[ev.RunID]
		if rec == nil {
			rec = &RunRecord{ID: ev.RunID}
			byID[ev.RunID] = rec
			order = append(order, ev.RunID)
		}

		switch ev.Type {
		case model.EventRunStarted:
			rec.StartedAt = ev.Time
			rec.Repo = ev.Repo
			rec.Branch = ev.Branch
			rec.Commit = ev.Commit
			rec.Planned = len(ev.Jobs)
		case model.EventJobFinished:
			switch ev.Status {
			case model.StatusPassed:
				rec.Passed++
			case model.StatusFailed, model.StatusErrored:
				rec.Failed++
			case model.StatusSkipped, model.StatusCanceled:
				rec.Skipped++
			}
		case model.EventRunFinished:
			rec.Status = ev.Status
			rec.Duration = ev.Duration
		}
	}

	records := make([]RunRecord, 0, len(order))
	for _, id := range order {
		records = append(records, *byID[id])
	}
	return records, nil
}

// Prune drops all but the most recent keepRuns runs from the front of
// the log. It returns how many runs were removed.
func (j *Journal) Prune(keepRuns int) (int, error) {
	if keepRuns < 1 {
		keepRuns = 1
	}

	it, err := j.Iterator()
	if err != nil {
		return 0, err
	}

	// Collect the journal index of each run.started marker.
	var starts []uint64
	for {
		idx := it.currentIndex
		ev, err := it.LoadNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		if ev.Type == model.EventRunStarted {
			starts = append(starts, idx)
		}
	}

	if len(starts) <= keepRuns {
		return 0, nil
	}

	cut := starts[len(starts)-keepRuns]
	if err := j.log.TruncateFront(cut); err != nil {
		return 0, errors.WithMessage(err, "could not truncate journal")
	}
	return len(starts) - keepRuns, nil
}

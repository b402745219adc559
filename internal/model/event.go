package model

import "time"

// EventType identifies one observable moment of a run. Events flow to
// every configured sink: the journal, the log, GitHub statuses, and the
// socket.io stream.
type EventType string

const (
	// EventRunStarted is emitted once, after planning, before any job.
	EventRunStarted EventType = "run.started"

	// EventJobStarted is emitted when a job's session is about to start.
	EventJobStarted EventType = "job.started"

	// EventStepFinished is emitted per step, including cache phases and
	// skipped steps.
	EventStepFinished EventType = "step.finished"

	// EventJobFinished is emitted with the job's final result.
	EventJobFinished EventType = "job.finished"

	// EventRunFinished is emitted once with the merged run status.
	EventRunFinished EventType = "run.finished"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks whether the event type is one of the defined constants.
func (t EventType) IsValid() bool {
	switch t {
	case EventRunStarted, EventJobStarted, EventStepFinished, EventJobFinished, EventRunFinished:
		return true
	default:
		return false
	}
}

// Event is the journal record and notification payload. Fields beyond
// Type, Time, and RunID are populated according to the type.
type Event struct {
	Type  EventType `json:"type"`
	Time  time.Time `json:"time"`
	RunID string    `json:"runId"`

	// Job names the job for job.* and step.finished events.
	Job string `json:"job,omitempty"`

	// Jobs lists the planned job names on run.started.
	Jobs []string `json:"jobs,omitempty"`

	// Repo, Branch, and Commit carry the detected repository state on
	// run.started.
	Repo   string `json:"repo,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`

	// Status is the final status on job.finished and run.finished.
	Status Status `json:"status,omitempty"`

	// Reason explains skipped and errored jobs.
	Reason string `json:"reason,omitempty"`

	// CacheHit reports whether job.finished restored anything.
	CacheHit bool `json:"cacheHit,omitempty"`

	// Duration is the wall-clock time of the finished job or run.
	Duration time.Duration `json:"duration,omitempty"`

	// Step carries the full result on step.finished.
	Step *StepResult `json:"step,omitempty"`
}

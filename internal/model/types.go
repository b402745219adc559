// Package model defines the domain types for the stagehand CLI.
//
// All entities in this package represent the run/job/step hierarchy that the
// engine produces and the reporting layers consume. The types are plain data:
// they are written to the build journal as JSON and rendered by the CLI, so
// every field carries a JSON tag and no field holds live resources.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Phase identifies one stage in a job's lifecycle. Every job walks the same
// fixed sequence:
//
//	cache.restore → before_install → install → script → cache.save
//
// The middle three are command phases: their steps come from the
// configuration file and execute inside the job's single shell session.
// The cache phases are performed by the runner itself.
type Phase string

const (
	// PhaseCacheRestore unpacks previously saved cache directories before
	// any configured command runs.
	PhaseCacheRestore Phase = "cache.restore"

	// PhaseBeforeInstall runs the bootstrap commands, typically guarded so
	// that a cache hit makes them a no-op.
	PhaseBeforeInstall Phase = "before_install"

	// PhaseInstall materializes and activates the build environment.
	PhaseInstall Phase = "install"

	// PhaseScript runs the build and test commands.
	PhaseScript Phase = "script"

	// PhaseCacheSave repacks the declared cache directories after a
	// passing script phase.
	PhaseCacheSave Phase = "cache.save"
)

// PhaseOrder returns the canonical execution order of all phases.
// The returned slice is a fresh copy; callers may modify it.
func PhaseOrder() []Phase {
	return []Phase{PhaseCacheRestore, PhaseBeforeInstall, PhaseInstall, PhaseScript, PhaseCacheSave}
}

// CommandPhases returns, in execution order, the phases whose steps are
// read from the configuration file.
func CommandPhases() []Phase {
	return []Phase{PhaseBeforeInstall, PhaseInstall, PhaseScript}
}

// String returns the string representation of the Phase.
// This method satisfies the fmt.Stringer interface, enabling
// human-readable output in CLI commands and journal records.
func (p Phase) String() string {
	return string(p)
}

// IsValid checks whether the Phase value is one of the defined phases.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseCacheRestore, PhaseBeforeInstall, PhaseInstall, PhaseScript, PhaseCacheSave:
		return true
	default:
		return false
	}
}

// IsCommand reports whether the phase executes configured shell commands
// (as opposed to the runner-internal cache phases).
func (p Phase) IsCommand() bool {
	return p == PhaseBeforeInstall || p == PhaseInstall || p == PhaseScript
}

// ParsePhase converts a string to a Phase.
// Returns an error if the string does not match any defined phase.
func ParsePhase(s string) (Phase, error) {
	phase := Phase(strings.ToLower(s))
	if !phase.IsValid() {
		return "", fmt.Errorf("invalid phase: %q (valid: cache.restore, before_install, install, script, cache.save)", s)
	}
	return phase, nil
}

// Status represents the outcome of a step, a job, or a whole run.
//
// failed is reserved for configured commands exiting nonzero; errored means
// the runner's own machinery broke (cache restore, executor start) before or
// around the commands. The distinction keeps infrastructure problems from
// masquerading as build failures.
type Status string

const (
	// StatusPassed indicates every executed step exited zero.
	StatusPassed Status = "passed"

	// StatusFailed indicates a configured command exited nonzero.
	StatusFailed Status = "failed"

	// StatusErrored indicates an infrastructure failure outside the
	// configured commands.
	StatusErrored Status = "errored"

	// StatusSkipped indicates the unit never ran: a false condition, a
	// satisfied creates: guard, a failed dependency, or an earlier failing
	// step in the same job.
	StatusSkipped Status = "skipped"

	// StatusCanceled indicates the run was interrupted (signal or context
	// cancellation) before the unit finished.
	StatusCanceled Status = "canceled"
)

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the Status value is one of the defined states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped, StatusCanceled:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string to a Status.
// Returns an error if the string does not match any defined status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status: %q (valid: passed, failed, errored, skipped, canceled)", s)
	}
	return status, nil
}

// statusSeverity orders statuses for aggregation. Higher wins when merging.
// Skipped units never degrade an aggregate, so they rank with passed.
var statusSeverity = map[Status]int{
	StatusPassed:   0,
	StatusSkipped:  0,
	StatusCanceled: 1,
	StatusFailed:   2,
	StatusErrored:  3,
}

// MergeStatus combines two statuses into the aggregate outcome, keeping the
// more severe of the two. A run is failed as soon as any job is failed, and
// errored outranks failed: if the runner broke, the build verdict is
// unreliable.
func MergeStatus(a, b Status) Status {
	if statusSeverity[b] > severityOf(a) {
		return b
	}
	return a
}

func severityOf(s Status) int {
	return statusSeverity[s]
}

// StepResult records the outcome of a single step within a phase.
type StepResult struct {
	// Job is the name of the job the step belongs to.
	Job string `json:"job"`

	// Phase is the lifecycle phase that contained the step.
	Phase Phase `json:"phase"`

	// Index is the zero-based position of the step within its job,
	// counted across all command phases.
	Index int `json:"index"`

	// Name is the optional human-readable step name from the mapping form
	// of the configuration. Empty for plain string steps.
	Name string `json:"name,omitempty"`

	// Command is the shell command text, verbatim from the configuration.
	Command string `json:"command"`

	// Status is the step outcome.
	Status Status `json:"status"`

	// ExitCode is the shell exit code. Zero for passed and skipped steps.
	ExitCode int `json:"exitCode"`

	// SkipReason explains a skipped step: "creates target exists",
	// "condition false", or "previous step failed".
	SkipReason string `json:"skipReason,omitempty"`

	// StartedAt is when the step began executing. Zero for steps that
	// never ran.
	StartedAt time.Time `json:"startedAt,omitempty"`

	// Duration is the step's wall-clock time.
	Duration time.Duration `json:"duration,omitempty"`

	// OutputBytes counts the combined stdout/stderr bytes the step produced.
	OutputBytes int64 `json:"outputBytes,omitempty"`
}

// JobResult aggregates the step results of one job.
type JobResult struct {
	// Name is the unique job name (e.g. "python-3.6" for matrix jobs).
	Name string `json:"name"`

	// RuntimeVersion is the matrix entry the job was expanded from,
	// empty for jobs without a runtime pin.
	RuntimeVersion string `json:"runtimeVersion,omitempty"`

	// Status is the job outcome.
	Status Status `json:"status"`

	// Reason carries detail for skipped/errored jobs (failed dependency,
	// false condition, infrastructure error text).
	Reason string `json:"reason,omitempty"`

	// CacheHit reports whether the cache restore phase found at least one
	// archive for the job's declared directories.
	CacheHit bool `json:"cacheHit"`

	// Steps holds the per-step results in execution order.
	Steps []StepResult `json:"steps,omitempty"`

	// StartedAt is when the job began.
	StartedAt time.Time `json:"startedAt,omitempty"`

	// Duration is the job's wall-clock time.
	Duration time.Duration `json:"duration,omitempty"`
}

// Failed reports whether the job ended in a failed or errored state.
func (j *JobResult) Failed() bool {
	return j.Status == StatusFailed || j.Status == StatusErrored
}

// RunResult is the aggregate outcome of one invocation of `stagehand run`.
type RunResult struct {
	// ID is the sortable run identifier (instant format, e.g.
	// "2026_01_31_14_05_07").
	ID string `json:"id"`

	// Repo is the repository root the run executed in.
	Repo string `json:"repo"`

	// Branch, Commit, and Tag snapshot the git state at run start.
	// Empty outside a git repository.
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Tag    string `json:"tag,omitempty"`

	// Status is the merged outcome of all jobs.
	Status Status `json:"status"`

	// Jobs holds the per-job results in scheduling order.
	Jobs []JobResult `json:"jobs"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`

	// Duration is the run's wall-clock time.
	Duration time.Duration `json:"duration"`
}

// Merge folds a job outcome into the run status.
func (r *RunResult) Merge(j JobResult) {
	if r.Status == "" {
		r.Status = StatusPassed
	}
	r.Status = MergeStatus(r.Status, j.Status)
}

// jobNameRegex validates job names: alphanumeric, hyphens, dots and
// underscores, starting and ending with an alphanumeric character.
// Matrix jobs are named "python-<version>", so dots must be allowed.
var jobNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

// ValidateJobName checks if the given name is a valid job name.
// Job names appear in file paths (report directories, cache keys) and in
// Docker labels, so the character set is deliberately narrow.
func ValidateJobName(name string) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if !jobNameRegex.MatchString(name) {
		return fmt.Errorf("invalid job name %q: must contain only alphanumerics, hyphens, dots and underscores, and start/end with an alphanumeric", name)
	}
	return nil
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// outer automation to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed and, for `run`, every
	// scheduled job passed.
	ExitSuccess ExitCode = 0

	// ExitBuildFailed indicates at least one configured command exited
	// nonzero.
	ExitBuildFailed ExitCode = 1

	// ExitUsageError indicates invalid flags or arguments.
	ExitUsageError ExitCode = 2

	// ExitConfigError indicates the configuration file is missing, does
	// not parse, or fails validation.
	ExitConfigError ExitCode = 3

	// ExitGitError indicates a git query failed when one was required
	// (e.g. commit status notification without a resolvable commit).
	ExitGitError ExitCode = 4

	// ExitDockerError indicates the Docker daemon is not accessible or a
	// container operation failed.
	ExitDockerError ExitCode = 5

	// ExitCacheError indicates cache save/restore or the cache index failed.
	ExitCacheError ExitCode = 6

	// ExitJournalError indicates the build journal could not be opened,
	// written, or replayed.
	ExitJournalError ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

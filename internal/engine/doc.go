// Package engine schedules and executes a build plan.
//
// Jobs run concurrently up to a configured limit, gated on their
// dependencies: a job starts only after everything it needs has
// passed. Each job gets its declared cache directories restored, one
// shell session for all of its steps, and a cache save after a pass.
// Every observable moment is emitted as an event to the journal and
// the configured notifiers.
//
// The engine treats job failures as results, not errors: a red build
// returns a RunResult with status failed and a nil error. Errors are
// reserved for the runner's own machinery breaking.
package engine

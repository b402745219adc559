// Package report persists the artifacts of a finished run: a JSON
// summary, a per-step TSV table, a DOT rendering of the job graph
// colored by outcome, and the captured job logs.
//
// Artifacts live under .stagehand/runs/<run-id>/ inside the work tree.
// Run identifiers sort chronologically, so a plain directory listing
// doubles as the run history.
package report

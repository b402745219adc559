// Package model defines the domain types and value objects for the
// stagehand CLI.
//
// This package contains pure data structures with no external dependencies.
// The entities (Phase, Status, StepResult, JobResult, RunResult) describe a
// single build run: jobs expanded from the version matrix, the fixed phase
// sequence each job walks through, and the per-step outcomes parsed back
// from the shell session.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model

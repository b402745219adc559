// Package cli — run_test.go contains unit tests for the pure formatting
// functions used by the run command's result table.
//
// These tests verify data transformation logic without running any
// shell session.
package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// TestFormatDuration verifies the table rendering of durations: dash
// for zero, milliseconds below a second, tenths above.
func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{
			name: "zero renders as dash",
			d:    0,
			want: "-",
		},
		{
			name: "sub-second keeps milliseconds",
			d:    417 * time.Millisecond,
			want: "417ms",
		},
		{
			name: "seconds round to tenths",
			d:    42*time.Second + 360*time.Millisecond,
			want: "42.4s",
		},
		{
			name: "minutes round to tenths",
			d:    3*time.Minute + 7*time.Second + 49*time.Millisecond,
			want: "3m7s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

// TestCacheCell verifies the cache column: hit/miss only for jobs that
// went through a cache restore, dash otherwise.
func TestCacheCell(t *testing.T) {
	tests := []struct {
		name string
		jr   model.JobResult
		want string
	}{
		{
			name: "no cache steps",
			jr: model.JobResult{Steps: []model.StepResult{
				{Phase: model.PhaseScript, Status: model.StatusPassed},
			}},
			want: "-",
		},
		{
			name: "restore with hit",
			jr: model.JobResult{CacheHit: true, Steps: []model.StepResult{
				{Phase: model.PhaseCacheRestore, Status: model.StatusPassed},
				{Phase: model.PhaseScript, Status: model.StatusPassed},
			}},
			want: "hit",
		},
		{
			name: "restore with miss",
			jr: model.JobResult{Steps: []model.StepResult{
				{Phase: model.PhaseCacheRestore, Status: model.StatusPassed},
				{Phase: model.PhaseScript, Status: model.StatusPassed},
			}},
			want: "miss",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cacheCell(tt.jr))
		})
	}
}

// TestBuildExecutor verifies the --executor flag mapping, including the
// usage error for unknown values.
func TestBuildExecutor(t *testing.T) {
	exec, err := buildExecutor(&runFlags{executor: "local"}, "/src")
	assert.NoError(t, err)
	assert.Equal(t, "local", exec.Name())

	_, err = buildExecutor(&runFlags{executor: "podman"}, "/src")
	var cliErr *model.CLIError
	assert.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitUsageError, cliErr.Code)
}

package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/stagehand/internal/ctxlog"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// fakeNotifier records delivered events and optionally fails.
type fakeNotifier struct {
	events []model.Event
	err    error
	closed bool
}

func (f *fakeNotifier) Notify(_ context.Context, ev model.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeNotifier) Close() error {
	f.closed = true
	return f.err
}

// TestMulti_FanOut verifies that one failing sink neither stops delivery
// to the others nor hides its error.
func TestMulti_FanOut(t *testing.T) {
	healthy := &fakeNotifier{}
	broken := &fakeNotifier{err: errors.New("sink down")}
	m := NewMulti(broken, healthy, nil)

	ev := model.Event{Type: model.EventRunStarted, RunID: "run-1"}
	err := m.Notify(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")

	require.Len(t, healthy.events, 1)
	require.Len(t, broken.events, 1)
	assert.Equal(t, "run-1", healthy.events[0].RunID)

	err = m.Close()
	require.Error(t, err)
	assert.True(t, healthy.closed)
	assert.True(t, broken.closed)
}

// TestMulti_AllHealthy verifies the no-error path.
func TestMulti_AllHealthy(t *testing.T) {
	a, b := &fakeNotifier{}, &fakeNotifier{}
	m := NewMulti(a, b)

	require.NoError(t, m.Notify(context.Background(), model.Event{Type: model.EventJobStarted, Job: "build"}))
	require.NoError(t, m.Close())
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

// TestLogNotifier verifies the level and content of the mirrored log
// lines.
func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(ctxlog.New("debug", "text", &buf))
	ctx := context.Background()

	events := []model.Event{
		{Type: model.EventRunStarted, RunID: "run-1", Jobs: []string{"a", "b"}, Branch: "main", Commit: "0123456789abcdef"},
		{Type: model.EventJobStarted, RunID: "run-1", Job: "a"},
		{Type: model.EventStepFinished, RunID: "run-1", Job: "a", Step: &model.StepResult{
			Phase: model.PhaseScript, Command: "pytest --runremote", Status: model.StatusFailed, ExitCode: 1,
		}},
		{Type: model.EventJobFinished, RunID: "run-1", Job: "a", Status: model.StatusFailed, Duration: time.Second},
		{Type: model.EventRunFinished, RunID: "run-1", Status: model.StatusFailed, Duration: 2 * time.Second},
	}
	for _, ev := range events {
		require.NoError(t, n.Notify(ctx, ev))
	}
	require.NoError(t, n.Close())

	out := buf.String()
	assert.Contains(t, out, "run started")
	assert.Contains(t, out, "commit=0123456")
	assert.Contains(t, out, "job started")
	assert.Contains(t, out, "step finished")
	assert.Contains(t, out, "pytest --runremote")
	assert.Contains(t, out, "run finished")

	// Failures surface at warn level.
	var warns int
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "WARN") {
			warns++
		}
	}
	assert.Equal(t, 3, warns)
}

// TestStatusForEvent verifies the mapping from lifecycle events to
// GitHub commit statuses.
func TestStatusForEvent(t *testing.T) {
	tests := []struct {
		name        string
		event       model.Event
		wantState   string
		wantContext string
		wantDesc    string
	}{
		{
			name:        "run started",
			event:       model.Event{Type: model.EventRunStarted, RunID: "2026_08_25_10_00_00", Jobs: []string{"a", "b"}},
			wantState:   "pending",
			wantContext: "stagehand",
			wantDesc:    "run 2026_08_25_10_00_00 started (2 jobs)",
		},
		{
			name:        "job passed",
			event:       model.Event{Type: model.EventJobFinished, Job: "python-3.6", Status: model.StatusPassed, Duration: 90 * time.Second},
			wantState:   "success",
			wantContext: "stagehand/python-3.6",
			wantDesc:    "passed in 1m30s",
		},
		{
			name:        "job skipped with reason",
			event:       model.Event{Type: model.EventJobFinished, Job: "deploy", Status: model.StatusSkipped, Reason: `dependency "build" failed`},
			wantState:   "success",
			wantContext: "stagehand/deploy",
			wantDesc:    `skipped: dependency "build" failed`,
		},
		{
			name:        "run failed",
			event:       model.Event{Type: model.EventRunFinished, Status: model.StatusFailed, Duration: 2 * time.Minute},
			wantState:   "failure",
			wantContext: "stagehand",
			wantDesc:    "failed in 2m0s",
		},
		{
			name:        "run errored",
			event:       model.Event{Type: model.EventRunFinished, Status: model.StatusErrored},
			wantState:   "error",
			wantContext: "stagehand",
			wantDesc:    "errored",
		},
		{
			name:        "run canceled",
			event:       model.Event{Type: model.EventRunFinished, Status: model.StatusCanceled, Duration: time.Second},
			wantState:   "error",
			wantContext: "stagehand",
			wantDesc:    "canceled in 1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := statusForEvent(tt.event)
			require.NotNil(t, status)
			assert.Equal(t, tt.wantState, status.GetState())
			assert.Equal(t, tt.wantContext, status.GetContext())
			assert.Equal(t, tt.wantDesc, status.GetDescription())
		})
	}
}

// TestStatusForEvent_Ignored verifies that step and job start events do
// not touch the commit status.
func TestStatusForEvent_Ignored(t *testing.T) {
	assert.Nil(t, statusForEvent(model.Event{Type: model.EventJobStarted}))
	assert.Nil(t, statusForEvent(model.Event{Type: model.EventStepFinished}))
}

// TestDescribe_Truncates verifies the 140-character description cap.
func TestDescribe_Truncates(t *testing.T) {
	desc := describe(model.Event{
		Type:   model.EventJobFinished,
		Status: model.StatusSkipped,
		Reason: strings.Repeat("x", 200),
	})
	assert.Len(t, desc, 140)
	assert.True(t, strings.HasSuffix(desc, "..."))
}

// TestNewGitHubNotifier verifies the preconditions for posting statuses.
func TestNewGitHubNotifier(t *testing.T) {
	t.Setenv(TokenEnv, "")
	full := gitinfo.Info{
		Owner:  "offbeat",
		Repo:   "tortoise",
		Commit: "0123456789abcdef0123456789abcdef01234567",
	}

	_, err := NewGitHubNotifier("", full)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitUsageError, cliErr.Code)
	assert.Contains(t, cliErr.Message, TokenEnv)

	_, err = NewGitHubNotifier("tok", gitinfo.Info{Commit: full.Commit})
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitGitError, cliErr.Code)

	n, err := NewGitHubNotifier("tok", full)
	require.NoError(t, err)
	assert.Equal(t, "offbeat", n.owner)
	assert.Equal(t, "tortoise", n.repo)

	// The env fallback also works.
	t.Setenv(TokenEnv, "from-env")
	_, err = NewGitHubNotifier("", full)
	require.NoError(t, err)
}

// TestNewStreamNotifier_BadURL verifies URL validation.
func TestNewStreamNotifier_BadURL(t *testing.T) {
	logger := ctxlog.New("error", "text", &bytes.Buffer{})

	_, err := NewStreamNotifier(logger, "not-a-url")
	require.Error(t, err)

	_, err = NewStreamNotifier(logger, "http://")
	require.Error(t, err)
}

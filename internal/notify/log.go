package notify

import (
	"context"
	"log/slog"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// LogNotifier mirrors lifecycle events into the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier writing to the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event. Failed and errored outcomes log at warn so
// they stand out at the default level; per-step detail stays at debug.
func (n *LogNotifier) Notify(_ context.Context, ev model.Event) error {
	switch ev.Type {
	case model.EventRunStarted:
		n.logger.Info("run started",
			"run", ev.RunID, "jobs", len(ev.Jobs), "branch", ev.Branch, "commit", shortCommit(ev.Commit))
	case model.EventJobStarted:
		n.logger.Info("job started", "run", ev.RunID, "job", ev.Job)
	case model.EventStepFinished:
		if ev.Step == nil {
			return nil
		}
		logFn := n.logger.Debug
		if ev.Step.Status == model.StatusFailed || ev.Step.Status == model.StatusErrored {
			logFn = n.logger.Warn
		}
		logFn("step finished",
			"job", ev.Job, "phase", ev.Step.Phase.String(), "command", ev.Step.Command,
			"status", ev.Step.Status.String(), "exitCode", ev.Step.ExitCode)
	case model.EventJobFinished:
		logFn := n.logger.Info
		if ev.Status == model.StatusFailed || ev.Status == model.StatusErrored {
			logFn = n.logger.Warn
		}
		args := []any{"run", ev.RunID, "job", ev.Job, "status", ev.Status.String(),
			"cacheHit", ev.CacheHit, "duration", ev.Duration.String()}
		if ev.Reason != "" {
			args = append(args, "reason", ev.Reason)
		}
		logFn("job finished", args...)
	case model.EventRunFinished:
		logFn := n.logger.Info
		if ev.Status == model.StatusFailed || ev.Status == model.StatusErrored {
			logFn = n.logger.Warn
		}
		logFn("run finished", "run", ev.RunID, "status", ev.Status.String(), "duration", ev.Duration.String())
	}
	return nil
}

// Close is a no-op; the logger outlives the notifier.
func (n *LogNotifier) Close() error {
	return nil
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

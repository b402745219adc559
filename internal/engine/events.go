package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmr-tortoise/stagehand/internal/journal"
	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/notify"
)

// emitter serializes event delivery so the journal and the notifiers
// see a single ordered stream even with jobs running in parallel.
type emitter struct {
	mu      sync.Mutex
	runID   string
	journal *journal.Journal
	sink    notify.Notifier
	logger  *slog.Logger
}

func newEmitter(runID string, j *journal.Journal, sink notify.Notifier, logger *slog.Logger) *emitter {
	return &emitter{runID: runID, journal: j, sink: sink, logger: logger}
}

// send stamps and delivers one event. Delivery trouble is logged, never
// fatal: losing a notification must not fail a build.
func (e *emitter) send(ctx context.Context, ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev.RunID = e.runID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	if e.journal != nil {
		if err := e.journal.Append(ev); err != nil {
			e.logger.Warn("could not append to journal", "type", ev.Type.String(), "error", err)
		}
	}
	if e.sink != nil {
		if err := e.sink.Notify(ctx, ev); err != nil {
			e.logger.Warn("could not deliver notification", "type", ev.Type.String(), "error", err)
		}
	}
}

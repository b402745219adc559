package notify

import (
	"context"
	"errors"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// Notifier receives run lifecycle events. The engine serializes event
// delivery, so implementations do not need their own locking.
type Notifier interface {
	// Notify delivers one event.
	Notify(ctx context.Context, ev model.Event) error

	// Close flushes and releases the sink.
	Close() error
}

// Multi fans out every event to all wrapped notifiers. A failing sink
// does not stop delivery to the others.
type Multi struct {
	notifiers []Notifier
}

// NewMulti combines notifiers into one. Nil entries are dropped.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers the event to every sink and returns the combined
// delivery errors, if any.
func (m *Multi) Notify(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and returns the combined errors, if any.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

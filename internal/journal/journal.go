// Package journal is the append-only record of every run, backed by a
// write-ahead log. `stagehand history` and the stagecat inspector read
// it back; the engine appends to it as events happen, so even a run that
// dies mid-job leaves its trail.
package journal

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// DefaultDir returns the journal location for a working directory.
func DefaultDir(workdir string) string {
	return filepath.Join(workdir, ".stagehand", "journal")
}

// Journal is an append-only event log.
type Journal struct {
	log       *wal.Log
	nextIndex uint64
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	log, err := wal.Open(path, &wal.Options{
		NoSync: true,
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open journal")
	}

	lastIndex, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, errors.WithMessage(err, "could not read journal last index")
	}

	// The log indexes entries from 1; an empty log reports 0.
	return &Journal{log: log, nextIndex: lastIndex + 1}, nil
}

// Append records one event.
func (j *Journal) Append(ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WithMessage(err, "could not encode event")
	}
	if err := j.log.Write(j.nextIndex, data); err != nil {
		return errors.WithMessagef(err, "could not write journal index %d", j.nextIndex)
	}
	j.nextIndex++
	return nil
}

// Sync flushes the log to the filesystem. The engine calls it at run
// boundaries; Append itself stays buffered.
func (j *Journal) Sync() error {
	return j.log.Sync()
}

// Close releases the journal.
func (j *Journal) Close() error {
	return j.log.Close()
}

// Iterator walks the journal oldest-first.
type Iterator struct {
	currentIndex uint64
	stopIndex    uint64
	log          *wal.Log
}

// Iterator positions at the first entry.
func (j *Journal) Iterator() (*Iterator, error) {
	firstIndex, err := j.log.FirstIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "could not read first index")
	}

	lastIndex, err := j.log.LastIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "could not read last index")
	}

	return &Iterator{
		currentIndex: firstIndex,
		stopIndex:    lastIndex,
		log:          j.log,
	}, nil
}

// LoadNext returns the next event, or io.EOF past the end.
func (i *Iterator) LoadNext() (model.Event, error) {
	// An empty log reports first and last index 0.
	if i.stopIndex == 0 || i.currentIndex > i.stopIndex {
		return model.Event{}, io.EOF
	}

	data, err := i.log.Read(i.currentIndex)
	if err != nil {
		return model.Event{}, errors.WithMessagef(err, "could not read index %d", i.currentIndex)
	}

	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, errors.WithMessage(err, "error decoding event, is the journal corrupt?")
	}

	i.currentIndex++
	return ev, nil
}

// Filter selects events on Read. Zero fields match everything.
type Filter struct {
	RunID string
	Job   string
	Type  model.EventType
}

// Match reports whether the event passes the filter.
func (f Filter) Match(ev model.Event) bool {
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.Job != "" && ev.Job != f.Job {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	return true
}

// Read returns all matching events, oldest first.
func (j *Journal) Read(f Filter) ([]model.Event, error) {
	it, err := j.Iterator()
	if err != nil {
		return nil, err
	}

	var events []model.Event
	for {
		ev, err := it.LoadNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if f.Match(ev) {
			events = append(events, ev)
		}
	}
	return events, nil
}

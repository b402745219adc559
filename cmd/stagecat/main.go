// stagecat is a utility for reviewing stagehand run journals. It
// understands the format written by internal/journal and is able to
// parse, filter, and pretty-print these logs, which is the quickest way
// to answer "what exactly happened during that run" after the fact.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/mmr-tortoise/stagehand/internal/journal"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// command line flags
var allEventTypes = []string{
	model.EventRunStarted.String(),
	model.EventJobStarted.String(),
	model.EventStepFinished.String(),
	model.EventJobFinished.String(),
	model.EventRunFinished.String(),
}

type arguments struct {
	journalPath string
	runID       string
	job         string
	eventTypes  []string
	tail        int
	asJSON      bool
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("stagecat", "Utility for processing stagehand run journals.")
	journalPath := app.Flag("journal", "The journal directory to read.").Default(journal.DefaultDir(".")).String()
	runID := app.Flag("run", "Report events of this run only.").String()
	job := app.Flag("job", "Report events of this job only.").String()
	eventTypes := app.Flag("type", "Which event types to report (repeatable).").Enums(allEventTypes...)
	tail := app.Flag("tail", "Only print the last N matching events.").Default("0").Int()
	asJSON := app.Flag("json", "Print events as JSON, one per line.").Default("false").Bool()

	_, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	if *tail < 0 {
		return nil, errors.Errorf("--tail must not be negative")
	}

	return &arguments{
		journalPath: *journalPath,
		runID:       *runID,
		job:         *job,
		eventTypes:  *eventTypes,
		tail:        *tail,
		asJSON:      *asJSON,
	}, nil
}

// indexed pairs an event with its position in the log, which survives
// filtering so printed indices always refer back to the raw journal.
type indexed struct {
	index int
	event model.Event
}

func (a *arguments) execute(output io.Writer) error {
	// Opening a write-ahead log creates it, which is not what a read
	// tool should do on a typo'd path.
	if _, err := os.Stat(a.journalPath); err != nil {
		return errors.Errorf("no journal at %s", a.journalPath)
	}

	j, err := journal.Open(a.journalPath)
	if err != nil {
		return errors.WithMessage(err, "bad journal")
	}
	defer j.Close()

	it, err := j.Iterator()
	if err != nil {
		return errors.WithMessage(err, "bad journal")
	}

	// The log itself does not expose entry indices, so we keep track
	// of them here.
	index := 0
	var matched []indexed

	for ev, err := it.LoadNext(); err != io.EOF; ev, err = it.LoadNext() {
		if err != nil {
			return errors.WithMessage(err, "failed reading journal")
		}
		index++
		if a.shouldPrint(ev) {
			matched = append(matched, indexed{index: index, event: ev})
		}
	}

	if a.tail > 0 && len(matched) > a.tail {
		matched = matched[len(matched)-a.tail:]
	}

	for _, m := range matched {
		if a.asJSON {
			data, err := json.Marshal(m.event)
			if err != nil {
				return errors.WithMessage(err, "could not marshal event")
			}
			fmt.Fprintf(output, "%s\n", data)
			continue
		}
		fmt.Fprintf(output, "% 6d  %s  %-13s %s\n",
			m.index,
			m.event.Time.Format(time.RFC3339),
			m.event.Type.String(),
			describe(m.event),
		)
	}

	return nil
}

func (a *arguments) shouldPrint(ev model.Event) bool {
	if a.runID != "" && ev.RunID != a.runID {
		return false
	}
	if a.job != "" && ev.Job != a.job {
		return false
	}
	if len(a.eventTypes) > 0 {
		found := false
		for _, t := range a.eventTypes {
			if ev.Type.String() == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// describe renders the type-specific tail of an event line.
func describe(ev model.Event) string {
	switch ev.Type {
	case model.EventRunStarted:
		parts := []string{"run " + ev.RunID}
		if len(ev.Jobs) > 0 {
			parts = append(parts, fmt.Sprintf("jobs=[%s]", strings.Join(ev.Jobs, " ")))
		}
		if ev.Branch != "" {
			parts = append(parts, "branch="+ev.Branch)
		}
		if ev.Repo != "" {
			parts = append(parts, "repo="+ev.Repo)
		}
		return strings.Join(parts, " ")

	case model.EventJobStarted:
		return ev.Job

	case model.EventStepFinished:
		if ev.Step == nil {
			return ev.Job
		}
		st := ev.Step
		line := fmt.Sprintf("%s %s: %s", ev.Job, st.Name, st.Status)
		if st.ExitCode != 0 {
			line += fmt.Sprintf(" rc=%d", st.ExitCode)
		}
		if st.SkipReason != "" {
			line += " (" + st.SkipReason + ")"
		}
		if st.Duration > 0 {
			line += " " + st.Duration.Round(time.Millisecond).String()
		}
		return line

	case model.EventJobFinished:
		line := fmt.Sprintf("%s: %s", ev.Job, ev.Status)
		if ev.Reason != "" {
			line += " (" + ev.Reason + ")"
		}
		if ev.CacheHit {
			line += " cache=hit"
		}
		if ev.Duration > 0 {
			line += " " + ev.Duration.Round(time.Millisecond).String()
		}
		return line

	case model.EventRunFinished:
		return fmt.Sprintf("run %s: %s after %s",
			ev.RunID, ev.Status, ev.Duration.Round(time.Millisecond))

	default:
		return ""
	}
}

func main() {
	kingpin.Version("0.0.1")
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	err = args.execute(os.Stdout)
	if err != nil {
		kingpin.Fatalf("%s", err)
	}
}

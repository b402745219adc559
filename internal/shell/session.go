package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// Session runs one job's script in a single interpreter process and
// attributes the combined output back to steps.
type Session struct {
	// Argv is the command that receives the script on stdin. Empty means
	// the job's own shell: [job.Shell, "-s"]. The docker executor points
	// this at a `docker run -i ...` invocation instead.
	Argv []string

	// Dir is the working directory for the process.
	Dir string

	// Output receives the build output as it arrives, marker lines
	// removed. Optional.
	Output io.Writer

	// OnStepStart fires when a step's start marker is seen. Optional.
	OnStepStart func(plan.Step)

	// OnStepEnd fires once per step with its final result, in completion
	// order. Optional.
	OnStepEnd func(model.StepResult)
}

// Run executes the job and returns one result per step, in step order.
//
// Step failures are not errors: the fail-fast exit is part of the
// protocol, and the returned results carry the failed step's exit code
// with every unreached step marked skipped. The returned error is
// reserved for infrastructure problems — the interpreter could not start,
// died without reporting a step, or the context was canceled.
func (s *Session) Run(ctx context.Context, job *plan.Job) ([]model.StepResult, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	script := Script(job, nonce)

	steps := make(map[int]plan.Step, len(job.Steps))
	for _, st := range job.Steps {
		steps[st.Index] = st
	}

	results := make(map[int]model.StepResult, len(job.Steps))

	// Steps gated off at plan time are settled before the process
	// starts; the script does not contain them.
	for _, st := range job.Steps {
		if !st.Skip {
			continue
		}
		res := stepResult(job, st)
		res.Status = model.StatusSkipped
		res.SkipReason = st.SkipReason
		results[st.Index] = res
		if s.OnStepEnd != nil {
			s.OnStepEnd(res)
		}
	}

	argv := s.Argv
	if len(argv) == 0 {
		argv = []string{job.Shell, "-s"}
	}

	// #nosec G204 — argv is assembled from configuration, which is the
	// user's own command surface anyway
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.Dir
	cmd.Stdin = strings.NewReader(script)

	// Step output is merged into stdout by the script's own exec 2>&1;
	// anything on stderr is the interpreter complaining.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open session output pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start session %q: %w", argv[0], err)
	}

	// On cancel the interpreter is killed, but a child it spawned can
	// keep the pipe's write end open. Closing the read end unblocks the
	// scanner so cancellation takes effect immediately.
	scanDone := make(chan struct{})
	defer close(scanDone)
	go func() {
		select {
		case <-ctx.Done():
			stdout.Close()
		case <-scanDone:
		}
	}()

	var (
		current      = -1
		currentStart time.Time
		outputBytes  int
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m, ok := parseMarker(line, nonce); ok {
			st := steps[m.step]
			if m.status == markStart {
				current = m.step
				currentStart = time.Now()
				outputBytes = 0
				if s.OnStepStart != nil {
					s.OnStepStart(st)
				}
				continue
			}

			res := stepResult(job, st)
			res.StartedAt = currentStart
			res.Duration = time.Since(currentStart)
			res.OutputBytes = int64(outputBytes)
			switch m.status {
			case markOK:
				res.Status = model.StatusPassed
			case markFailed:
				res.Status = model.StatusFailed
				res.ExitCode = m.rc
			case markSkipped:
				res.Status = model.StatusSkipped
				res.SkipReason = fmt.Sprintf("%s already exists", st.Creates)
			}
			results[m.step] = res
			if s.OnStepEnd != nil {
				s.OnStepEnd(res)
			}
			current = -1
			continue
		}

		if current >= 0 {
			outputBytes += len(line) + 1
		}
		if s.Output != nil {
			fmt.Fprintln(s.Output, line)
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	// A step that started but never reported back means the interpreter
	// died under it: broken syntax, a kill, a vanished container.
	if current >= 0 {
		if _, ok := results[current]; !ok {
			st := steps[current]
			res := stepResult(job, st)
			res.StartedAt = currentStart
			res.Duration = time.Since(currentStart)
			res.OutputBytes = int64(outputBytes)
			res.Status = model.StatusErrored
			res.ExitCode = exitCode(waitErr)
			results[current] = res
			if s.OnStepEnd != nil {
				s.OnStepEnd(res)
			}
		}
	}

	switch {
	case ctx.Err() != nil:
		return collect(job, results, "run canceled"), ctx.Err()
	case scanErr != nil:
		return collect(job, results, "session error"), fmt.Errorf("failed to read session output: %w", scanErr)
	case waitErr != nil && !hasFailure(results):
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return collect(job, results, "session error"),
				fmt.Errorf("session terminated unexpectedly: %s: %w", msg, waitErr)
		}
		return collect(job, results, "session error"),
			fmt.Errorf("session terminated unexpectedly: %w", waitErr)
	}

	return collect(job, results, "previous step failed"), nil
}

// stepResult seeds a result with the step's identity fields.
func stepResult(job *plan.Job, st plan.Step) model.StepResult {
	return model.StepResult{
		Job:     job.Name,
		Phase:   st.Phase,
		Index:   st.Index,
		Name:    st.Name,
		Command: st.Run,
	}
}

// collect assembles the final result list in step order, synthesizing a
// skipped entry for every step the session never reached.
func collect(job *plan.Job, results map[int]model.StepResult, reason string) []model.StepResult {
	out := make([]model.StepResult, 0, len(job.Steps))
	for _, st := range job.Steps {
		if res, ok := results[st.Index]; ok {
			out = append(out, res)
			continue
		}
		res := stepResult(job, st)
		res.Status = model.StatusSkipped
		res.SkipReason = reason
		out = append(out, res)
	}
	return out
}

// hasFailure reports whether any step failed or errored, which makes a
// non-zero interpreter exit expected rather than suspicious.
func hasFailure(results map[int]model.StepResult) bool {
	for _, res := range results {
		if res.Status == model.StatusFailed || res.Status == model.StatusErrored {
			return true
		}
	}
	return false
}

// exitCode extracts the process exit code, -1 when killed or unknown.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

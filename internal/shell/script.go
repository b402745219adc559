package shell

import (
	"fmt"
	"strings"

	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// Script renders the job as one self-contained POSIX script.
//
// Layout: stderr is merged into stdout first so the output stream keeps
// command order, then the composed environment is exported, then each
// runnable step is emitted between its start and end markers. Every step
// captures $? explicitly and exits the session on non-zero, which is the
// fail-fast contract. Steps skipped at plan time are left out entirely;
// their marker indexes simply never appear.
//
// Environment values are exported inside double quotes with $ left live,
// so an entry like PATH_ADD=$HOME/bin expands the way it would in a
// profile. A creates guard is an existence test on the (expanded) path;
// when it holds, the step reports skipped instead of running.
//
// A multi-line step reports the exit code of its final command.
func Script(job *plan.Job, nonce string) string {
	var b strings.Builder

	b.WriteString("exec 2>&1\n")

	for _, entry := range job.Env {
		key, val, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "export %s=\"%s\"\n", key, escapeEnvValue(val))
	}

	for _, step := range job.Steps {
		if step.Skip {
			continue
		}

		b.WriteString("\n")
		fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", startMarker(nonce, step.Index))

		if step.Creates != "" {
			fmt.Fprintf(&b, "if [ -e \"%s\" ]; then\n", step.Creates)
			fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", endMarker(nonce, step.Index, markSkipped, 0))
			b.WriteString("else\n")
			writeCommand(&b, nonce, step)
			b.WriteString("fi\n")
		} else {
			writeCommand(&b, nonce, step)
		}
	}

	return b.String()
}

// writeCommand emits the step's command text verbatim followed by the
// exit-code capture. The command is not re-indented: block scalars may
// contain heredocs or continuation lines that whitespace would corrupt.
func writeCommand(b *strings.Builder, nonce string, step plan.Step) {
	b.WriteString(strings.TrimRight(step.Run, "\n"))
	b.WriteString("\n")
	b.WriteString("stagehand_rc=$?\n")
	b.WriteString("if [ $stagehand_rc -ne 0 ]; then\n")
	fmt.Fprintf(b, "printf '%%s\\n' \"::stagehand::%s::step=%d::status=%s::rc=${stagehand_rc}::\"\n",
		nonce, step.Index, markFailed)
	b.WriteString("exit $stagehand_rc\n")
	b.WriteString("fi\n")
	fmt.Fprintf(b, "printf '%%s\\n' '%s'\n", endMarker(nonce, step.Index, markOK, 0))
}

// escapeEnvValue escapes a value for a double-quoted export. Dollar signs
// stay live on purpose; backslashes, quotes, and backticks do not.
func escapeEnvValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")
	return r.Replace(v)
}

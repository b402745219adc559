package shell

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
)

// Marker statuses, as embedded in the generated script.
const (
	markStart   = "start"
	markOK      = "ok"
	markFailed  = "failed"
	markSkipped = "skipped"
)

// markerRegex matches one marker line. The nonce group is validated
// against the session's own nonce so user output that merely looks like a
// marker cannot confuse the parser.
var markerRegex = regexp.MustCompile(`^::stagehand::([0-9a-f]+)::step=(\d+)::status=(start|ok|failed|skipped)::(?:rc=(-?\d+)::)?$`)

// marker is one parsed marker line.
type marker struct {
	step   int
	status string
	rc     int
}

// newNonce returns the random hex token embedded in this session's
// markers.
func newNonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// startMarker renders the line emitted before a step's command runs.
func startMarker(nonce string, step int) string {
	return fmt.Sprintf("::stagehand::%s::step=%d::status=%s::", nonce, step, markStart)
}

// endMarker renders the line emitted after a step finished. The rc field
// is a literal; failure markers splice in the shell variable instead.
func endMarker(nonce string, step int, status string, rc int) string {
	return fmt.Sprintf("::stagehand::%s::step=%d::status=%s::rc=%d::", nonce, step, status, rc)
}

// parseMarker inspects one output line. It returns false for ordinary
// output, including marker-shaped lines carrying a foreign nonce.
func parseMarker(line, nonce string) (marker, bool) {
	m := markerRegex.FindStringSubmatch(line)
	if m == nil || m[1] != nonce {
		return marker{}, false
	}

	step, err := strconv.Atoi(m[2])
	if err != nil {
		return marker{}, false
	}

	rc := 0
	if m[4] != "" {
		if rc, err = strconv.Atoi(m[4]); err != nil {
			return marker{}, false
		}
	}

	return marker{step: step, status: m[3], rc: rc}, true
}

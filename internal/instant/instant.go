// Package instant implements the sortable run identifiers used to name
// build runs, report directories, and journal records.
//
// An instant renders as "YYYY_MM_DD_HH_MM_SS" with an optional "_NNNN"
// collision index appended when several runs start within the same second.
// The format is chosen so that lexicographic order equals temporal order,
// which lets directory listings and journal scans stay sorted for free.
package instant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the time.Format layout of the identifier's timestamp part.
const Layout = "2006_01_02_15_04_05"

// instantRegex matches an identifier anywhere inside a larger string
// (directory names, journal keys). Group 1 is the timestamp, group 2 the
// optional collision index.
var instantRegex = regexp.MustCompile(`(\d{4}_[0-1]\d_[0-3]\d_[0-2]\d_[0-5]\d_[0-5]\d)(?:_(\d+))?`)

// Instant is a second-resolution timestamp plus a collision index.
// The zero value is not a valid instant; use Now, At, or Parse.
type Instant struct {
	// Time is the wall-clock time, truncated to whole seconds.
	Time time.Time

	// Index disambiguates instants created within the same second.
	// Zero means no suffix is rendered.
	Index int
}

// Now returns the instant for the current local time.
func Now() Instant {
	return At(time.Now())
}

// At returns the instant for the given time, truncated to whole seconds.
func At(t time.Time) Instant {
	return Instant{Time: t.Truncate(time.Second)}
}

// Parse converts an identifier string back into an Instant.
// The whole input must be a valid identifier; use Extract to find an
// identifier embedded in a longer string.
func Parse(s string) (Instant, error) {
	m := instantRegex.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Instant{}, fmt.Errorf("invalid instant %q: want YYYY_MM_DD_HH_MM_SS with optional _NNNN suffix", s)
	}
	return fromMatch(m)
}

// Extract finds the first identifier embedded anywhere in s. Paths and
// journal keys routinely wrap identifiers in prefixes and suffixes, so the
// match does not need to span the whole string.
func Extract(s string) (Instant, error) {
	m := instantRegex.FindStringSubmatch(s)
	if m == nil {
		return Instant{}, fmt.Errorf("no instant found in %q", s)
	}
	return fromMatch(m)
}

func fromMatch(m []string) (Instant, error) {
	t, err := time.ParseInLocation(Layout, m[1], time.Local)
	if err != nil {
		return Instant{}, fmt.Errorf("invalid instant timestamp %q: %v", m[1], err)
	}
	inst := Instant{Time: t}
	if m[2] != "" {
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return Instant{}, fmt.Errorf("invalid instant index %q: %v", m[2], err)
		}
		inst.Index = idx
	}
	return inst, nil
}

// String renders the identifier. The index is zero-padded to four digits so
// that string order matches index order.
func (i Instant) String() string {
	s := i.Time.Format(Layout)
	if i.Index > 0 {
		s += fmt.Sprintf("_%04d", i.Index)
	}
	return s
}

// ISO renders the timestamp part as ISO 8601 for human-facing listings.
func (i Instant) ISO() string {
	return i.Time.Format("2006-01-02T15:04:05")
}

// Less orders instants by time, then by collision index.
func (i Instant) Less(other Instant) bool {
	if !i.Time.Equal(other.Time) {
		return i.Time.Before(other.Time)
	}
	return i.Index < other.Index
}

// Equal reports whether two instants denote the same identifier.
func (i Instant) Equal(other Instant) bool {
	return i.Time.Equal(other.Time) && i.Index == other.Index
}

// Unique bumps the collision index until taken reports the rendered
// identifier as free. Used when two runs start within the same second and
// both want a run directory.
func Unique(base Instant, taken func(string) bool) Instant {
	inst := base
	for taken(inst.String()) {
		inst.Index++
	}
	return inst
}

// IsZero reports whether the instant is the zero value.
func (i Instant) IsZero() bool {
	return i.Time.IsZero()
}

// MarshalText renders the identifier for use as a JSON/YAML scalar.
func (i Instant) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText parses an identifier from a JSON/YAML scalar.
func (i *Instant) UnmarshalText(text []byte) error {
	parsed, err := Parse(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

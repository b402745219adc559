package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// whitespaceRegex collapses whitespace runs inside recorded strings so
// multi-line command text stays on a single TSV row.
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Recorder accumulates keyed rows with a growing union of columns.
// Fields enter the header in the order they are first recorded; rows
// that lack a later-added field render it as "NA".
type Recorder struct {
	keyColumn string
	fields    []string
	seen      map[string]bool
	data      map[string]map[string]any
}

// NewRecorder returns an empty Recorder whose first column is named
// keyColumn.
func NewRecorder(keyColumn string) *Recorder {
	return &Recorder{
		keyColumn: keyColumn,
		seen:      make(map[string]bool),
		data:      make(map[string]map[string]any),
	}
}

// Record merges values into the row identified by key. Recording the
// same field twice for a key overwrites the earlier value. Fields new
// to the recorder are appended to the header sorted among themselves.
func (r *Recorder) Record(key string, values map[string]any) {
	row := r.data[key]
	if row == nil {
		row = make(map[string]any, len(values))
		r.data[key] = row
	}

	var added []string
	for field, val := range values {
		if !r.seen[field] {
			r.seen[field] = true
			added = append(added, field)
		}
		row[field] = val
	}
	sort.Strings(added)
	r.fields = append(r.fields, added...)
}

// Len returns the number of recorded rows.
func (r *Recorder) Len() int {
	return len(r.data)
}

// Save writes the rows as tab-separated values, sorted by key. A
// recorder with no rows writes nothing and leaves no file behind.
func (r *Recorder) Save(path string) error {
	if len(r.data) == 0 {
		return nil
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(out)
	w.Comma = '\t'

	if err := w.Write(append([]string{r.keyColumn}, r.fields...)); err != nil {
		_ = out.Close()
		return err
	}

	keys := make([]string, 0, len(r.data))
	for key := range r.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		row := make([]string, 0, len(r.fields)+1)
		row = append(row, key)
		for _, field := range r.fields {
			row = append(row, formatValue(r.data[key][field]))
		}
		if err := w.Write(row); err != nil {
			_ = out.Close()
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// formatValue renders one cell. Absent and nil values become "NA";
// strings get their whitespace collapsed to single spaces.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NA"
	case string:
		return whitespaceRegex.ReplaceAllString(val, " ")
	default:
		return fmt.Sprint(val)
	}
}

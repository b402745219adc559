package instant

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestString verifies rendering with and without a collision index.
func TestString(t *testing.T) {
	base := time.Date(2026, 1, 31, 14, 5, 7, 0, time.Local)

	assert.Equal(t, "2026_01_31_14_05_07", At(base).String())
	assert.Equal(t, "2026_01_31_14_05_07_0002", Instant{Time: base, Index: 2}.String())
}

// TestParse verifies round-tripping and rejection of malformed input.
func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		index    int
		hasError bool
	}{
		{"2026_01_31_14_05_07", 0, false},
		{"2026_01_31_14_05_07_0001", 1, false},
		{"2026_01_31_14_05_07_12", 12, false}, // unpadded index accepted
		{"2026-01-31T14:05:07", 0, true},      // wrong separators
		{"2026_01_31_14_05", 0, true},         // missing seconds
		{"run-2026_01_31_14_05_07", 0, true},  // Parse wants the whole string
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			inst, err := Parse(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.index, inst.Index)
			assert.Equal(t, time.Date(2026, 1, 31, 14, 5, 7, 0, time.Local), inst.Time)
		})
	}
}

// TestParse_RoundTrip checks String followed by Parse is the identity.
func TestParse_RoundTrip(t *testing.T) {
	orig := Instant{Time: time.Date(2025, 12, 1, 0, 0, 59, 0, time.Local), Index: 41}

	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.True(t, orig.Equal(parsed))
}

// TestExtract verifies finding identifiers embedded in longer strings,
// the common case for run directory names and journal keys.
func TestExtract(t *testing.T) {
	t.Run("embedded in path", func(t *testing.T) {
		inst, err := Extract(".stagehand/runs/2026_01_31_14_05_07_0003/report.tsv")
		require.NoError(t, err)
		assert.Equal(t, 3, inst.Index)
		assert.Equal(t, 14, inst.Time.Hour())
	})

	t.Run("no identifier present", func(t *testing.T) {
		_, err := Extract("reports/latest/report.tsv")
		assert.Error(t, err)
	})
}

// TestLexicalOrder checks the property the whole naming scheme relies on:
// sorting rendered identifiers as strings equals sorting by time.
func TestLexicalOrder(t *testing.T) {
	base := time.Date(2026, 1, 31, 14, 5, 7, 0, time.Local)
	instants := []Instant{
		{Time: base.Add(90 * time.Second)},
		{Time: base, Index: 2},
		{Time: base.Add(-time.Hour)},
		{Time: base, Index: 1},
		{Time: base.AddDate(0, 1, 0)},
		{Time: base},
	}

	rendered := make([]string, len(instants))
	for i, inst := range instants {
		rendered[i] = inst.String()
	}
	sort.Strings(rendered)

	sort.Slice(instants, func(i, j int) bool { return instants[i].Less(instants[j]) })
	for i, inst := range instants {
		assert.Equal(t, rendered[i], inst.String(), "position %d", i)
	}
}

// TestUnique verifies collision index bumping against a taken-set.
func TestUnique(t *testing.T) {
	base := At(time.Date(2026, 1, 31, 14, 5, 7, 0, time.Local))
	taken := map[string]bool{
		"2026_01_31_14_05_07":      true,
		"2026_01_31_14_05_07_0001": true,
	}

	inst := Unique(base, func(s string) bool { return taken[s] })
	assert.Equal(t, 2, inst.Index)
	assert.Equal(t, "2026_01_31_14_05_07_0002", inst.String())

	// Nothing taken: base comes back unchanged.
	free := Unique(base, func(string) bool { return false })
	assert.True(t, base.Equal(free))
}

// TestTextMarshalling verifies the encoding.TextMarshaler round trip used
// by JSON journal records.
func TestTextMarshalling(t *testing.T) {
	orig := Instant{Time: time.Date(2026, 1, 31, 14, 5, 7, 0, time.Local), Index: 1}

	data, err := orig.MarshalText()
	require.NoError(t, err)

	var back Instant
	require.NoError(t, back.UnmarshalText(data))
	assert.True(t, orig.Equal(back))
}

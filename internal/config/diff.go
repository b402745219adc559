package config

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff between the raw configuration file and the
// canonical rendering of the effective document. An empty string means the
// file is already canonical.
//
// When no override file is present the diff is cosmetic: key order, steps
// that could collapse to their scalar form, stray quoting. With an override
// in play it also shows exactly what the override changed, which is the
// quickest way to answer "why is my run not doing what the file says".
func (c *Config) Diff() (string, error) {
	normalized, err := c.Normalize()
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(c.Raw)),
		B:        difflib.SplitLines(string(normalized)),
		FromFile: c.Path,
		ToFile:   c.Path + " (normalized)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("failed to compute configuration diff: %w", err)
	}
	return text, nil
}

// Package envfile parses the environment specification files that install
// phases feed to conda-style tooling (conventionally environment.yml).
//
// The runner never interprets these files itself — the configured install
// commands do — but `stagehand env` summarizes them and `stagehand lint`
// warns when an install command references one that does not exist.
package envfile

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a parsed environment specification.
type File struct {
	// Name is the environment name the install phase activates.
	Name string `yaml:"name"`

	// Channels lists the package sources, in priority order.
	Channels []string `yaml:"channels,omitempty"`

	// Dependencies holds the declared packages.
	Dependencies Dependencies `yaml:"dependencies,omitempty"`
}

// Dependencies separates the two dependency shapes the format allows:
// plain "name=version" strings and one nested pip list.
type Dependencies struct {
	// Conda holds the plain string entries.
	Conda []string

	// Pip holds the entries of the nested "pip:" mapping, if present.
	Pip []string
}

// UnmarshalYAML handles the mixed sequence: string items are conda
// packages, a mapping item with a "pip" key contributes the pip list.
func (d *Dependencies) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: dependencies must be a list", value.Line)
	}

	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			var pkg string
			if err := item.Decode(&pkg); err != nil {
				return err
			}
			d.Conda = append(d.Conda, pkg)

		case yaml.MappingNode:
			var sub struct {
				Pip []string `yaml:"pip"`
			}
			if err := item.Decode(&sub); err != nil {
				return fmt.Errorf("line %d: invalid dependency mapping: %v", item.Line, err)
			}
			d.Pip = append(d.Pip, sub.Pip...)

		default:
			return fmt.Errorf("line %d: dependency entries must be strings or a pip mapping", item.Line)
		}
	}
	return nil
}

// MarshalYAML renders the dependencies back into the mixed-sequence form.
func (d Dependencies) MarshalYAML() (interface{}, error) {
	out := make([]interface{}, 0, len(d.Conda)+1)
	for _, pkg := range d.Conda {
		out = append(out, pkg)
	}
	if len(d.Pip) > 0 {
		out = append(out, map[string][]string{"pip": d.Pip})
	}
	return out, nil
}

// Parse decodes an environment specification document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse environment file: %w", err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("environment file has no name")
	}
	return &f, nil
}

// Load reads and parses the environment specification at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// PackageCount returns the total number of declared packages.
func (f *File) PackageCount() int {
	return len(f.Dependencies.Conda) + len(f.Dependencies.Pip)
}

// fileRefRegex matches the -f/--file argument of env-materializing
// commands, e.g. "conda env update -n pipeline -f environment.yml".
var fileRefRegex = regexp.MustCompile(`(?:^|\s)(?:-f|--file)[=\s]+(\S+\.ya?ml)`)

// Refs scans command texts for referenced environment specification files.
// Duplicates are collapsed, order of first appearance is preserved.
func Refs(commands []string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, cmd := range commands {
		for _, m := range fileRefRegex.FindAllStringSubmatch(cmd, -1) {
			path := strings.TrimSpace(m[1])
			if path == "" || seen[path] {
				continue
			}
			seen[path] = true
			refs = append(refs, path)
		}
	}
	return refs
}

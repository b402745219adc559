package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// FileNames are the recognized configuration file names, in priority order.
// The Travis name is accepted so existing configurations run unmodified.
var FileNames = []string{".stagehand.yml", ".stagehand.yaml", ".travis.yml"}

// OverrideFileName is the optional JSONC document merged over the YAML
// configuration. It is meant for per-machine tweaks (a different shell, an
// extra env entry) that should not be committed.
const OverrideFileName = ".stagehand.local.json"

// Config is the parsed configuration document. Field order mirrors the
// conventional layout of the file; Normalize re-renders in this order.
type Config struct {
	// Language names the runtime family. It selects the default container
	// image for the docker executor and is required.
	Language string `yaml:"language" json:"language"`

	// Python is the runtime version matrix: one job per entry, named
	// "python-<version>".
	Python []string `yaml:"python,omitempty" json:"python,omitempty"`

	// Shell is the session interpreter. Defaults to /bin/sh; configs using
	// bash-isms (source, [[ ]]) should set it to bash.
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`

	// Env holds environment declarations applied to every job.
	Env Env `yaml:"env,omitempty" json:"env,omitempty"`

	// Cache declares the directories persisted across runs.
	Cache Cache `yaml:"cache,omitempty" json:"cache,omitempty"`

	// BeforeInstall, Install, and Script are the command phases, executed
	// in exactly this order within a job's single shell session.
	BeforeInstall StepList `yaml:"before_install,omitempty" json:"before_install,omitempty"`
	Install       StepList `yaml:"install,omitempty" json:"install,omitempty"`
	Script        StepList `yaml:"script,omitempty" json:"script,omitempty"`

	// Jobs adds named jobs beyond the version matrix. Named jobs may
	// declare dependencies on each other via needs.
	Jobs []JobSpec `yaml:"jobs,omitempty" json:"jobs,omitempty"`

	// Notifications configures result delivery beyond the terminal.
	Notifications Notifications `yaml:"notifications,omitempty" json:"notifications,omitempty"`

	// Path is where the document was loaded from. Not part of the schema.
	Path string `yaml:"-" json:"-"`

	// Raw preserves the file bytes for `lint --diff`. Not part of the schema.
	Raw []byte `yaml:"-" json:"-"`
}

// Env holds environment variable declarations.
type Env struct {
	// Global is a list of KEY=VALUE strings exported into every job's
	// shell session before any configured command runs.
	Global []string `yaml:"global,omitempty" json:"global,omitempty"`
}

// Cache declares what the cache phases persist.
type Cache struct {
	// Directories lists paths packed after a passing job and unpacked
	// before the next run. $HOME and ~ are expanded per job.
	Directories []string `yaml:"directories,omitempty" json:"directories,omitempty"`
}

// Notifications configures the optional result sinks.
type Notifications struct {
	// GitHubStatus posts a commit status per job when a token and an
	// origin remote are available.
	GitHubStatus bool `yaml:"github_status,omitempty" json:"github_status,omitempty"`

	// StreamURL, when set, streams run events to a socket.io endpoint.
	StreamURL string `yaml:"stream_url,omitempty" json:"stream_url,omitempty"`
}

// JobSpec is an explicitly named job. Phase lists are pointers in spirit:
// a nil list inherits the top-level phase, an empty list disables it.
type JobSpec struct {
	// Name is the unique job name. Validated by model.ValidateJobName.
	Name string `yaml:"name" json:"name"`

	// If gates the job on a condition expression (see internal/condition).
	If string `yaml:"if,omitempty" json:"if,omitempty"`

	// Needs lists job names that must pass before this one runs.
	Needs []string `yaml:"needs,omitempty" json:"needs,omitempty"`

	// Python pins the runtime version for this job.
	Python string `yaml:"python,omitempty" json:"python,omitempty"`

	// Image overrides the docker executor image for this job.
	Image string `yaml:"image,omitempty" json:"image,omitempty"`

	// Env appends KEY=VALUE pairs to the global environment.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`

	BeforeInstall StepList `yaml:"before_install,omitempty" json:"before_install,omitempty"`
	Install       StepList `yaml:"install,omitempty" json:"install,omitempty"`
	Script        StepList `yaml:"script,omitempty" json:"script,omitempty"`
}

// StepList is an ordered list of steps within one phase.
type StepList []Step

// Step is one entry of a command phase. The YAML form is either a plain
// string (the command) or a mapping:
//
//	- name: install miniconda
//	  run: bash miniconda.sh -b -p $HOME/miniconda
//	  creates: $HOME/miniconda
//	  if: env.CI == "true"
//
// A step with creates set is skipped when the target path exists, which is
// what makes a cached bootstrap idempotent across runs.
type Step struct {
	// Name is an optional human-readable label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Run is the shell command text, passed to the session verbatim.
	Run string `yaml:"run" json:"run"`

	// Creates is a path guard: when it exists the step is skipped.
	Creates string `yaml:"creates,omitempty" json:"creates,omitempty"`

	// If gates the step on a condition expression.
	If string `yaml:"if,omitempty" json:"if,omitempty"`
}

// stepKeys are the mapping keys a step may carry. Anything else is a typo
// we want to reject rather than ignore.
var stepKeys = map[string]bool{"name": true, "run": true, "creates": true, "if": true}

// UnmarshalYAML accepts both step forms. Scalar nodes become the Run field;
// mapping nodes are checked for unknown keys before decoding, because
// yaml.Node.Decode does not enforce KnownFields.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var cmd string
		if err := value.Decode(&cmd); err != nil {
			return err
		}
		s.Run = cmd
		return nil

	case yaml.MappingNode:
		// Mapping nodes store keys and values alternately in Content.
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i].Value
			if !stepKeys[key] {
				return fmt.Errorf("line %d: unknown step key %q (valid: name, run, creates, if)", value.Content[i].Line, key)
			}
		}
		type rawStep struct {
			Name    string `yaml:"name"`
			Run     string `yaml:"run"`
			Creates string `yaml:"creates"`
			If      string `yaml:"if"`
		}
		var raw rawStep
		if err := value.Decode(&raw); err != nil {
			return err
		}
		s.Name = raw.Name
		s.Run = raw.Run
		s.Creates = raw.Creates
		s.If = raw.If
		return nil

	default:
		return fmt.Errorf("line %d: step must be a string or a mapping", value.Line)
	}
}

// MarshalYAML renders plain command steps back to their scalar form so that
// Normalize output stays as compact as the input.
func (s Step) MarshalYAML() (interface{}, error) {
	if s.Name == "" && s.Creates == "" && s.If == "" {
		return s.Run, nil
	}
	type rawStep struct {
		Name    string `yaml:"name,omitempty"`
		Run     string `yaml:"run"`
		Creates string `yaml:"creates,omitempty"`
		If      string `yaml:"if,omitempty"`
	}
	return rawStep{Name: s.Name, Run: s.Run, Creates: s.Creates, If: s.If}, nil
}

// Label returns the step's display name: the explicit name when present,
// otherwise the first line of the command, truncated for table output.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	line := s.Run
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	const max = 60
	if len(line) > max {
		return line[:max-1] + "…"
	}
	return line
}

// Find searches for a configuration file in the given directory.
//
// The search order prefers the native name over the Travis fallback:
//  1. <dir>/.stagehand.yml
//  2. <dir>/.stagehand.yaml
//  3. <dir>/.travis.yml
//
// Returns the path to the first file found, or a CLIError with
// ExitConfigError if none exists.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", model.NewCLIError(
		model.ExitConfigError,
		fmt.Sprintf("no configuration file found in %s (searched %s)", dir, strings.Join(FileNames, ", ")),
	)
}

// Load reads, merges, and decodes the configuration at path.
//
// Loading happens in two passes. The document is first decoded into a plain
// map so the optional JSONC override can be merged at the document level;
// the merged document is then re-encoded and strictly decoded into Config,
// so unknown keys are rejected regardless of which file introduced them.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitConfigError,
				fmt.Sprintf("configuration file not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, model.NewCLIError(model.ExitConfigError, fmt.Sprintf("configuration file %s is empty", path))
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	overridePath := filepath.Join(filepath.Dir(path), OverrideFileName)
	override, err := loadOverride(overridePath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		doc = mergeDoc(doc, override)
	}

	merged, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(merged))
	// Unknown top-level keys are schema violations, not extension points.
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	cfg.Path = path
	cfg.Raw = data
	return &cfg, nil
}

// loadOverride reads the JSONC override document. A missing file is not an
// error; a present but malformed file is.
func loadOverride(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Strip comments and trailing commas before handing the bytes to
	// encoding/json. Local override files are hand-edited, so the JSONC
	// conveniences matter here.
	clean := jsonc.ToJSON(data)

	var doc map[string]interface{}
	if err := json.Unmarshal(clean, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse override %s: %w", path, err)
	}
	return doc, nil
}

// mergeDoc merges override into base at the document level. Maps merge
// recursively; every other value — scalars and lists alike — is replaced
// wholesale. Replacing lists keeps phase overrides predictable: you state
// the full command list you want, not a patch against it.
func mergeDoc(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		baseMap, baseOK := asStringMap(out[k])
		overMap, overOK := asStringMap(v)
		if baseOK && overOK {
			out[k] = mergeDoc(baseMap, overMap)
			continue
		}
		out[k] = v
	}
	return out
}

// asStringMap normalizes the two map shapes the YAML and JSON decoders
// produce for nested objects.
func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// PhaseSteps returns the top-level step list for a command phase.
func (c *Config) PhaseSteps(p model.Phase) StepList {
	switch p {
	case model.PhaseBeforeInstall:
		return c.BeforeInstall
	case model.PhaseInstall:
		return c.Install
	case model.PhaseScript:
		return c.Script
	default:
		return nil
	}
}

// PhaseSteps returns the job's override for a command phase, or nil when
// the job inherits the top-level list.
func (j *JobSpec) PhaseSteps(p model.Phase) StepList {
	switch p {
	case model.PhaseBeforeInstall:
		return j.BeforeInstall
	case model.PhaseInstall:
		return j.Install
	case model.PhaseScript:
		return j.Script
	default:
		return nil
	}
}

// Normalize renders the effective configuration as canonical YAML: struct
// field order, plain-string steps collapsed back to scalars, defaults left
// implicit. `stagehand lint --diff` compares this against the raw file.
func (c *Config) Normalize() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

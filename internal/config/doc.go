// Package config handles loading, merging, and validation of the stagehand
// configuration file.
//
// The configuration is a Travis-style YAML document (.stagehand.yml, with
// .travis.yml accepted as a fallback) declaring a runtime version matrix,
// cached directories, and the ordered command lists of the three command
// phases: before_install, install, script.
//
// Key responsibilities:
//   - Locate the configuration file in a repository root
//   - Strict YAML decoding (unknown top-level keys are errors)
//   - Merge the optional .stagehand.local.json override (JSONC via
//     github.com/tidwall/jsonc) over the YAML document
//   - Schema validation returning a list of ValidationError values
//   - Canonical re-rendering and unified diffs for `stagehand lint`
package config

// Package cache persists configured directories across runs, keyed by
// repository, job, and directory.
//
// Each cached directory is stored as one gzipped tarball under the cache
// root, with a badger index tracking size and usage for `stagehand cache
// list|prune|clear`. The cache phases bracket every job: restore runs
// before the first command phase, save runs after a passing script phase.
// A miss, a corrupt archive, or a failed save never fails a build — the
// cache is an accelerator, not a dependency.
package cache

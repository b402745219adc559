// Package plan expands a validated configuration into an executable build
// plan: one fully resolved job per version matrix entry plus one per
// explicit jobs entry, ordered by their dependency graph.
//
// Resolution happens here, once, so the engine and the executors work
// with plain data: phase inheritance is flattened into a single step
// list, environment composition is complete, and job- and step-level
// conditions are already evaluated against the repository state.
package plan

// Package pipeline sequences the packaging stages of a release.
//
// A Pipeline runs fetch, extract, package and publish in dependency order:
// each stage first runs the stages it depends on and checks their results.
// Fetch and extract work per variant behind a bounded worker pool; results
// keep manifest order so every later stage is deterministic.
package pipeline

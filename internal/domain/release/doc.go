// Package release contains the release manifest model: the pinned versions of
// the upstream library and, for each version, the ordered list of variant
// archives (file name, SHA-256, platform tag) that the pipeline redistributes.
//
// A Manifest is validated once when it is built and is read-only afterwards.
package release

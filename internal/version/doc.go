// Package version exposes build metadata for libpack.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short and Full render the version for CLI output and logs,
// and UserAgent identifies libpack to release hosts and registries.
package version

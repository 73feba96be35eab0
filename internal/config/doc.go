// Package config defines the libpack configuration file and provides helpers
// to load, validate and save it in YAML format.
//
// The Config type names the library and release to package, where the release
// manifest and upstream archives live, the bundle plan, and the registry that
// receives published bundles. Optional platform bundles can also be toggled with
// the LIBPACK_INCLUDE_OPTIONAL_PLATFORMS environment variable.
package config

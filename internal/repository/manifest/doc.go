// Package manifest loads the release manifest YAML file into a validated
// release.Manifest.
package manifest

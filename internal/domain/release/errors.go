package release

import "errors"

var (
	// ErrUnknownVersion is returned when a version is absent from the manifest.
	ErrUnknownVersion = errors.New("unknown release version")
	// ErrInvalidManifest is returned when a manifest or one of its variants is malformed.
	ErrInvalidManifest = errors.New("invalid release manifest")
)

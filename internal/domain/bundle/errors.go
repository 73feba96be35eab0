package bundle

import "errors"

var (
	// ErrCorruptDownload is returned when a freshly downloaded archive does not match its checksum.
	ErrCorruptDownload = errors.New("corrupt download")
	// ErrPreconditionViolated is returned when a stage receives input an earlier stage did not vouch for.
	ErrPreconditionViolated = errors.New("precondition violated")
	// ErrConflictingArtifact is returned when merged trees disagree on the content of a shared path.
	ErrConflictingArtifact = errors.New("conflicting artifact")
	// ErrPublishPrecondition is returned when the working tree is not clean at publish time.
	ErrPublishPrecondition = errors.New("publish precondition failed")
	// ErrInvalidPlan is returned for bundle plans that cannot be assembled.
	ErrInvalidPlan = errors.New("invalid bundle plan")
	// ErrInvalidUpload is returned by registries for uploads without a usable name or checksum.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrUploadChecksum is returned by registries when content does not match its declared checksum.
	ErrUploadChecksum = errors.New("uploaded content does not match its checksum")
	// ErrBundleExists is returned by registries holding the same name with different content.
	ErrBundleExists = errors.New("bundle already published with different content")
)

// Package registry hosts a local bundle registry over gRPC.
//
// Accepted archives are stored below a storage directory and indexed in a
// JSON file, so publishing can be exercised end to end without a remote
// registry. Re-pushing identical content is reported as already published;
// pushing different content under an existing name is refused.
package registry

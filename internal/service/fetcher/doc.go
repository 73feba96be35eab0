// Package fetcher downloads release archives into the local cache and
// verifies them against the SHA-256 pinned in the release manifest.
//
// Archives already present with the expected digest are reused without any
// network call. Fresh downloads are streamed into a partial directory, checked,
// and moved into place with go-update, so an interrupted run never leaves an
// unverified file at the cache path.
package fetcher

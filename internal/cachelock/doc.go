// Package cachelock keeps two libpack runs from writing the same cache
// directory at once.
//
// The lock is a file created exclusively inside the cache directory that holds
// the owner's process id. A lock left behind by a process that no longer runs
// is treated as stale and taken over.
package cachelock

// Package receipts implements persistence for the local registry index.
//
// The FileRepository stores every accepted bundle receipt as protobuf JSON on
// disk and exposes a Repository interface that the registry service depends on.
package receipts

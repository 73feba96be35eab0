// Package registry implements the gRPC transport of the local bundle registry.
//
// The service libpack.registry.v1.Registry has a single unary Push method whose
// request and reply are google.protobuf.Struct messages, so no generated code
// is needed. The package provides the service descriptor, a server adapting a
// business-service interface, and a client used by the publisher.
package registry

package registry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name, also used for health checks.
	ServiceName = "libpack.registry.v1.Registry"
	// PushMethod is the full method name of Push.
	PushMethod = "/" + ServiceName + "/Push"

	// DefaultMaxMessageSize bounds request and reply sizes.
	DefaultMaxMessageSize = 256 << 20

	// Request fields.
	fieldName    = "name"
	fieldVersion = "version"
	fieldLabel   = "label"
	fieldSHA256  = "sha256"
	fieldContent = "content"

	// Reply fields.
	fieldID               = "id"
	fieldLocation         = "location"
	fieldPublishedAt      = "published_at"
	fieldAlreadyPublished = "already_published"
)

// RegistryServer is the server API of the registry service.
type RegistryServer interface {
	Push(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the registry service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Push",
			Handler:    pushHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "libpack/registry/v1/registry.proto",
}

// RegisterRegistryServer registers srv with s.
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// pushHandler decodes a Push request and runs it through the interceptor chain.
func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(RegistryServer).Push(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PushMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).Push(ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

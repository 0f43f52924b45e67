package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EmbedMethod is the full gRPC method name of the embedding call.
const EmbedMethod = "/phase.EmbeddingService/Embed"

// #region server
// EmbeddingServer is the server side of the embedding sidecar.
type EmbeddingServer interface {
	Embed(ctx context.Context, text *wrapperspb.StringValue) (*structpb.ListValue, error)
}

// EmbedFunc adapts a plain embedding function to EmbeddingServer.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements EmbeddingServer.
func (f EmbedFunc) Embed(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "empty text")
	}
	vec, err := f(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	values := make([]*structpb.Value, len(vec))
	for i, x := range vec {
		values[i] = structpb.NewNumberValue(float64(x))
	}
	return &structpb.ListValue{Values: values}, nil
}

// RegisterEmbeddingServer registers srv on s under EmbedMethod.
func RegisterEmbeddingServer(s grpc.ServiceRegistrar, srv EmbeddingServer) {
	s.RegisterService(&embeddingServiceDesc, srv)
}

var embeddingServiceDesc = grpc.ServiceDesc{
	ServiceName: "phase.EmbeddingService",
	HandlerType: (*EmbeddingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Embed", Handler: embedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "phase/embedding.proto",
}

func embedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmbeddingServer).Embed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EmbedMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EmbeddingServer).Embed(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
// #endregion server

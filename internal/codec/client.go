package codec

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region client-struct
// CodecClient calls the host's embedding sidecar over gRPC.
type CodecClient struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
}
// #endregion client-struct

// #region constructor
// NewCodecClient connects to the embedding sidecar at addr.
// A positive timeout bounds each Embed call.
func NewCodecClient(addr string, timeout time.Duration) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, cc: conn, timeout: timeout}, nil
}

// NewCodecClientWithConn creates a CodecClient on an existing connection.
// The caller keeps ownership of cc.
func NewCodecClientWithConn(cc grpc.ClientConnInterface, timeout time.Duration) *CodecClient {
	return &CodecClient{cc: cc, timeout: timeout}
}
// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client opened it.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

// #region embed
// Embed sends text to the sidecar and returns its embedding.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, EmbedMethod, wrapperspb.String(text), out); err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}

	vec := make([]float32, len(out.GetValues()))
	for i, v := range out.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("embed rpc: element %d is not a number", i)
		}
		vec[i] = float32(n.NumberValue)
	}
	return vec, nil
}
// #endregion embed

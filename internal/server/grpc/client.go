package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MeterClient calls a remote MeterServer
type MeterClient struct {
	cc grpc.ClientConnInterface
}

// NewMeterClient creates a client over an established connection
func NewMeterClient(cc grpc.ClientConnInterface) *MeterClient {
	return &MeterClient{cc: cc}
}

func (c *MeterClient) invoke(ctx context.Context, method string, in any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MeterClient) GetState(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetState", &emptypb.Empty{}, opts...)
}

func (c *MeterClient) ListDevices(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListDevices", &emptypb.Empty{}, opts...)
}

func (c *MeterClient) Start(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Start", &emptypb.Empty{}, opts...)
}

func (c *MeterClient) Submit(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Submit", &emptypb.Empty{}, opts...)
}

func (c *MeterClient) Again(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Again", &emptypb.Empty{}, opts...)
}

func (c *MeterClient) Abort(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Abort", &emptypb.Empty{}, opts...)
}

func (c *MeterClient) SwitchDevice(ctx context.Context, deviceID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "SwitchDevice", wrapperspb.String(deviceID), opts...)
}

package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/emmett/crowdmeter/internal/audio"
	"github.com/emmett/crowdmeter/internal/client"
	"github.com/emmett/crowdmeter/internal/meter"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "crowdmeter.v1.Meter"

// MeterServer is the remote control surface of a running meter. Every
// call answers with the meter state after the event was applied.
type MeterServer interface {
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListDevices(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Submit(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Again(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Abort(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SwitchDevice(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// MeterService implements MeterServer over a meter.Runner
type MeterService struct {
	runner *meter.Runner
}

// NewMeterService creates a new meter service
func NewMeterService(runner *meter.Runner) *MeterService {
	return &MeterService{runner: runner}
}

func (s *MeterService) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return stateStruct(s.runner.State())
}

func (s *MeterService) ListDevices(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	devices := s.runner.Devices()
	list := make([]any, 0, len(devices))
	for _, d := range devices {
		list = append(list, map[string]any{"id": d.ID, "label": d.Label})
	}

	st := s.runner.State()
	return structpb.NewStruct(map[string]any{
		"devices":  list,
		"selected": st.DeviceID,
	})
}

// Start initializes capture when needed, then begins the countdown
func (s *MeterService) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	err := s.runner.Do(ctx, func(ctx context.Context, m *meter.Machine) error {
		switch m.Snapshot().Phase {
		case meter.PhaseIdle, meter.PhaseError, meter.PhasePermissionDenied:
			if err := m.Init(ctx); err != nil {
				return err
			}
		}
		return m.Start(ctx)
	})
	return s.reply(err)
}

func (s *MeterService) Submit(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.reply(s.runner.Submit(ctx))
}

func (s *MeterService) Again(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.reply(s.runner.Again(ctx))
}

func (s *MeterService) Abort(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.reply(s.runner.Abort(ctx))
}

func (s *MeterService) SwitchDevice(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.reply(s.runner.SwitchDevice(ctx, req.GetValue()))
}

func (s *MeterService) reply(err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return stateStruct(s.runner.State())
}

func stateStruct(st meter.State) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{
		"phase":        st.Phase.String(),
		"device_id":    st.DeviceID,
		"level":        st.Level,
		"seconds_left": st.SecondsLeft,
		"elapsed":      st.Elapsed,
		"energy":       st.Energy,
		"peak":         st.Peak,
		"score":        st.Score,
		"reason":       st.Reason,
		"submit_error": st.SubmitError,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode state: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, meter.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, audio.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, client.ErrSubmissionFailed), errors.Is(err, meter.ErrRunnerStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// RegisterMeterServer registers srv on s
func RegisterMeterServer(s grpc.ServiceRegistrar, srv MeterServer) {
	s.RegisterService(&meterServiceDesc, srv)
}

type unaryCall func(srv MeterServer, ctx context.Context, req proto.Message) (proto.Message, error)

func unaryHandler(method string, newReq func() proto.Message, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MeterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(MeterServer), ctx, req.(proto.Message))
		})
	}
}

func newEmpty() proto.Message { return new(emptypb.Empty) }

func emptyMethod(name string, fn func(MeterServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: unaryHandler(name, newEmpty, func(srv MeterServer, ctx context.Context, req proto.Message) (proto.Message, error) {
			return fn(srv, ctx, req.(*emptypb.Empty))
		}),
	}
}

var meterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeterServer)(nil),
	Methods: []grpc.MethodDesc{
		emptyMethod("GetState", MeterServer.GetState),
		emptyMethod("ListDevices", MeterServer.ListDevices),
		emptyMethod("Start", MeterServer.Start),
		emptyMethod("Submit", MeterServer.Submit),
		emptyMethod("Again", MeterServer.Again),
		emptyMethod("Abort", MeterServer.Abort),
		{
			MethodName: "SwitchDevice",
			Handler: unaryHandler("SwitchDevice", func() proto.Message { return new(wrapperspb.StringValue) },
				func(srv MeterServer, ctx context.Context, req proto.Message) (proto.Message, error) {
					return srv.SwitchDevice(ctx, req.(*wrapperspb.StringValue))
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crowdmeter/v1/meter.proto",
}

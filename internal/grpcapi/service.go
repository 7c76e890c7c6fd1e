package grpcapi

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Full method names of the winlog.v1.EventLog service.
const (
	ServiceName        = "winlog.v1.EventLog"
	ListChannelsMethod = "/" + ServiceName + "/ListChannels"
	ReadMethod         = "/" + ServiceName + "/Read"
)

// EventLogServer is the server API of winlog.v1.EventLog.
type EventLogServer interface {
	ListChannels(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Read(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes winlog.v1.EventLog for registration with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventLogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListChannels", Handler: listChannelsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Read", Handler: readHandler, ServerStreams: true},
	},
	Metadata: "winlog/v1/eventlog.proto",
}

func listChannelsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventLogServer).ListChannels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListChannelsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventLogServer).ListChannels(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func readHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EventLogServer).Read(in, stream)
}

// eventLogService serves winlog.v1.EventLog from a service.Service.
type eventLogService struct {
	svc    *service.Service
	logger *slog.Logger
}

func (e *eventLogService) ListChannels(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encodeChannels(e.svc.Channels().Channels()), nil
}

// Read streams records until the channel ends or the limit is reached. Each
// Send blocks under flow control, so a slow client slows the native read.
func (e *eventLogService) Read(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()

	req, err := decodeReadRequest(in)
	if err != nil {
		return toStatus(err)
	}

	session, err := e.svc.Open(ctx, clientIDFromContext(ctx), req.Channel, req.Options)
	if err != nil {
		return toStatus(err)
	}
	defer session.Close()

	var sent int
	for {
		rec, err := session.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if winlog.IsNativeError(err) {
				log.FromContext(ctx, e.logger).Warn("read failed",
					slog.String(log.SessionIDKey, session.ID()), log.Err(err))
			}
			return toStatus(err)
		}

		if err := stream.SendMsg(encodeRecord(rec)); err != nil {
			return err
		}
		sent++
		if req.Limit > 0 && sent >= req.Limit {
			return nil
		}
	}
}

// toStatus maps service and bridge errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case winlog.IsConfigError(err), errors.Is(err, nativereader.ErrInvalidQuery):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrTooManySessions):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, service.ErrServiceClosed), winlog.IsNativeError(err):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// Verify that eventLogService implements EventLogServer at compile time
var _ EventLogServer = (*eventLogService)(nil)

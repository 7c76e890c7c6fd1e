package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("stream closed")

// Client calls winlog.v1.EventLog
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient creates a client for target. The connection is plaintext unless
// opts supply transport credentials. An empty token sends no authorization.
func NewClient(target, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", target, err)
	}
	return &Client{conn: conn, token: token}, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, AuthorizationKey, "Bearer "+c.token)
}

// ListChannels returns the channels the server can read
func (c *Client) ListChannels(ctx context.Context) ([]winlog.ChannelInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), ListChannelsMethod, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	return decodeChannels(out), nil
}

// Read opens a server stream over channel. The returned stream must be closed.
func (c *Client) Read(ctx context.Context, req ReadRequest) (*RecordStream, error) {
	ctx, cancel := context.WithCancel(c.outgoing(ctx))
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], ReadMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(encodeReadRequest(req)); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	return &RecordStream{stream: stream, cancel: cancel}, nil
}

// RecordStream is the client side of a Read call
type RecordStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	err    error
}

// Next returns the next record, io.EOF when the server ended the stream
// cleanly, or a status error.
func (s *RecordStream) Next() (*winlog.EventRecord, error) {
	if s.err != nil {
		return nil, s.err
	}

	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		s.fail(err)
		return nil, err
	}
	rec, err := decodeRecord(msg)
	if err != nil {
		err = fmt.Errorf("decode record: %w", err)
		s.fail(err)
		return nil, err
	}
	return rec, nil
}

func (s *RecordStream) fail(err error) {
	s.err = err
	if !errors.Is(err, io.EOF) {
		s.cancel()
	}
}

// Close cancels the call. The server closes its session in response.
func (s *RecordStream) Close() error {
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	s.cancel()
	return nil
}

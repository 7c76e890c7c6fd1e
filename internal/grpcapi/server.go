// Package grpcapi exposes read sessions over gRPC as the winlog.v1.EventLog
// service: a unary ListChannels call and a server-streaming Read call.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
)

const (
	// AuthorizationKey is the metadata key carrying the bearer token
	AuthorizationKey = "authorization"
	// RequestIDKey is the metadata key carrying the request ID
	RequestIDKey = "x-request-id"
	// DevClientID is the client ID assigned to calls when authentication is disabled
	DevClientID = "dev-client"
)

var (
	// ErrNilService is returned when creating a server without a service
	ErrNilService = errors.New("service cannot be nil")
	// ErrMissingSecret is returned when authentication is enabled without a secret
	ErrMissingSecret = errors.New("secret key is required unless authentication is disabled")
)

// Config holds gRPC server configuration
type Config struct {
	// Addr is the listen address, e.g. ":9090"
	Addr string

	// SecretKey verifies bearer tokens. It must match the HTTP API's key.
	SecretKey string

	// NoAuth accepts calls without a token
	NoAuth bool

	// Logger receives call logs
	Logger *slog.Logger
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.SecretKey == "" && !c.NoAuth {
		return ErrMissingSecret
	}
	return nil
}

// Server serves winlog.v1.EventLog
type Server struct {
	grpc    *grpc.Server
	jwtAuth *auth.JWTAuth
	config  Config
	logger  *slog.Logger
}

// NewServer creates a gRPC server over svc. Extra options are passed to grpc.NewServer.
func NewServer(svc *service.Service, config Config, opts ...grpc.ServerOption) (*Server, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		jwtAuth: auth.NewJWTAuth(config.SecretKey, 0),
		config:  config,
		logger:  log.WithComponent(config.Logger, "grpcapi"),
	}

	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}, opts...)
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&ServiceDesc, &eventLogService{svc: svc, logger: s.logger})
	return s, nil
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.config.Addr
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(l net.Listener) error {
	return s.grpc.Serve(l)
}

// Stop waits for in-flight calls to finish, and cancels them once ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

type clientIDKey struct{}

func clientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// authenticate validates the bearer token and stores the caller in the context
func (s *Server) authenticate(ctx context.Context) (context.Context, error) {
	if s.config.NoAuth {
		return context.WithValue(ctx, clientIDKey{}, DevClientID), nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(AuthorizationKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil, status.Error(codes.Unauthenticated, "authorization metadata required")
	}

	claims, err := s.jwtAuth.ValidateToken(values[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return context.WithValue(ctx, clientIDKey{}, claims.ClientID), nil
}

// withRequestLogger stores a logger tagged with the caller's request ID
func (s *Server) withRequestLogger(ctx context.Context) context.Context {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 {
			id = ids[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return log.NewContext(ctx, s.logger.With(slog.String(log.RequestIDKey, id)))
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	ctx = s.withRequestLogger(ctx)
	ctx, err := s.authenticate(ctx)
	var resp any
	if err == nil {
		resp, err = handler(ctx, req)
	}
	s.logCall(ctx, info.FullMethod, start, err)
	return resp, err
}

func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	ctx := s.withRequestLogger(ss.Context())
	ctx, err := s.authenticate(ctx)
	if err == nil {
		err = handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
	s.logCall(ctx, info.FullMethod, start, err)
	return err
}

func (s *Server) logCall(ctx context.Context, method string, start time.Time, err error) {
	logger := s.logger
	if ctx != nil {
		logger = log.FromContext(ctx, s.logger)
	}
	code := status.Code(err)
	attrs := []any{
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("duration", time.Since(start)),
	}
	switch code {
	case codes.OK, codes.Canceled, codes.InvalidArgument, codes.Unauthenticated, codes.ResourceExhausted:
		logger.Info("grpc call", attrs...)
	default:
		logger.Warn("grpc call", append(attrs, log.Err(err))...)
	}
}

// contextStream overrides the context of a server stream
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context {
	return s.ctx
}

// Package httpapi exposes read sessions over HTTP: a JSON batch API and a
// server-sent events stream per channel, protected by JWT bearer tokens.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
)

const (
	channelsPath = "/api/v1/channels"
	eventsSuffix = "/events"
)

var (
	// ErrNilService is returned when creating a server without a service
	ErrNilService = errors.New("service cannot be nil")
)

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string

	// SecretKey signs tokens. When empty a random per-process key is used.
	SecretKey string

	// NoAuth bypasses token checks on non-admin endpoints
	NoAuth bool

	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration

	// Clients restricts login to known clients when non-empty
	Clients map[string]auth.Client

	// BatchLimit is the default number of records in a JSON batch
	BatchLimit int

	// MaxBatchLimit caps the limit parameter of a JSON batch
	MaxBatchLimit int

	// KeepaliveInterval is the SSE comment ping period
	KeepaliveInterval time.Duration

	// Logger receives request logs
	Logger *slog.Logger
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SecretKey == "" {
		c.SecretKey = uuid.NewString()
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = auth.DefaultTokenTTL
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.MaxBatchLimit <= 0 {
		c.MaxBatchLimit = 1000
	}
	if c.BatchLimit > c.MaxBatchLimit {
		c.BatchLimit = c.MaxBatchLimit
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
}

// Server represents the HTTP API server
type Server struct {
	svc        *service.Service
	jwtAuth    *auth.JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	config     Config
}

// NewServer creates a new HTTP API server
func NewServer(svc *service.Service, config Config) (*Server, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	config.SetDefaults()
	config.Logger = log.WithComponent(config.Logger, "httpapi")

	jwtAuth := auth.NewJWTAuth(config.SecretKey, config.TokenTTL)
	authenticator := auth.NewAuthenticator(config.Clients)

	server := &Server{
		svc:        svc,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(svc, jwtAuth, authenticator, config),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, config.Logger),
		config:     config,
	}

	// Streams are long lived, so there is no write timeout
	server.server = &http.Server{
		Addr:              config.Addr,
		Handler:           server.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return server, nil
}

// Handler returns the root handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.config.Addr
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Stop gracefully stops the HTTP server. Open streams end when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return s.server.Close()
	}
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.RequestID(
			s.middleware.Recovery(
				s.middleware.Logging(
					s.middleware.CORS(
						s.middleware.ContentType(handler)))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.method(http.MethodPost, s.handlers.Login)))

	// Channel endpoints (auth required)
	mux.Handle(channelsPath, withMiddleware(s.middleware.AuthRequired(s.method(http.MethodGet, s.handlers.ListChannels))))
	mux.Handle(channelsPath+"/", withMiddleware(s.middleware.AuthRequired(s.method(http.MethodGet, s.handleChannelEvents))))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/sessions", withMiddleware(s.middleware.AdminRequired(s.method(http.MethodGet, s.handlers.AdminListSessions))))
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.method(http.MethodGet, s.handlers.AdminGetStats))))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.method(http.MethodGet, s.handlers.Health)))

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// method rejects requests whose HTTP method differs from want
func (s *Server) method(want string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != want {
			w.Header().Set("Allow", want)
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleChannelEvents parses /api/v1/channels/{name}/events.
// Channel names may contain slashes (native identifiers such as
// "Microsoft-Windows-Sysmon/Operational").
func (s *Server) handleChannelEvents(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, channelsPath+"/")
	if !strings.HasSuffix(rest, eventsSuffix) {
		writeError(w, "Invalid path, expected /api/v1/channels/{name}/events", http.StatusNotFound)
		return
	}

	channel := strings.TrimSuffix(rest, eventsSuffix)
	if channel == "" {
		writeError(w, "Channel name required", http.StatusBadRequest)
		return
	}

	s.handlers.ChannelEvents(w, r, channel)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "winlog HTTP API",
		"version":     "1.0.0",
		"description": "Pull-based streaming of event-log channels",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"channels": map[string]string{
				"list":   "GET /api/v1/channels",
				"events": "GET /api/v1/channels/{name}/events?direction={forward|reverse}&query={cel}&limit={n}",
				"stream": "GET /api/v1/channels/{name}/events with Accept: text/event-stream",
			},
			"admin": map[string]string{
				"sessions": "GET /api/v1/admin/sessions",
				"stats":    "GET /api/v1/admin/stats",
			},
			"health": "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for channel and admin endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

const (
	// ClientIDKey is the context key for the authenticated client ID
	ClientIDKey ContextKey = "client_id"
	// IsAdminKey is the context key for admin status
	IsAdminKey ContextKey = "is_admin"
	// ClaimsKey is the context key for JWT claims
	ClaimsKey ContextKey = "jwt_claims"
	// RequestIDKey is the context key for the request ID
	RequestIDKey ContextKey = "request_id"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// DevClientID is the client ID assigned to requests when authentication is disabled
const DevClientID = "dev-client"

// Middleware provides HTTP middleware functions
type Middleware struct {
	jwtAuth *auth.JWTAuth
	noAuth  bool // Development mode: bypass authentication
	logger  *slog.Logger
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(jwtAuth *auth.JWTAuth, noAuth bool, logger *slog.Logger) *Middleware {
	return &Middleware{
		jwtAuth: jwtAuth,
		noAuth:  noAuth,
		logger:  logger,
	}
}

// AuthRequired middleware requires valid JWT authentication
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.noAuth {
			next(w, r.WithContext(withClaims(r.Context(), &auth.Claims{ClientID: DevClientID})))
			return
		}

		token := m.extractToken(r)
		if token == "" {
			m.writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			m.writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(withClaims(r.Context(), claims)))
	}
}

// AdminRequired middleware requires admin privileges.
// Admin endpoints are never bypassed, even in no-auth mode.
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := m.extractToken(r)
		if token == "" {
			m.writeError(w, "Authorization header required for admin access", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			m.writeError(w, "Invalid token for admin access: "+err.Error(), http.StatusUnauthorized)
			return
		}

		if !claims.IsAdmin {
			m.writeError(w, "Admin privileges required", http.StatusForbidden)
			return
		}

		next(w, r.WithContext(withClaims(r.Context(), claims)))
	}
}

// RequestID assigns a request ID (reusing a valid inbound one) and stores a
// request-scoped logger in the context.
func (m *Middleware) RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		ctx = log.NewContext(ctx, m.logger.With(slog.String(log.RequestIDKey, id)))
		next(w, r.WithContext(ctx))
	}
}

// CORS middleware adds CORS headers for browser compatibility
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, "+RequestIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// ContentType middleware sets the default content type to JSON
func (m *Middleware) ContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// Logging middleware logs each request once it completes
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)

		logger := log.FromContext(r.Context(), m.logger)
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)),
		}
		if sw.status >= http.StatusInternalServerError {
			logger.Warn("http request", attrs...)
			return
		}
		logger.Info("http request", attrs...)
	}
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.FromContext(r.Context(), m.logger).Error("panic in handler",
					slog.Any("panic", rec), slog.String("path", r.URL.Path))
				m.writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// statusWriter records the response status while keeping streaming support.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Helper functions

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, ClientIDKey, claims.ClientID)
	ctx = context.WithValue(ctx, IsAdminKey, claims.IsAdmin)
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return ctx
}

// extractToken extracts the JWT token from the Authorization header
func (m *Middleware) extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Support both "Bearer token" and "token" formats
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// writeError writes an error response as JSON
func (m *Middleware) writeError(w http.ResponseWriter, message string, statusCode int) {
	writeError(w, message, statusCode)
}

// GetClientID extracts the client ID from the request context
func GetClientID(r *http.Request) string {
	if clientID, ok := r.Context().Value(ClientIDKey).(string); ok {
		return clientID
	}
	return ""
}

// IsAdmin checks if the current request is from an admin user
func IsAdmin(r *http.Request) bool {
	if isAdmin, ok := r.Context().Value(IsAdminKey).(bool); ok {
		return isAdmin
	}
	return false
}

// GetClaims extracts the JWT claims from the request context
func GetClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(ClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

package httpclient

import (
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the winlog HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Password is sent at login when the server keeps a client registry
	Password string

	// Timeout for non-streaming HTTP requests. Streams are bounded by their context only.
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// ReadRequest selects what an events call reads
type ReadRequest struct {
	Direction winlog.Direction
	Query     string
	// Limit caps the number of records, 0 for the server default (batches) or no limit (streams)
	Limit int
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChannelsResponse lists the readable channels
type ChannelsResponse struct {
	Channels []winlog.ChannelInfo `json:"channels"`
}

// EventsResponse is a bounded batch read from one channel
type EventsResponse struct {
	Channel   string                `json:"channel"`
	Direction winlog.Direction      `json:"direction"`
	Query     string                `json:"query,omitempty"`
	Events    []*winlog.EventRecord `json:"events"`
	Count     int                   `json:"count"`
	Exhausted bool                  `json:"exhausted"`
}

// StreamEnd is the payload of the final "end" event of a stream
type StreamEnd struct {
	Delivered uint64 `json:"delivered"`
	Reason    string `json:"reason"`
}

// SessionInfo represents an open read session on the server
type SessionInfo struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"clientId"`
	Channel   string           `json:"channel"`
	NativeID  string           `json:"nativeId"`
	Direction winlog.Direction `json:"direction"`
	Query     string           `json:"query,omitempty"`
	State     string           `json:"state"`
	Delivered uint64           `json:"delivered"`
	CreatedAt time.Time        `json:"createdAt"`
}

// AdminSessionsResponse represents admin view of open sessions
type AdminSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// AdminStatsResponse represents service statistics
type AdminStatsResponse struct {
	SessionsOpened    uint64 `json:"sessionsOpened"`
	SessionsActive    int    `json:"sessionsActive"`
	SessionsExhausted uint64 `json:"sessionsExhausted"`
	SessionsFailed    uint64 `json:"sessionsFailed"`
	SessionsCancelled uint64 `json:"sessionsCancelled"`
	SessionsRejected  uint64 `json:"sessionsRejected"`
	RecordsDelivered  uint64 `json:"recordsDelivered"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy        bool   `json:"healthy"`
	ReaderHealthy  bool   `json:"readerHealthy"`
	ActiveSessions int    `json:"activeSessions"`
	MaxSessions    int    `json:"maxSessions"`
	Channels       int    `json:"channels"`
	Message        string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for error responses, including "error" events ending a stream
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

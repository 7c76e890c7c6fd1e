package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Password string `json:"password,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChannelInfo describes one readable channel
type ChannelInfo struct {
	Name     string `json:"name"`
	NativeID string `json:"nativeId"`
	Custom   bool   `json:"custom,omitempty"`
}

// ChannelsResponse lists the readable channels
type ChannelsResponse struct {
	Channels []ChannelInfo `json:"channels"`
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

// StreamEnd is the payload of the final "end" SSE event
type StreamEnd struct {
	Delivered uint64 `json:"delivered"`
	// Reason is "exhausted" when the channel ended, or "limit" when the requested limit was reached
	Reason string `json:"reason"`
}

// SessionInfo represents an open read session in admin listings
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

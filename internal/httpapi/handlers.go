package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
	"github.com/rmacdonaldsmith/winlog-go/internal/bridge"
	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	svc           *service.Service
	jwtAuth       *auth.JWTAuth
	authenticator *auth.Authenticator
	config        Config
	logger        *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service, jwtAuth *auth.JWTAuth, authenticator *auth.Authenticator, config Config) *Handlers {
	return &Handlers{
		svc:           svc,
		jwtAuth:       jwtAuth,
		authenticator: authenticator,
		config:        config,
		logger:        config.Logger,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	isAdmin, err := h.authenticator.Authenticate(req.ClientID, req.Password)
	if err != nil {
		log.FromContext(r.Context(), h.logger).Warn("login rejected", slog.String(log.ClientIDKey, req.ClientID))
		writeError(w, "Invalid client credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Channel endpoints

// ListChannels handles GET /api/v1/channels
func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.Channels().Channels()
	resp := ChannelsResponse{Channels: make([]ChannelInfo, 0, len(infos))}
	for _, c := range infos {
		resp.Channels = append(resp.Channels, ChannelInfo{Name: c.Name, NativeID: c.NativeID, Custom: c.Custom})
	}
	writeJSON(w, resp, http.StatusOK)
}

// readRequest holds the parsed parameters of an events request.
type readRequest struct {
	channel string
	opts    winlog.ReadOptions
	limit   int
}

// parseReadRequest parses direction, query and limit. A zero limit means
// unlimited for streams and the configured default for batches; batches are
// capped at MaxBatchLimit.
func (h *Handlers) parseReadRequest(r *http.Request, channel string) (readRequest, error) {
	q := r.URL.Query()
	req := readRequest{channel: channel, opts: winlog.ReadOptions{Query: q.Get("query")}}

	if q.Has("direction") {
		d, err := winlog.ParseDirection(q.Get("direction"))
		if err != nil {
			return req, err
		}
		req.opts.Direction = d
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, &winlog.ConfigError{Field: "limit", Value: raw, Err: errors.New("must be a non-negative integer")}
		}
		req.limit = n
	}
	return req, nil
}

// ChannelEvents handles GET /api/v1/channels/{name}/events.
// Clients accepting text/event-stream get an SSE stream; others get a JSON batch.
func (h *Handlers) ChannelEvents(w http.ResponseWriter, r *http.Request, channel string) {
	req, err := h.parseReadRequest(r, channel)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if wantsEventStream(r) {
		h.streamEvents(w, r, req)
		return
	}
	h.readBatch(w, r, req)
}

func (h *Handlers) readBatch(w http.ResponseWriter, r *http.Request, req readRequest) {
	limit := min(req.limit, h.config.MaxBatchLimit)
	if limit == 0 {
		limit = h.config.BatchLimit
	}

	batch, err := h.svc.ReadBatch(r.Context(), GetClientID(r), req.channel, req.opts, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	direction := req.opts.Direction
	if direction == "" {
		direction = h.svc.DefaultDirection()
	}
	writeJSON(w, EventsResponse{
		Channel:   req.channel,
		Direction: direction,
		Query:     req.opts.Query,
		Events:    batch.Records,
		Count:     len(batch.Records),
		Exhausted: batch.Exhausted,
	}, http.StatusOK)
}

// pulled is one Next outcome forwarded from the pulling goroutine.
type pulled struct {
	rec *winlog.EventRecord
	err error
}

// streamEvents writes records as SSE frames until the channel ends, the limit
// is reached, the session fails or the client disconnects. Validation errors
// are reported as plain JSON errors before any frame is written.
func (h *Handlers) streamEvents(w http.ResponseWriter, r *http.Request, req readRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := log.FromContext(ctx, h.logger)

	session, err := h.svc.Open(ctx, GetClientID(r), req.channel, req.opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer session.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", session.ID())
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": session %s on channel %s\n\n", session.ID(), req.channel)
	flush(w)

	// One record in flight: the puller blocks on the unbuffered channel until
	// the writer takes the previous record, so a slow client slows the reader.
	results := make(chan pulled)
	go h.pull(ctx, session, results)

	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	var delivered uint64
	for {
		select {
		case <-ctx.Done():
			logger.Debug("stream client disconnected", slog.String(log.SessionIDKey, session.ID()))
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flush(w)

		case p := <-results:
			switch {
			case errors.Is(p.err, io.EOF):
				h.writeSSEEvent(w, "end", StreamEnd{Delivered: delivered, Reason: "exhausted"})
				return
			case p.err != nil:
				status := statusFor(p.err)
				h.writeSSEEvent(w, "error", ErrorResponse{Error: http.StatusText(status), Message: p.err.Error(), Code: status})
				return
			}

			if err := h.writeSSEData(w, p.rec); err != nil {
				return
			}
			delivered++
			if req.limit > 0 && delivered >= uint64(req.limit) {
				h.writeSSEEvent(w, "end", StreamEnd{Delivered: delivered, Reason: "limit"})
				return
			}
		}
	}
}

// pull forwards session results until the first terminal one.
func (h *Handlers) pull(ctx context.Context, session *bridge.Session, out chan<- pulled) {
	for {
		rec, err := session.Next(ctx)
		select {
		case out <- pulled{rec: rec, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Admin endpoints

// AdminListSessions handles GET /api/v1/admin/sessions
func (h *Handlers) AdminListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.Sessions()
	resp := AdminSessionsResponse{Sessions: make([]SessionInfo, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, SessionInfo{
			ID:        s.ID,
			ClientID:  s.ClientID,
			Channel:   s.Channel,
			NativeID:  s.NativeID,
			Direction: s.Direction,
			Query:     s.Query,
			State:     s.State.String(),
			Delivered: s.Delivered,
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Stats()
	writeJSON(w, AdminStatsResponse{
		SessionsOpened:    st.Opened,
		SessionsActive:    st.Active,
		SessionsExhausted: st.Exhausted,
		SessionsFailed:    st.Failed,
		SessionsCancelled: st.Cancelled,
		SessionsRejected:  st.Rejected,
		RecordsDelivered:  st.RecordsDelivered,
		UptimeSeconds:     int64(st.Uptime / time.Second),
	}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, HealthResponse{
		Healthy:        health.Healthy,
		ReaderHealthy:  health.ReaderHealthy,
		ActiveSessions: health.ActiveSessions,
		MaxSessions:    health.MaxSessions,
		Channels:       health.Channels,
		Message:        health.Message,
	}, statusCode)
}

// Helper methods

// statusFor maps service and bridge errors to HTTP status codes.
// A query the reader rejects is the client's fault even though it surfaces
// as a native error.
func statusFor(err error) int {
	switch {
	case winlog.IsConfigError(err), errors.Is(err, nativereader.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrServiceClosed):
		return http.StatusServiceUnavailable
	case winlog.IsNativeError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with the status statusFor assigns it
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context(), h.logger).Warn("read failed", log.Err(err))
	}
	writeError(w, err.Error(), status)
}

// validateJSON validates that the request has valid JSON content-type
func (h *Handlers) validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}

// writeSSEData writes a record as an SSE data frame tagged with its EventRecordID
func (h *Handlers) writeSSEData(w http.ResponseWriter, rec *winlog.EventRecord) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", rec.EventRecordID, jsonData); err != nil {
		return err
	}
	flush(w)
	return nil
}

// writeSSEEvent writes a named SSE event
func (h *Handlers) writeSSEEvent(w http.ResponseWriter, event string, payload interface{}) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	flush(w)
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.URL.Query().Get("stream") == "true"
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

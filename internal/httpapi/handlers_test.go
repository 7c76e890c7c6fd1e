package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

func loginBody(t *testing.T, clientID, password string) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(AuthRequest{ClientID: clientID, Password: password})
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// TestLogin tests the POST /api/v1/auth/login endpoint
func TestLogin(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})

	t.Run("open_registry", func(t *testing.T) {
		rr := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", loginBody(t, "test-client", ""), "Content-Type", "application/json")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := decodeBody[AuthResponse](t, rr)
		assert.Equal(t, "test-client", resp.ClientID)
		assert.False(t, resp.IsAdmin)
		assert.True(t, resp.ExpiresAt.After(time.Now()))

		claims, err := setup.Server.jwtAuth.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "test-client", claims.ClientID)
	})

	t.Run("admin_client", func(t *testing.T) {
		rr := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", loginBody(t, auth.AdminClientID, ""), "Content-Type", "application/json")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, decodeBody[AuthResponse](t, rr).IsAdmin)
	})

	t.Run("wrong_content_type", func(t *testing.T) {
		rr := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", loginBody(t, "test-client", ""), "Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid_body", func(t *testing.T) {
		rr := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", strings.NewReader("{"), "Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("short_client_id", func(t *testing.T) {
		rr := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", loginBody(t, "x", ""), "Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeBody[ErrorResponse](t, rr).Message, "at least 2 characters")
	})
}

func TestLogin_Registry(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	setup := NewTestServerSetup(t, nil, Config{Clients: map[string]auth.Client{
		"collector": {PasswordHash: hash},
		"ops":       {PasswordHash: hash, Admin: true},
	}})

	tests := []struct {
		name     string
		clientID string
		password string
		status   int
		admin    bool
	}{
		{"valid_password", "collector", "s3cret", http.StatusOK, false},
		{"admin_flag", "ops", "s3cret", http.StatusOK, true},
		{"wrong_password", "collector", "nope", http.StatusUnauthorized, false},
		{"unknown_client", "stranger", "s3cret", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", loginBody(t, tt.clientID, tt.password), "Content-Type", "application/json")
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.admin, decodeBody[AuthResponse](t, rr).IsAdmin)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})

	t.Run("missing_token", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid_token", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels", "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("foreign_secret", func(t *testing.T) {
		other := auth.NewJWTAuth("some-other-secret", time.Hour)
		token, _, err := other.GenerateToken("client", false)
		require.NoError(t, err)
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no_auth_mode", func(t *testing.T) {
		dev := NewTestServerSetup(t, nil, Config{NoAuth: true})
		rr := dev.Do(t, http.MethodGet, "/api/v1/channels", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		// Admin endpoints are never bypassed
		rr = dev.Do(t, http.MethodGet, "/api/v1/admin/stats", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

// TestListChannels tests the GET /api/v1/channels endpoint
func TestListChannels(t *testing.T) {
	setup := NewTestServerSetup(t, service.NewConfig().WithChannels(map[string]string{
		"Sysmon": "Microsoft-Windows-Sysmon/Operational",
	}), Config{})
	token := setup.GenerateTestToken(t, "lister", false)

	rr := setup.Do(t, http.MethodGet, "/api/v1/channels", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[ChannelsResponse](t, rr)
	byName := make(map[string]ChannelInfo, len(resp.Channels))
	for _, c := range resp.Channels {
		byName[c.Name] = c
	}
	assert.Len(t, resp.Channels, len(winlog.DefaultChannels.Names())+1)
	assert.Equal(t, "Directory Service", byName[winlog.DirectoryService].NativeID)
	assert.Equal(t, ChannelInfo{Name: "Sysmon", NativeID: "Microsoft-Windows-Sysmon/Operational", Custom: true}, byName["Sysmon"])
}

// TestChannelEvents_Batch tests JSON batch reads
func TestChannelEvents_Batch(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{BatchLimit: 3, MaxBatchLimit: 4})
	token := setup.GenerateTestToken(t, "batch-client", false)

	ids := func(resp EventsResponse) []uint64 {
		out := make([]uint64, 0, len(resp.Events))
		for _, rec := range resp.Events {
			out = append(out, rec.EventRecordID)
		}
		return out
	}

	tests := []struct {
		name      string
		query     string
		direction winlog.Direction
		ids       []uint64
		exhausted bool
	}{
		{"default_is_reverse_with_default_limit", "", winlog.Reverse, []uint64{5, 4, 3}, false},
		{"forward", "direction=forward", winlog.Forward, []uint64{1, 2, 3}, false},
		{"limit_capped", "direction=forward&limit=50", winlog.Forward, []uint64{1, 2, 3, 4}, false},
		{"explicit_limit", "direction=forward&limit=2", winlog.Forward, []uint64{1, 2}, false},
		{"query_filter", "direction=forward&query=" + url.QueryEscape("eventId == 4625"), winlog.Forward, []uint64{2, 4}, true},
		{"no_matches", "query=" + url.QueryEscape("eventId == 1"), winlog.Reverse, []uint64{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Security/events?"+tt.query, token, nil)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			resp := decodeBody[EventsResponse](t, rr)
			assert.Equal(t, "Security", resp.Channel)
			assert.Equal(t, tt.direction, resp.Direction)
			assert.Equal(t, tt.ids, ids(resp))
			assert.Equal(t, len(tt.ids), resp.Count)
			assert.Equal(t, tt.exhausted, resp.Exhausted)
		})
	}

	t.Run("exhausted_when_short", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Application/events", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[EventsResponse](t, rr)
		assert.Equal(t, 2, resp.Count)
		assert.True(t, resp.Exhausted)
	})

	t.Run("batch_sessions_are_released", func(t *testing.T) {
		require.Eventually(t, func() bool { return setup.Service.Stats().Active == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}

func TestChannelEvents_Errors(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})
	token := setup.GenerateTestToken(t, "error-client", false)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"bad_direction", "/api/v1/channels/Security/events?direction=sideways", http.StatusBadRequest},
		{"bad_limit", "/api/v1/channels/Security/events?limit=-1", http.StatusBadRequest},
		{"non_numeric_limit", "/api/v1/channels/Security/events?limit=ten", http.StatusBadRequest},
		{"unknown_channel", "/api/v1/channels/Bogus/events", http.StatusBadRequest},
		{"invalid_query", "/api/v1/channels/Security/events?query=" + url.QueryEscape("eventId =="), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := setup.Do(t, http.MethodGet, tt.path, token, nil)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.status, decodeBody[ErrorResponse](t, rr).Code)
		})
	}

	t.Run("native_failure", func(t *testing.T) {
		setup.Reader.FailWith("Security", 1, errors.New("log store corrupted"))
		defer setup.Reader.FailWith("Security", 0, nil)

		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Security/events", token, nil)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Contains(t, decodeBody[ErrorResponse](t, rr).Message, "log store corrupted")
	})

	t.Run("too_many_sessions", func(t *testing.T) {
		capped := NewTestServerSetup(t, service.NewConfig().WithMaxSessions(1), Config{})
		held, err := capped.Service.Open(context.Background(), "holder", "Security", winlog.ReadOptions{})
		require.NoError(t, err)
		defer held.Close()

		rr := capped.Do(t, http.MethodGet, "/api/v1/channels/Security/events", capped.GenerateTestToken(t, "c", false), nil)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	})

	t.Run("service_closed", func(t *testing.T) {
		closed := NewTestServerSetup(t, nil, Config{})
		require.NoError(t, closed.Service.Close())

		rr := closed.Do(t, http.MethodGet, "/api/v1/channels/Security/events", closed.GenerateTestToken(t, "c", false), nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

// TestChannelEvents_Stream tests the SSE rendition of the events endpoint
func TestChannelEvents_Stream(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})
	token := setup.GenerateTestToken(t, "stream-client", false)

	t.Run("drains_channel", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Security/events?direction=forward", token, nil, streamHeaders()...)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
		assert.NotEmpty(t, rr.Header().Get("X-Session-ID"))

		frames := readSSE(rr.Body)
		require.Len(t, frames, 6)
		for i, f := range frames[:5] {
			assert.Equal(t, fmt.Sprint(i+1), f.ID)
			var rec winlog.EventRecord
			require.NoError(t, json.Unmarshal([]byte(f.Data), &rec))
			assert.Equal(t, uint64(i+1), rec.EventRecordID)
		}

		end := frames[5]
		assert.Equal(t, "end", end.Event)
		var payload StreamEnd
		require.NoError(t, json.Unmarshal([]byte(end.Data), &payload))
		assert.Equal(t, StreamEnd{Delivered: 5, Reason: "exhausted"}, payload)
	})

	t.Run("stream_query_param", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Application/events?stream=true", token, nil)
		frames := readSSE(rr.Body)
		require.Len(t, frames, 3)
		assert.Equal(t, "2", frames[0].ID, "reverse is the default")
	})

	t.Run("limit", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Security/events?limit=2", token, nil, streamHeaders()...)
		frames := readSSE(rr.Body)
		require.Len(t, frames, 3)
		assert.Equal(t, "5", frames[0].ID)
		assert.Equal(t, "4", frames[1].ID)
		assert.Equal(t, "end", frames[2].Event)
		assert.Contains(t, frames[2].Data, `"reason":"limit"`)
	})

	t.Run("native_failure", func(t *testing.T) {
		setup.Reader.FailWith("Security", 2, errors.New("handle revoked"))
		defer setup.Reader.FailWith("Security", 0, nil)

		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Security/events", token, nil, streamHeaders()...)
		frames := readSSE(rr.Body)
		require.Len(t, frames, 3)
		assert.Equal(t, "error", frames[2].Event)

		var payload ErrorResponse
		require.NoError(t, json.Unmarshal([]byte(frames[2].Data), &payload))
		assert.Equal(t, http.StatusBadGateway, payload.Code)
		assert.Contains(t, payload.Message, "handle revoked")
	})

	t.Run("validation_error_before_stream", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Bogus/events", token, nil, streamHeaders()...)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})

	t.Run("sessions_released", func(t *testing.T) {
		require.Eventually(t, func() bool { return setup.Service.Stats().Active == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}

func TestChannelEvents_StreamDisconnect(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})
	token := setup.GenerateTestToken(t, "leaver", false)

	ts := httptest.NewServer(setup.Server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/channels/Security/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Read the session comment, then walk away mid-stream
	buf := make([]byte, 16)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		st := setup.Service.Stats()
		return st.Active == 0 && st.Opened == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// TestAdminEndpoints tests the admin API
func TestAdminEndpoints(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})
	adminToken := setup.GenerateTestToken(t, "admin", true)
	userToken := setup.GenerateTestToken(t, "user", false)

	t.Run("requires_admin", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/admin/sessions", userToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = setup.Do(t, http.MethodGet, "/api/v1/admin/sessions", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("sessions", func(t *testing.T) {
		session, err := setup.Service.Open(context.Background(), "user", "Security", winlog.ReadOptions{Query: "level <= 4"})
		require.NoError(t, err)
		defer session.Close()

		rr := setup.Do(t, http.MethodGet, "/api/v1/admin/sessions", adminToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decodeBody[AdminSessionsResponse](t, rr)
		require.Len(t, resp.Sessions, 1)
		got := resp.Sessions[0]
		assert.Equal(t, session.ID(), got.ID)
		assert.Equal(t, "user", got.ClientID)
		assert.Equal(t, "Security", got.Channel)
		assert.Equal(t, winlog.Reverse, got.Direction)
		assert.Equal(t, "level <= 4", got.Query)
		assert.Equal(t, winlog.StateIdle.String(), got.State)
	})

	t.Run("stats", func(t *testing.T) {
		rr := setup.Do(t, http.MethodGet, "/api/v1/channels/Security/events?limit=2", userToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		require.Eventually(t, func() bool {
			stats := decodeBody[AdminStatsResponse](t, setup.Do(t, http.MethodGet, "/api/v1/admin/stats", adminToken, nil))
			return stats.SessionsActive == 0 && stats.RecordsDelivered == 2
		}, 2*time.Second, 5*time.Millisecond)

		stats := decodeBody[AdminStatsResponse](t, setup.Do(t, http.MethodGet, "/api/v1/admin/stats", adminToken, nil))
		assert.Equal(t, uint64(2), stats.SessionsOpened)
		assert.Equal(t, uint64(2), stats.SessionsCancelled)
	})
}

// TestHealth tests the GET /api/v1/health endpoint
func TestHealth(t *testing.T) {
	setup := NewTestServerSetup(t, nil, Config{})

	rr := setup.Do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decodeBody[HealthResponse](t, rr)
	assert.True(t, health.Healthy)
	assert.True(t, health.ReaderHealthy)
	assert.Equal(t, "all components healthy", health.Message)

	require.NoError(t, setup.Reader.Close())
	rr = setup.Do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	health = decodeBody[HealthResponse](t, rr)
	assert.False(t, health.ReaderHealthy)
}

func TestRecovery(t *testing.T) {
	m := NewMiddleware(auth.NewJWTAuth(testSecret, time.Hour), false, log.Nop())

	h := m.Recovery(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal server error", decodeBody[ErrorResponse](t, rr).Message)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"config", &winlog.ConfigError{Field: "channel", Err: winlog.ErrUnknownChannel}, http.StatusBadRequest},
		{"too_many", fmt.Errorf("%w: limit is 1", service.ErrTooManySessions), http.StatusTooManyRequests},
		{"closed", service.ErrServiceClosed, http.StatusServiceUnavailable},
		{"native", &winlog.NativeError{Channel: "Security", Err: errors.New("x")}, http.StatusBadGateway},
		{"cancelled", context.Canceled, http.StatusRequestTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusRequestTimeout},
		{"other", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

const testSecret = "test-secret-key"

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Reader  *nativereader.Memory
	Service *service.Service
	Server  *Server
}

// NewTestServerSetup creates a service over a seeded memory reader and an HTTP
// server in front of it. Security holds records 1..5, Application holds 1..2.
func NewTestServerSetup(t *testing.T, svcConfig *service.Config, config Config) *TestServerSetup {
	t.Helper()

	reader := nativereader.NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := reader.Append(ctx, "Security", &winlog.EventRecord{
			EventID:      4624 + int64(i%2),
			ProviderName: "Microsoft-Windows-Security-Auditing",
			Computer:     "HOST01",
			Level:        0,
			TimeCreated:  time.Date(2024, 3, 1, 12, 0, i, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := reader.Append(ctx, "Application", &winlog.EventRecord{EventID: 1000, ProviderName: "Application Error", Level: 2})
		require.NoError(t, err)
	}

	if svcConfig == nil {
		svcConfig = service.NewConfig()
	}
	svc, err := service.New(reader, svcConfig)
	require.NoError(t, err)

	if config.SecretKey == "" {
		config.SecretKey = testSecret
	}
	server, err := NewServer(svc, config)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Close()
		_ = reader.Close()
	})
	return &TestServerSetup{Reader: reader, Service: svc, Server: server}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Server.jwtAuth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// Do runs a request through the full route and middleware stack
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

// sseFrame is one parsed server-sent event
type sseFrame struct {
	ID    string
	Event string
	Data  string
}

// readSSE parses frames from r until it ends, skipping comments
func readSSE(r io.Reader) []sseFrame {
	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur != (sseFrame{}) {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func streamHeaders() []string {
	return []string{"Accept", "text/event-stream"}
}

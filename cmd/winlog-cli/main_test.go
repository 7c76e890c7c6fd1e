package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rmacdonaldsmith/winlog-go/internal/grpcapi"
	"github.com/rmacdonaldsmith/winlog-go/internal/httpapi"
	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

const testSecret = "cli-test-secret"

// executeCommand runs the CLI with args and returns stdout.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WINLOG_TOKEN", "")
	t.Setenv("WINLOG_PASSWORD", "")
	client = nil

	rootCmd := newRootCommand()
	stdout := &bytes.Buffer{}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// jsonRecords parses --format json output
func jsonRecords(t *testing.T, out string) []winlog.EventRecord {
	t.Helper()
	var records []winlog.EventRecord
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var rec winlog.EventRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "line: %s", scanner.Text())
		records = append(records, rec)
	}
	return records
}

type testServer struct {
	reader   *nativereader.Memory
	httpURL  string
	grpcAddr string
}

// startTestServer serves HTTP and gRPC over a memory reader holding Security records 1..8.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	reader := nativereader.NewMemory()
	for i := 0; i < 8; i++ {
		_, err := reader.Append(context.Background(), "Security", &winlog.EventRecord{
			EventID:      4624 + int64(i%2),
			ProviderName: "Microsoft-Windows-Security-Auditing",
			Computer:     "HOST01",
			TimeCreated:  time.Date(2024, 3, 1, 12, 0, i, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	svc, err := service.New(reader, service.NewConfig())
	require.NoError(t, err)

	httpServer, err := httpapi.NewServer(svc, httpapi.Config{SecretKey: testSecret})
	require.NoError(t, err)
	ts := httptest.NewServer(httpServer.Handler())

	grpcServer, err := grpcapi.NewServer(svc, grpcapi.Config{SecretKey: testSecret})
	require.NoError(t, err)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go grpcServer.Serve(l)

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = grpcServer.Stop(ctx)
		_ = svc.Close()
		_ = reader.Close()
	})
	return &testServer{reader: reader, httpURL: ts.URL, grpcAddr: l.Addr().String()}
}

// login returns a token for clientID. "admin" is an admin in an open registry.
func (s *testServer) login(t *testing.T, clientID string) string {
	t.Helper()
	c, err := httpclient.NewClient(httpclient.Config{ServerURL: s.httpURL, ClientID: clientID})
	require.NoError(t, err)
	resp, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	return resp.Token
}

func TestMainCommandHelp(t *testing.T) {
	out, err := executeCommand(t, "", "--help")
	require.NoError(t, err)

	for _, name := range []string{"auth", "channels", "stream", "replay", "read", "health", "admin", "hash-password"} {
		assert.Contains(t, out, name)
	}
}

func TestGlobalFlags(t *testing.T) {
	rootCmd := newRootCommand()
	err := rootCmd.ParseFlags([]string{"--server", "http://example.com", "--client-id", "test", "--password", "pw", "--timeout", "10s"})
	require.NoError(t, err)

	assert.Equal(t, "http://example.com", serverURL)
	assert.Equal(t, "test", clientID)
	assert.Equal(t, "pw", password)
	assert.Equal(t, 10*time.Second, timeout)
}

func TestInitializeClient(t *testing.T) {
	t.Run("client_id_required", func(t *testing.T) {
		_, err := executeCommand(t, "", "channels")
		assert.ErrorContains(t, err, "client-id is required")
	})

	t.Run("no_auth_uses_dummy_token", func(t *testing.T) {
		_, _ = executeCommand(t, "", "--no-auth", "--server", "http://127.0.0.1:1", "--timeout", "100ms", "health")
		require.NotNil(t, client)
		assert.Equal(t, "no-auth-mode", client.GetToken())
	})

	t.Run("offline_commands_need_no_server", func(t *testing.T) {
		_, err := executeCommand(t, "", "hash-password", "secret")
		require.NoError(t, err)
		assert.Nil(t, client)
	})
}

func TestRequireAuthentication(t *testing.T) {
	originalClient, originalNoAuth := client, noAuth
	defer func() { client, noAuth = originalClient, originalNoAuth }()
	noAuth = false

	t.Run("returns_error_when_client_is_nil", func(t *testing.T) {
		client = nil
		assert.ErrorContains(t, requireAuthentication(), "client not initialized")
	})

	t.Run("returns_error_when_not_authenticated", func(t *testing.T) {
		testClient, err := httpclient.NewClient(httpclient.Config{ServerURL: "http://localhost:8080", ClientID: "test-client"})
		require.NoError(t, err)
		client = testClient
		assert.ErrorContains(t, requireAuthentication(), "not authenticated")
	})

	t.Run("succeeds_when_authenticated", func(t *testing.T) {
		testClient, err := httpclient.NewClient(httpclient.Config{ServerURL: "http://localhost:8080", ClientID: "test-client"})
		require.NoError(t, err)
		testClient.SetToken("test-token")
		client = testClient
		assert.NoError(t, requireAuthentication())
	})
}

func TestReadFlagsValidation(t *testing.T) {
	tests := []struct {
		name  string
		flags readFlags
		want  string
	}{
		{"bad_format", readFlags{format: "xml"}, "invalid format"},
		{"bad_direction", readFlags{format: formatText, direction: "sideways"}, "direction"},
		{"negative_limit", readFlags{format: formatText, limit: -1}, "limit cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.options()
			assert.ErrorContains(t, err, tt.want)
		})
	}

	opts, err := (&readFlags{format: formatJSON, direction: "asc", query: "level <= 3"}).options()
	require.NoError(t, err)
	assert.Equal(t, winlog.Forward, opts.Direction)
	assert.Equal(t, "level <= 3", opts.Query)
}

func TestCommandsAgainstServer(t *testing.T) {
	srv := startTestServer(t)
	userToken := srv.login(t, "collector")
	adminToken := srv.login(t, "admin")
	global := []string{"--server", srv.httpURL, "--timeout", "5s"}

	run := func(t *testing.T, tokenValue string, args ...string) (string, error) {
		t.Helper()
		return executeCommand(t, "", append(append(append([]string{}, global...), "--token", tokenValue), args...)...)
	}

	t.Run("auth", func(t *testing.T) {
		out, err := executeCommand(t, "", append(global, "--client-id", "collector", "auth")...)
		require.NoError(t, err)
		assert.Contains(t, out, "Authentication successful (admin: false")
		assert.Contains(t, out, "export WINLOG_TOKEN=")
	})

	t.Run("channels", func(t *testing.T) {
		out, err := run(t, userToken, "channels")
		require.NoError(t, err)
		assert.Contains(t, out, "DNSServer")
		assert.Contains(t, out, "DNS Server")
	})

	t.Run("replay_json", func(t *testing.T) {
		out, err := run(t, userToken, "replay", "--channel", "Security", "--limit", "3", "--format", "json")
		require.NoError(t, err)
		records := jsonRecords(t, out)
		require.Len(t, records, 3)
		assert.Equal(t, uint64(8), records[0].EventRecordID)
		assert.Equal(t, uint64(6), records[2].EventRecordID)
	})

	t.Run("replay_with_query_text", func(t *testing.T) {
		out, err := run(t, userToken, "replay", "--channel", "Security", "--direction", "forward", "--query", "eventId == 4625")
		require.NoError(t, err)
		assert.Equal(t, 4, strings.Count(out, "EventID: 4625"))
		assert.NotContains(t, out, "EventID: 4624")
		assert.Contains(t, out, "channel exhausted")
	})

	t.Run("replay_unknown_channel", func(t *testing.T) {
		_, err := run(t, userToken, "replay", "--channel", "Bogus")
		assert.ErrorContains(t, err, "400")
	})

	t.Run("replay_requires_channel", func(t *testing.T) {
		_, err := run(t, userToken, "replay")
		assert.ErrorContains(t, err, `required flag(s) "channel" not set`)
	})

	t.Run("stream_sse", func(t *testing.T) {
		out, err := run(t, userToken, "stream", "--channel", "Security", "--direction", "forward", "--format", "json")
		require.NoError(t, err)
		records := jsonRecords(t, out)
		require.Len(t, records, 8)
		for i, rec := range records {
			assert.Equal(t, uint64(i+1), rec.EventRecordID)
		}
	})

	t.Run("stream_grpc_with_limit", func(t *testing.T) {
		out, err := run(t, userToken, "stream", "--channel", "Security", "--grpc-addr", srv.grpcAddr, "--limit", "2", "--format", "json")
		require.NoError(t, err)
		records := jsonRecords(t, out)
		require.Len(t, records, 2)
		assert.Equal(t, uint64(8), records[0].EventRecordID)
	})

	t.Run("stream_native_failure", func(t *testing.T) {
		srv.reader.FailWith("Security", 1, assert.AnError)
		defer srv.reader.FailWith("Security", 0, nil)

		out, err := run(t, userToken, "stream", "--channel", "Security", "--format", "json")
		assert.ErrorContains(t, err, "stream failed after 1 record(s)")
		assert.Len(t, jsonRecords(t, out), 1)
	})

	t.Run("health", func(t *testing.T) {
		out, err := executeCommand(t, "", append(global, "--client-id", "monitor", "health")...)
		require.NoError(t, err)
		assert.Contains(t, out, "Server is healthy")
		assert.Contains(t, out, "Reader: true")
	})

	t.Run("admin_stats", func(t *testing.T) {
		out, err := run(t, adminToken, "admin", "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "Sessions Opened:")
		assert.Contains(t, out, "Records Delivered:")
	})

	t.Run("admin_sessions", func(t *testing.T) {
		out, err := run(t, adminToken, "admin", "sessions")
		require.NoError(t, err)
		assert.Contains(t, out, "No open sessions")
	})

	t.Run("admin_forbidden_for_users", func(t *testing.T) {
		_, err := run(t, userToken, "admin", "stats")
		assert.ErrorContains(t, err, "403")
	})
}

func writeExport(t *testing.T, dir, nativeID string, gz bool, records []*winlog.EventRecord) {
	t.Helper()
	name := nativereader.ExportFileName(nativeID) + ".jsonl"
	if gz {
		name += ".gz"
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	if !gz {
		require.NoError(t, nativereader.WriteExport(f, records))
		return
	}
	zw := gzip.NewWriter(f)
	require.NoError(t, nativereader.WriteExport(zw, records))
	require.NoError(t, zw.Close())
}

func TestReadCommand(t *testing.T) {
	dir := t.TempDir()
	var records []*winlog.EventRecord
	for i := 1; i <= 6; i++ {
		records = append(records, &winlog.EventRecord{
			EventID:       int64(7000 + i),
			ProviderName:  "Service Control Manager",
			EventRecordID: uint64(i),
			Level:         int64(2 + i%3),
			TimeCreated:   time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		})
	}
	writeExport(t, dir, "System", false, records)
	writeExport(t, dir, "DNS Server", true, records[:2])

	t.Run("reverse_default", func(t *testing.T) {
		out, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "System", "--format", "json")
		require.NoError(t, err)
		got := jsonRecords(t, out)
		require.Len(t, got, 6)
		assert.Equal(t, uint64(6), got[0].EventRecordID)
		assert.Equal(t, uint64(1), got[5].EventRecordID)
	})

	t.Run("forward_with_limit", func(t *testing.T) {
		out, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "System", "--direction", "forward", "--limit", "2", "--format", "json")
		require.NoError(t, err)
		got := jsonRecords(t, out)
		require.Len(t, got, 2)
		assert.Equal(t, uint64(1), got[0].EventRecordID)
	})

	t.Run("query", func(t *testing.T) {
		out, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "System", "--query", "level == 2", "--format", "json")
		require.NoError(t, err)
		for _, rec := range jsonRecords(t, out) {
			assert.Equal(t, int64(2), rec.Level)
		}
	})

	t.Run("compressed_export", func(t *testing.T) {
		out, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "DNSServer")
		require.NoError(t, err)
		assert.Contains(t, out, "Record #2:")
		assert.Contains(t, out, "Read 2 record(s) from DNSServer (DNS Server)")
	})

	t.Run("custom_channel", func(t *testing.T) {
		writeExport(t, dir, "Microsoft-Windows-Sysmon/Operational", false, records[:1])
		out, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "Sysmon",
			"--custom-channel", "Sysmon=Microsoft-Windows-Sysmon/Operational", "--format", "json")
		require.NoError(t, err)
		assert.Len(t, jsonRecords(t, out), 1)
	})

	t.Run("unknown_channel", func(t *testing.T) {
		_, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "Bogus")
		assert.True(t, winlog.IsConfigError(err))
	})

	t.Run("missing_export_is_native_error", func(t *testing.T) {
		_, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "Application")
		require.Error(t, err)
		assert.True(t, winlog.IsNativeError(err))
		assert.ErrorIs(t, err, nativereader.ErrChannelUnavailable)
	})

	t.Run("invalid_query_is_native_error", func(t *testing.T) {
		_, err := executeCommand(t, "", "read", "--dir", dir, "--channel", "System", "--query", "eventId ===")
		assert.ErrorIs(t, err, nativereader.ErrInvalidQuery)
	})

	t.Run("missing_dir", func(t *testing.T) {
		_, err := executeCommand(t, "", "read", "--dir", filepath.Join(dir, "absent"), "--channel", "System")
		assert.ErrorContains(t, err, "export directory")
	})
}

func TestHashPasswordCommand(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		out, err := executeCommand(t, "", "hash-password", "s3cret")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
	})

	t.Run("stdin", func(t *testing.T) {
		out, err := executeCommand(t, "from-stdin\n", "hash-password")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-stdin")))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := executeCommand(t, "\n", "hash-password")
		assert.ErrorContains(t, err, "password cannot be empty")
	})
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ledgermux/internal/config"
	"github.com/rickgao/ledgermux/internal/events"
	"github.com/rickgao/ledgermux/internal/ledgertest"
)

func loadTestConfig(t *testing.T, srv *ledgertest.Server, extra string) *config.Config {
	t.Helper()

	yaml := `
ledger:
  url: ` + srv.URL + `
admin:
  username: admin
  password: secret
connection:
  reconnect_base_delay: 10ms
  reconnect_max_delay: 50ms
  request_timeout: 2s
` + extra
	path := filepath.Join(t.TempDir(), "ledgermux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := config.LoadAndValidate(path)
	require.NoError(t, err)
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.Info("shown", "username", "alice")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "alice", line["username"])
}

func TestNewLogger_Text(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "username", "bob")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "username=bob")
}

func TestApp_ConnectAndCreateConfigured(t *testing.T) {
	srv := ledgertest.NewServer(t, "alice", "bob")
	cfg := loadTestConfig(t, srv, "proxies: [alice, bob, ghost]\n")

	a, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.factory.Disconnect(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.connect(ctx))

	assert.Equal(t, 2, a.createConfigured(ctx))
	assert.Equal(t, []string{"alice", "bob"}, a.factory.Proxies())

	req, ok := srv.LastRequest()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{srv.AccountURI("alice"), srv.AccountURI("bob")}, req.Accounts())
}

func TestApp_ConnectGivesUpOnCancel(t *testing.T) {
	srv := ledgertest.NewServer(t)
	srv.SetMetadataFails(true)
	cfg := loadTestConfig(t, srv, "")

	a, err := newApp(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.connect(ctx), context.DeadlineExceeded)
	assert.False(t, a.factory.IsConnected())
}

func TestApp_Handler(t *testing.T) {
	srv := ledgertest.NewServer(t, "alice")
	cfg := loadTestConfig(t, srv, "")

	a, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.factory.Disconnect(context.Background()) })
	require.NoError(t, a.connect(context.Background()))

	h := a.handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/proxies/alice", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, cfg.Server.MetricsPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ledgermux_proxies")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestEventWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &eventWriter{enc: json.NewEncoder(&buf)}

	require.NoError(t, w.write(context.Background(), events.Event{
		Type:     "incoming_prepare",
		Username: "alice",
		Args:     []any{"alice", map[string]string{"amount": "10"}},
	}))
	require.NoError(t, w.write(context.Background(), events.Event{Type: "outgoing_fulfill", Username: "bob", Args: []any{"bob"}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first eventLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "incoming_prepare", first.Type)
	assert.Equal(t, "alice", first.Username)
	require.Len(t, first.Args, 2)
	assert.Equal(t, "alice", first.Args[0])
}

func TestRootCommand_Version(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "dev")
}

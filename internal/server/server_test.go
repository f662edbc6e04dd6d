package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ledgermux/internal/api"
	"github.com/rickgao/ledgermux/internal/auth"
	"github.com/rickgao/ledgermux/internal/connection"
	"github.com/rickgao/ledgermux/internal/factory"
	"github.com/rickgao/ledgermux/internal/ledgertest"
)

type testEnv struct {
	ledger  *ledgertest.Server
	factory *factory.Factory
	handler http.Handler
}

func newEnv(t *testing.T, accounts ...string) *testEnv {
	t.Helper()

	srv := ledgertest.NewServer(t, accounts...)
	creds := &auth.Credentials{Username: "admin", Password: "secret"}
	client := api.NewClient(srv.URL, creds, api.WithRetries(0, 0))

	adminCfg := connection.DefaultAdminConfig()
	adminCfg.Credentials = creds
	adminCfg.RequestTimeout = 2 * time.Second

	f := factory.New(factory.Config{Credentials: creds}, func() factory.AdminConn {
		return connection.NewAdmin(adminCfg, client, nil, nil)
	}, client)
	t.Cleanup(func() { f.Disconnect(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(f, logger, 5*time.Second)
	return &testEnv{ledger: srv, factory: f, handler: h.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth_Disconnected(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decode[healthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.False(t, resp.Connected)
}

func TestHealth_Connected(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.factory.Connect(context.Background()))

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[healthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Connected)
	assert.Equal(t, 0, resp.Proxies)
}

func TestCreate_NotReady(t *testing.T) {
	env := newEnv(t, "alice")

	w := env.do(t, http.MethodPut, "/proxies/alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreate_ByName(t *testing.T) {
	env := newEnv(t, "alice")
	require.NoError(t, env.factory.Connect(context.Background()))

	w := env.do(t, http.MethodPut, "/proxies/alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	view := decode[ProxyView](t, w)
	assert.Equal(t, "alice", view.Username)
	assert.Equal(t, env.ledger.AccountURI("alice"), view.Account)
	assert.True(t, view.Connected)
	assert.True(t, view.Subscribed)
	assert.NotEmpty(t, view.ID)

	// Idempotent: same proxy, no second existence check.
	w = env.do(t, http.MethodPut, "/proxies/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, view.ID, decode[ProxyView](t, w).ID)
	assert.Equal(t, 1, env.ledger.Checks("alice"))
}

func TestCreate_ByAccount(t *testing.T) {
	env := newEnv(t, "bob")
	require.NoError(t, env.factory.Connect(context.Background()))

	w := env.do(t, http.MethodPost, "/proxies", createRequest{Account: env.ledger.AccountURI("bob")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bob", decode[ProxyView](t, w).Username)
}

func TestCreate_Errors(t *testing.T) {
	env := newEnv(t, "alice")
	require.NoError(t, env.factory.Connect(context.Background()))
	env.ledger.SetAccountStatus("broken", http.StatusInternalServerError)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "bad body", method: http.MethodPost, path: "/proxies", body: "not an object", want: http.StatusBadRequest},
		{name: "both fields", method: http.MethodPost, path: "/proxies", body: createRequest{Username: "alice", Account: "x"}, want: http.StatusBadRequest},
		{name: "invalid username", method: http.MethodPut, path: "/proxies/not.valid", want: http.StatusBadRequest},
		{name: "missing account", method: http.MethodPut, path: "/proxies/ghost", want: http.StatusNotFound},
		{name: "ledger error", method: http.MethodPut, path: "/proxies/broken", want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, w).Error)
		})
	}
	assert.Empty(t, env.factory.Proxies())
}

func TestCreate_Degraded(t *testing.T) {
	env := newEnv(t, "alice")
	require.NoError(t, env.factory.Connect(context.Background()))
	env.ledger.SetFailSubscribe(true)

	w := env.do(t, http.MethodPut, "/proxies/alice", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	view := decode[ProxyView](t, w)
	assert.False(t, view.Subscribed)
	assert.NotEmpty(t, view.Error)

	health := decode[healthResponse](t, env.do(t, http.MethodGet, "/health", nil))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, 1, health.Degraded)

	w = env.do(t, http.MethodPost, "/resync", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	env.ledger.SetFailSubscribe(false)
	w = env.do(t, http.MethodPost, "/resync", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	health = decode[healthResponse](t, env.do(t, http.MethodGet, "/health", nil))
	assert.Equal(t, "healthy", health.Status)
}

func TestListGetRemove(t *testing.T) {
	env := newEnv(t, "alice", "bob")
	require.NoError(t, env.factory.Connect(context.Background()))

	for _, name := range []string{"bob", "alice"} {
		require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/proxies/"+name, nil).Code)
	}

	list := decode[[]ProxyView](t, env.do(t, http.MethodGet, "/proxies", nil))
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)

	w := env.do(t, http.MethodGet, "/proxies/bob", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/proxies/bob", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/proxies/bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Removing an unknown proxy is a no-op.
	w = env.do(t, http.MethodDelete, "/proxies/bob", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, []string{"alice"}, env.factory.Proxies())
}

func TestStats(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), decode[statsResponse](t, w).Dispatched)
}

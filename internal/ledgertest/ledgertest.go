// Package ledgertest runs an in-process ledger for tests: metadata document,
// account endpoints and the JSON-RPC notification websocket.
package ledgertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rickgao/ledgermux/internal/model"
)

// Prefix is the ilp_prefix the server advertises.
const Prefix = "example.red."

// Request is an RPC request the server received.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Accounts decodes the accounts param of a subscribe_account request.
func (r Request) Accounts() []string {
	var p struct {
		Accounts []string `json:"accounts"`
	}
	json.Unmarshal(r.Params, &p)
	return p.Accounts
}

// Server is a fake ledger.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	accounts      map[string]int // name -> status served by GET /accounts/{name}
	checks        map[string]int // name -> GET count
	authHeaders   []string
	conns         map[*websocket.Conn]struct{}
	requests      []Request
	failSubscribe bool
	metadataFails bool

	upgrader websocket.Upgrader
}

// NewServer starts a ledger where the named accounts exist.
func NewServer(t testing.TB, accounts ...string) *Server {
	t.Helper()

	s := &Server{
		accounts: make(map[string]int),
		checks:   make(map[string]int),
		conns:    make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, a := range accounts {
		s.accounts[a] = http.StatusOK
	}

	r := chi.NewRouter()
	r.Get("/", s.handleMetadata)
	r.Get("/accounts/{name}", s.handleAccount)
	r.Get("/websocket", s.handleWebsocket)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Close drops open websockets and shuts the server down.
func (s *Server) Close() {
	s.DropConnections()
	s.Server.Close()
}

// AccountURI returns the account URI for name.
func (s *Server) AccountURI(name string) string {
	return s.URL + "/accounts/" + name
}

// WebsocketURL returns the notification socket URL.
func (s *Server) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/websocket"
}

// SetAccountStatus makes GET /accounts/{name} answer with status.
func (s *Server) SetAccountStatus(name string, status int) {
	s.mu.Lock()
	s.accounts[name] = status
	s.mu.Unlock()
}

// SetFailSubscribe makes subscription requests fail with an RPC error.
func (s *Server) SetFailSubscribe(fail bool) {
	s.mu.Lock()
	s.failSubscribe = fail
	s.mu.Unlock()
}

// SetMetadataFails makes the metadata endpoint return 500.
func (s *Server) SetMetadataFails(fail bool) {
	s.mu.Lock()
	s.metadataFails = fail
	s.mu.Unlock()
}

// Checks returns how many times the account was fetched.
func (s *Server) Checks(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks[name]
}

// AuthHeaders returns the Authorization headers seen on account fetches.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders...)
}

// Requests returns every RPC request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent RPC request.
func (s *Server) LastRequest() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Notify pushes n to every open websocket.
func (s *Server) Notify(n model.Notification) {
	s.broadcast(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"method":  "notify",
		"params":  n,
	})
}

// DropConnections closes every websocket without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
		delete(s.conns, c)
	}
}

func (s *Server) broadcast(v any) {
	data, _ := json.Marshal(v)

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteMessage(websocket.TextMessage, data)
	}
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.metadataFails
	s.mu.Unlock()
	if fail {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"currency_code": "USD",
		"ilp_prefix":    Prefix,
		"precision":     10,
		"scale":         2,
		"urls": map[string]string{
			"account":   s.URL + "/accounts/:name",
			"transfer":  s.URL + "/transfers/:id",
			"message":   s.URL + "/messages",
			"websocket": s.WebsocketURL(),
		},
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	s.checks[name]++
	s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
	status, ok := s.accounts[name]
	s.mu.Unlock()

	if !ok {
		status = http.StatusNotFound
	}
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   s.AccountURI(name),
		"name": name,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.write(conn, map[string]any{"jsonrpc": "2.0", "id": nil, "method": "connect"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		fail := s.failSubscribe
		s.mu.Unlock()

		if fail {
			s.write(conn, map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32603, "message": "subscription rejected"},
			})
			continue
		}

		result := 1
		if accounts := req.Accounts(); accounts != nil {
			result = len(accounts)
		}
		s.write(conn, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
}

// write serializes writes with broadcast.
func (s *Server) write(conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/ledgermux/internal/auth"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNoWebsocketURL  = errors.New("ledger metadata has no websocket url")
)

// State is the admin connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RPC methods.
const (
	MethodSubscribeAccount     = "subscribe_account"
	MethodSubscribeAllAccounts = "subscribe_all_accounts"
	MethodNotify               = "notify"
	MethodConnect              = "connect"
)

const jsonRPCVersion = "2.0"

// Request is a JSON-RPC request sent to the ledger.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// SubscribeAccountParams are parameters for subscribe_account.
type SubscribeAccountParams struct {
	EventType string   `json:"eventType"`
	Accounts  []string `json:"accounts"`
}

// SubscribeAllParams are parameters for subscribe_all_accounts.
type SubscribeAllParams struct {
	EventType string `json:"eventType"`
}

// Message is anything the ledger sends: a response (ID set, no method) or a
// server notification (method set).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsResponse reports whether the message answers a request.
func (m Message) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	Header       http.Header   // Handshake headers (authorization)
	PingInterval time.Duration // How often we ping the server
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1024,
	}
}

// AdminConfig configures the admin connection.
type AdminConfig struct {
	Credentials       *auth.Credentials // Admin identity, sent as basic auth
	Prefix            string            // Overrides the ledger's ilp_prefix when set
	WSURL             string            // Overrides the ledger's websocket url when set
	RequestTimeout    time.Duration     // Timeout for RPC requests
	ReconnectBaseWait time.Duration     // Base wait time for reconnection
	ReconnectMaxWait  time.Duration     // Max wait time for reconnection
	QueueCapacity     int               // Initial capacity of the notification queue
	Client            ClientConfig
}

// DefaultAdminConfig returns sensible defaults.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		RequestTimeout:    10 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		QueueCapacity:     1024,
		Client:            DefaultClientConfig(),
	}
}

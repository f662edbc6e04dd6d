// Package proxy implements the per-account stand-ins handed to callers.
//
// A proxy comes in one of two variants fixed at construction:
//
//   - Direct: owns a real connection (only the admin identity uses this).
//     Connect and Disconnect drive that connection.
//   - Delegated: rides on the admin connection. Connect and Disconnect are
//     no-ops and IsConnected reports the admin connection's status. Outbound
//     calls are authorized with the admin credentials it carries.
//
// Either way a proxy never reads from the network itself; inbound
// notifications reach it only through HandleNotification.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/ledgermux/internal/auth"
	"github.com/rickgao/ledgermux/internal/events"
	"github.com/rickgao/ledgermux/internal/ledger"
	"github.com/rickgao/ledgermux/internal/model"
	"github.com/rickgao/ledgermux/internal/translate"
)

// Variant selects how a proxy manages connectivity.
type Variant int

const (
	Direct Variant = iota
	Delegated
)

func (v Variant) String() string {
	switch v {
	case Direct:
		return "direct"
	case Delegated:
		return "delegated"
	default:
		return "unknown"
	}
}

// Connector is the connection a Direct proxy drives.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Config holds what every proxy is built from.
type Config struct {
	Username    string
	Account     string // Account URI
	Credentials *auth.Credentials
	Ledger      *ledger.Context // Shared, read-only
	Translate   translate.Func  // Defaults to translate.Translate
	Logger      *slog.Logger
}

// Proxy represents one ledger account.
type Proxy struct {
	id      uuid.UUID
	variant Variant
	cfg     Config
	logger  *slog.Logger

	conn   Connector   // Direct only
	status func() bool // Delegated only

	listeners  events.Emitter
	subscribed atomic.Bool
}

// NewDirect builds the proxy that owns conn.
func NewDirect(cfg Config, conn Connector) *Proxy {
	p := newProxy(Direct, cfg)
	p.conn = conn
	return p
}

// NewDelegated builds a proxy whose connectivity is whatever status reports.
// It is connected from the moment it is created.
func NewDelegated(cfg Config, status func() bool) *Proxy {
	p := newProxy(Delegated, cfg)
	p.status = status
	return p
}

func newProxy(v Variant, cfg Config) *Proxy {
	if cfg.Translate == nil {
		cfg.Translate = translate.Translate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		id:      uuid.New(),
		variant: v,
		cfg:     cfg,
		logger:  logger.With("component", "proxy", "username", cfg.Username),
	}
}

// ID distinguishes proxy instances; a recreated proxy gets a new ID.
func (p *Proxy) ID() uuid.UUID { return p.id }

// Variant returns how the proxy manages connectivity.
func (p *Proxy) Variant() Variant { return p.variant }

// Username returns the account name.
func (p *Proxy) Username() string { return p.cfg.Username }

// Account returns the account URI.
func (p *Proxy) Account() string { return p.cfg.Account }

// Credentials returns the credentials outbound calls are authorized with.
func (p *Proxy) Credentials() *auth.Credentials { return p.cfg.Credentials }

// Ledger returns the shared ledger context.
func (p *Proxy) Ledger() *ledger.Context { return p.cfg.Ledger }

// Connect opens the underlying connection for Direct proxies.
func (p *Proxy) Connect(ctx context.Context) error {
	if p.variant == Delegated {
		return nil
	}
	return p.conn.Connect(ctx)
}

// Disconnect closes the underlying connection for Direct proxies.
func (p *Proxy) Disconnect(ctx context.Context) error {
	if p.variant == Delegated {
		return nil
	}
	return p.conn.Close()
}

// IsConnected reports connectivity of the connection the proxy relies on.
func (p *Proxy) IsConnected() bool {
	if p.variant == Delegated {
		return p.status != nil && p.status()
	}
	return p.conn != nil && p.conn.IsConnected()
}

// Subscribed reports whether the admin connection is known to be watching
// this account. False means the proxy is registered but degraded.
func (p *Proxy) Subscribed() bool { return p.subscribed.Load() }

// MarkSubscribed records the outcome of the last subscription sync.
func (p *Proxy) MarkSubscribed(ok bool) { p.subscribed.Store(ok) }

// On registers a listener for eventType (events.Wildcard for all).
func (p *Proxy) On(eventType string, fn events.Listener) events.ListenerID {
	return p.listeners.On(eventType, fn)
}

// Off removes a listener.
func (p *Proxy) Off(eventType string, id events.ListenerID) bool {
	return p.listeners.Off(eventType, id)
}

// RemoveAllListeners detaches every listener.
func (p *Proxy) RemoveAllListeners() {
	p.listeners.RemoveAllListeners()
}

// HandleNotification translates n from this account's point of view and
// emits it to the proxy's listeners.
func (p *Proxy) HandleNotification(ctx context.Context, n model.Notification) error {
	ev, err := p.cfg.Translate(n, p.cfg.Account, p.cfg.Ledger)
	if errors.Is(err, translate.ErrNoEvent) {
		p.logger.Debug("no event for notification", "event", n.Event)
		return nil
	}
	if err != nil {
		return err
	}

	ev.Username = p.cfg.Username
	return p.listeners.Emit(ctx, ev)
}

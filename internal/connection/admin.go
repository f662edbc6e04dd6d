package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/ledgermux/internal/api"
	"github.com/rickgao/ledgermux/internal/ledger"
	"github.com/rickgao/ledgermux/internal/metrics"
	"github.com/rickgao/ledgermux/internal/model"
	"github.com/rickgao/ledgermux/internal/queue"
)

// MetadataSource provides the ledger metadata document.
type MetadataSource interface {
	GetMetadata(ctx context.Context) (*api.Metadata, error)
}

// subscription is the last subscription request issued, replayed on reconnect.
type subscription struct {
	set      bool
	all      bool
	accounts []string
}

// Admin is the single admin connection shared by every account proxy.
type Admin struct {
	cfg     AdminConfig
	meta    MetadataSource
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	state  State
	client Client
	lc     *ledger.Context
	queue  *queue.Queue[model.Notification]
	sub    subscription

	// Session lifetime; reset by every successful Connect.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Request/response correlation
	pendingMu sync.Mutex
	pending   map[int64]chan Message
	cmdID     atomic.Int64
}

// NewAdmin creates a disconnected admin connection.
func NewAdmin(cfg AdminConfig, meta MetadataSource, logger *slog.Logger, m *metrics.Metrics) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{
		cfg:     cfg,
		meta:    meta,
		logger:  logger.With("component", "admin"),
		metrics: m,
		pending: make(map[int64]chan Message),
	}
}

// Connect fetches the ledger metadata, builds the ledger context and opens
// the websocket. It is a no-op when already connected. A session that is
// reconnecting in the background is torn down and replaced.
func (a *Admin) Connect(ctx context.Context) error {
	a.mu.RLock()
	state, active := a.state, a.cancel != nil
	a.mu.RUnlock()

	if state == StateConnected {
		return nil
	}
	if active {
		a.Close()
	}

	a.setState(StateConnecting)

	c, lc, err := a.dial(ctx)
	if err != nil {
		a.setState(StateDisconnected)
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	q := queue.New[model.Notification](a.cfg.QueueCapacity)

	a.mu.Lock()
	a.client = c
	a.lc = lc
	a.queue = q
	a.sub = subscription{}
	a.ctx, a.cancel = sessCtx, cancel
	a.state = StateConnected
	a.mu.Unlock()
	a.metrics.SetConnectionState(int(StateConnected))

	a.wg.Add(1)
	go a.readLoop(sessCtx, c)

	a.logger.Info("admin connection established",
		"prefix", lc.Prefix(),
		"websocket", a.websocketURL(lc),
	)

	return nil
}

// dial performs the metadata fetch and websocket handshake.
func (a *Admin) dial(ctx context.Context) (Client, *ledger.Context, error) {
	meta, err := a.meta.GetMetadata(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch ledger metadata: %w", err)
	}

	prefix := a.cfg.Prefix
	if prefix == "" {
		prefix = meta.Prefix
	}
	lc, err := ledger.NewContext(prefix, meta.URLs)
	if err != nil {
		return nil, nil, err
	}

	c, err := a.openClient(ctx, lc)
	if err != nil {
		return nil, nil, err
	}
	return c, lc, nil
}

func (a *Admin) openClient(ctx context.Context, lc *ledger.Context) (Client, error) {
	url := a.websocketURL(lc)
	if url == "" {
		return nil, ErrNoWebsocketURL
	}

	cfg := a.cfg.Client
	cfg.URL = url
	cfg.Header = a.cfg.Credentials.Header()

	c := NewClient(cfg, a.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return c, nil
}

func (a *Admin) websocketURL(lc *ledger.Context) string {
	if a.cfg.WSURL != "" {
		return a.cfg.WSURL
	}
	return lc.URL(ledger.URLWebsocket)
}

// Close ends the session. The notification queue is closed so its consumer
// stops. Close on a connection that was never opened is a no-op.
func (a *Admin) Close() error {
	a.mu.Lock()
	if a.cancel == nil {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	a.cancel = nil
	c, q := a.client, a.queue
	a.client = nil
	a.state = StateDisconnected
	a.mu.Unlock()
	a.metrics.SetConnectionState(int(StateDisconnected))

	var err error
	if c != nil {
		err = c.Close()
	}
	q.Close()
	a.wg.Wait()

	a.logger.Info("admin connection closed")
	return err
}

// State returns the current connection state.
func (a *Admin) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// IsConnected reports whether the websocket is up.
func (a *Admin) IsConnected() bool {
	return a.State() == StateConnected
}

// LedgerContext returns the context built by the last successful Connect,
// or nil before the first one.
func (a *Admin) LedgerContext() *ledger.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lc
}

// Notifications returns the queue inbound notifications are pushed to for
// the current session. It survives reconnects and is closed by Close.
func (a *Admin) Notifications() *queue.Queue[model.Notification] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.queue
}

// Subscribe replaces the set of accounts the ledger notifies us about.
func (a *Admin) Subscribe(ctx context.Context, accounts []string) error {
	accounts = slices.Clone(accounts)
	if accounts == nil {
		accounts = []string{}
	}

	a.mu.Lock()
	a.sub = subscription{set: true, accounts: accounts}
	a.mu.Unlock()

	return a.subscribe(ctx, subscription{set: true, accounts: accounts})
}

// SubscribeAll asks the ledger for notifications about every account.
func (a *Admin) SubscribeAll(ctx context.Context) error {
	a.mu.Lock()
	a.sub = subscription{set: true, all: true}
	a.mu.Unlock()

	return a.subscribe(ctx, subscription{set: true, all: true})
}

func (a *Admin) subscribe(ctx context.Context, sub subscription) error {
	start := time.Now()

	var err error
	if sub.all {
		_, err = a.call(ctx, MethodSubscribeAllAccounts, SubscribeAllParams{EventType: "*"})
	} else {
		_, err = a.call(ctx, MethodSubscribeAccount, SubscribeAccountParams{EventType: "*", Accounts: sub.accounts})
	}

	a.metrics.ObserveSubscriptionSync(start, err)
	if err != nil {
		return err
	}

	a.logger.Debug("subscribed", "all", sub.all, "accounts", len(sub.accounts))
	return nil
}

// call sends a request and waits for its response.
func (a *Admin) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	a.mu.RLock()
	c, sessCtx, state := a.client, a.ctx, a.state
	a.mu.RUnlock()

	if state != StateConnected || c == nil {
		return nil, ErrNotConnected
	}

	id := a.cmdID.Add(1)
	respCh := make(chan Message, 1)

	a.pendingMu.Lock()
	a.pending[id] = respCh
	a.pendingMu.Unlock()

	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Send(data); err != nil {
		return nil, err
	}

	timeout := a.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultAdminConfig().RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sessCtx.Done():
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, ErrTimeout
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// readLoop drains one client until the session ends or the socket fails.
func (a *Admin) readLoop(ctx context.Context, c Client) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-c.Errors():
			if !a.transition(ctx, StateConnecting) {
				return
			}
			a.logger.Warn("admin connection lost", "error", err)
			a.wg.Add(1)
			go a.reconnect(ctx)
			return

		case msg := <-c.Messages():
			a.handleMessage(msg.Data)
		}
	}
}

func (a *Admin) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Warn("invalid message from ledger", "error", err)
		return
	}

	switch {
	case msg.IsResponse():
		a.routeResponse(msg)

	case msg.Method == MethodNotify:
		var n model.Notification
		if err := json.Unmarshal(msg.Params, &n); err != nil {
			a.logger.Warn("invalid notification", "error", err)
			return
		}
		a.metrics.IncReceived()

		a.mu.RLock()
		q := a.queue
		a.mu.RUnlock()
		if !q.Push(n) {
			a.logger.Debug("queue closed, dropping notification", "event", n.Event)
		}

	case msg.Method == MethodConnect:
		a.logger.Debug("ledger acknowledged connection")

	default:
		a.logger.Debug("ignoring message", "method", msg.Method)
	}
}

// routeResponse sends a response to the waiting caller.
func (a *Admin) routeResponse(msg Message) {
	a.pendingMu.Lock()
	ch, ok := a.pending[*msg.ID]
	if ok {
		delete(a.pending, *msg.ID)
	}
	a.pendingMu.Unlock()

	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// reconnect re-dials with exponential backoff, then replays the last
// subscription request.
func (a *Admin) reconnect(ctx context.Context) {
	defer a.wg.Done()

	wait := a.cfg.ReconnectBaseWait
	maxWait := a.cfg.ReconnectMaxWait

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		a.logger.Info("attempting reconnection")

		a.mu.RLock()
		old, lc := a.client, a.lc
		a.mu.RUnlock()
		if old != nil {
			old.Close()
		}

		c, err := a.openClient(ctx, lc)
		if err != nil {
			a.logger.Warn("reconnection failed", "error", err)

			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		a.mu.Lock()
		if ctx.Err() != nil {
			a.mu.Unlock()
			c.Close()
			return
		}
		a.client = c
		a.state = StateConnected
		sub := a.sub
		a.mu.Unlock()
		a.metrics.SetConnectionState(int(StateConnected))
		a.metrics.IncReconnect()

		a.logger.Info("reconnected")

		a.wg.Add(1)
		go a.readLoop(ctx, c)

		if sub.set {
			if err := a.subscribe(ctx, sub); err != nil {
				a.logger.Warn("failed to replay subscription", "error", err)
			}
		}
		return
	}
}

// transition moves the session to s unless the session has ended.
func (a *Admin) transition(ctx context.Context, s State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	a.state = s
	a.metrics.SetConnectionState(int(s))
	return true
}

func (a *Admin) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.metrics.SetConnectionState(int(s))
}

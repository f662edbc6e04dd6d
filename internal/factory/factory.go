// Package factory manages the lifecycle of account proxies that share one
// admin connection to the ledger.
//
// The factory owns the admin connection, the proxy registry and the
// notification router. It keeps the admin connection's subscription set
// equal to the registered proxies' accounts, or subscribes to every account
// in global mode, where it also emits every notification to its own
// listeners.
package factory

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/ledgermux/internal/auth"
	"github.com/rickgao/ledgermux/internal/events"
	"github.com/rickgao/ledgermux/internal/ledger"
	"github.com/rickgao/ledgermux/internal/metrics"
	"github.com/rickgao/ledgermux/internal/model"
	"github.com/rickgao/ledgermux/internal/proxy"
	"github.com/rickgao/ledgermux/internal/queue"
	"github.com/rickgao/ledgermux/internal/registry"
	"github.com/rickgao/ledgermux/internal/router"
	"github.com/rickgao/ledgermux/internal/translate"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,86}$`)

// AdminConn is the admin connection the factory drives.
type AdminConn interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	LedgerContext() *ledger.Context
	Notifications() *queue.Queue[model.Notification]
	Subscribe(ctx context.Context, accounts []string) error
	SubscribeAll(ctx context.Context) error
}

// AccountChecker performs the authorized existence check on an account URI.
type AccountChecker interface {
	CheckAccount(ctx context.Context, accountURI string) (int, []byte, error)
}

// Config holds factory configuration.
type Config struct {
	Credentials    *auth.Credentials // Admin identity handed to every proxy
	Global         bool              // Subscribe to all accounts and emit global events
	ResyncInterval time.Duration     // 0 disables background resync
	CreateTimeout  time.Duration     // Bounds one create flight; defaults to DefaultCreateTimeout
}

// DefaultCreateTimeout bounds the existence check and subscription sync of a
// create that may be shared by several callers.
const DefaultCreateTimeout = 30 * time.Second

// CreateRequest names the account to create a proxy for. Exactly one field
// must be set.
type CreateRequest struct {
	Username string
	Account  string // Account URI
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) {
		f.metrics = m
	}
}

// WithTranslator replaces the default notification translator.
func WithTranslator(fn translate.Func) Option {
	return func(f *Factory) {
		f.translate = fn
	}
}

// Factory creates, tracks and removes account proxies.
type Factory struct {
	cfg       Config
	newAdmin  func() AdminConn
	checker   AccountChecker
	translate translate.Func
	logger    *slog.Logger
	metrics   *metrics.Metrics

	baseLogger *slog.Logger

	mu         sync.RWMutex
	admin      AdminConn
	adminProxy *proxy.Proxy
	stop       context.CancelFunc
	wg         sync.WaitGroup

	ready     atomic.Bool
	registry  *registry.Registry
	router    *router.Router
	listeners events.Emitter

	connectGroup singleflight.Group
	createGroup  singleflight.Group
	syncMu       sync.Mutex
}

// New creates a factory. newAdmin is called once, on the first Connect.
func New(cfg Config, newAdmin func() AdminConn, checker AccountChecker, opts ...Option) *Factory {
	if cfg.Credentials == nil {
		cfg.Credentials = &auth.Credentials{}
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = DefaultCreateTimeout
	}
	f := &Factory{
		cfg:       cfg,
		newAdmin:  newAdmin,
		checker:   checker,
		translate: translate.Translate,
		logger:    slog.Default(),
		registry:  registry.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	// Collaborators scope their own loggers.
	f.baseLogger = f.logger
	f.logger = f.logger.With("component", "factory")

	f.router = router.New(router.Options{
		Registry:  f.registry,
		Ledger:    f.LedgerContext,
		Global:    cfg.Global,
		Listeners: &f.listeners,
		Translate: f.translate,
		Logger:    f.baseLogger,
		Metrics:   f.metrics,
	})
	return f
}

// Connect establishes the admin connection. Concurrent callers share one
// attempt. In global mode the all-accounts subscription must succeed too.
// On failure the factory stays not ready and Connect may be retried.
func (f *Factory) Connect(ctx context.Context) error {
	if f.ready.Load() && f.IsConnected() {
		return nil
	}

	_, err, _ := f.connectGroup.Do("connect", func() (any, error) {
		if f.ready.Load() && f.IsConnected() {
			return nil, nil
		}
		return nil, f.connect(ctx)
	})
	return err
}

func (f *Factory) connect(ctx context.Context) error {
	f.mu.Lock()
	if f.admin == nil {
		f.admin = f.newAdmin()
		f.adminProxy = proxy.NewDirect(proxy.Config{
			Username:    f.cfg.Credentials.Username,
			Account:     f.cfg.Credentials.Account,
			Credentials: f.cfg.Credentials,
			Translate:   f.translate,
			Logger:      f.baseLogger,
		}, f.admin)
	}
	admin, adminProxy := f.admin, f.adminProxy
	f.mu.Unlock()

	if err := adminProxy.Connect(ctx); err != nil {
		return &ConnectionError{Err: err}
	}

	if f.cfg.Global {
		if err := admin.SubscribeAll(ctx); err != nil {
			admin.Close()
			return &ConnectionError{Err: err}
		}
	}

	f.start(admin.Notifications())
	f.ready.Store(true)

	// Proxies survive a disconnect; tell the new session about them.
	if !f.cfg.Global && f.registry.Len() > 0 {
		if err := f.syncSubscriptions(ctx); err != nil {
			f.logger.Warn("subscription sync after connect failed", "error", err)
		}
	}

	f.logger.Info("factory connected", "global", f.cfg.Global, "proxies", f.registry.Len())
	return nil
}

// start launches the router loop for q and, when configured, the resync loop.
func (f *Factory) start(q *queue.Queue[model.Notification]) {
	ctx, cancel := context.WithCancel(context.Background())

	f.mu.Lock()
	if f.stop != nil {
		f.stop()
	}
	f.stop = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.router.Run(ctx, q)
	}()

	if f.cfg.ResyncInterval > 0 && !f.cfg.Global {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.resyncLoop(ctx)
		}()
	}
}

// Disconnect closes the admin connection. Registered proxies are kept.
func (f *Factory) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	adminProxy, stop := f.adminProxy, f.stop
	f.stop = nil
	f.mu.Unlock()

	if adminProxy == nil {
		return ErrNotConnected
	}

	f.ready.Store(false)
	err := adminProxy.Disconnect(ctx)
	if stop != nil {
		stop()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		f.logger.Warn("disconnect timed out waiting for router")
	}

	f.logger.Info("factory disconnected")
	return err
}

// IsConnected reports whether the admin connection exists and is up.
func (f *Factory) IsConnected() bool {
	f.mu.RLock()
	admin := f.admin
	f.mu.RUnlock()
	return admin != nil && admin.IsConnected()
}

// Admin returns the proxy for the admin identity, nil before the first Connect.
func (f *Factory) Admin() *proxy.Proxy {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.adminProxy
}

// LedgerContext returns the shared ledger context, nil before the first
// successful Connect.
func (f *Factory) LedgerContext() *ledger.Context {
	f.mu.RLock()
	admin := f.admin
	f.mu.RUnlock()
	if admin == nil {
		return nil
	}
	return admin.LedgerContext()
}

// Create returns the proxy for the requested account, creating and
// registering it if needed. An existing proxy is returned as is.
//
// When the subscription update fails the proxy is still registered and
// returned, marked degraded, together with a *SubscriptionError.
//
// Concurrent calls for one username share a single create bounded by
// Config.CreateTimeout. A caller whose ctx ends stops waiting with ctx's
// error; the create carries on for the others.
func (f *Factory) Create(ctx context.Context, req CreateRequest) (*proxy.Proxy, error) {
	if !f.ready.Load() {
		return nil, ErrNotReady
	}
	lc := f.LedgerContext()

	username, err := resolveUsername(req, lc)
	if err != nil {
		return nil, err
	}

	if p, ok := f.registry.Get(username); ok {
		return p, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The flight is shared by every caller for username, so it must outlive
	// any one caller's context.
	ch := f.createGroup.DoChan(username, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.CreateTimeout)
		defer cancel()
		return f.create(fctx, username, req.Account, lc)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		p, _ := res.Val.(*proxy.Proxy)
		return p, res.Err
	}
}

func resolveUsername(req CreateRequest, lc *ledger.Context) (string, error) {
	switch {
	case req.Username != "" && req.Account != "":
		return "", &InvalidArgumentError{Field: "request", Reason: "username and account are mutually exclusive"}
	case req.Username == "" && req.Account == "":
		return "", &InvalidArgumentError{Field: "request", Reason: "username or account is required"}
	}

	username := req.Username
	field, value := "username", req.Username
	if req.Account != "" {
		username = lc.AccountName(req.Account)
		field, value = "account", req.Account
	}

	if !usernamePattern.MatchString(username) {
		return "", &InvalidArgumentError{
			Field:  field,
			Value:  value,
			Reason: "username must match " + usernamePattern.String(),
		}
	}
	return username, nil
}

func (f *Factory) create(ctx context.Context, username, account string, lc *ledger.Context) (*proxy.Proxy, error) {
	// A flight that finished just before this one may have inserted it.
	if p, ok := f.registry.Get(username); ok {
		return p, nil
	}

	address := account
	if address == "" {
		address = lc.AccountURI(username)
	}

	if err := f.checkAccount(ctx, address); err != nil {
		f.logger.Warn("account existence check failed", "username", username, "error", err)
		return nil, err
	}

	p := proxy.NewDelegated(proxy.Config{
		Username:    username,
		Account:     address,
		Credentials: f.cfg.Credentials,
		Ledger:      lc,
		Translate:   f.translate,
		Logger:      f.baseLogger,
	}, f.IsConnected)

	actual, loaded := f.registry.LoadOrStore(p)
	if loaded {
		return actual, nil
	}

	f.logger.Info("proxy created", "username", username, "account", address)

	if f.cfg.Global {
		p.MarkSubscribed(true)
		f.recordProxies()
		return p, nil
	}

	if err := f.syncSubscriptions(ctx); err != nil {
		f.logger.Warn("proxy registered without subscription", "username", username, "error", err)
		return p, err
	}
	return p, nil
}

func (f *Factory) checkAccount(ctx context.Context, address string) error {
	status, body, err := f.checker.CheckAccount(ctx, address)

	switch {
	case err != nil:
		err = &UnreachableError{Address: address, Err: err}
	case status != 200:
		err = &UnreachableError{Address: address, Status: status, Body: string(body)}
	}

	f.metrics.ObserveExistenceCheck(err)
	return err
}

// syncSubscriptions sends the registry's account set to the ledger. Proxies
// in the snapshot are marked subscribed on success; on failure the flags are
// left alone, so only proxies never confirmed stay degraded.
func (f *Factory) syncSubscriptions(ctx context.Context) error {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()
	defer f.recordProxies()

	f.mu.RLock()
	admin := f.admin
	f.mu.RUnlock()
	if admin == nil {
		return ErrNotReady
	}

	proxies, accounts := f.registry.SubscriptionSnapshot()
	if err := admin.Subscribe(ctx, accounts); err != nil {
		return &SubscriptionError{Accounts: accounts, Err: err}
	}

	for _, p := range proxies {
		p.MarkSubscribed(true)
	}
	f.logger.Debug("subscriptions synced", "accounts", len(accounts))
	return nil
}

// Resync re-issues the subscription request for the current registry.
func (f *Factory) Resync(ctx context.Context) error {
	if !f.ready.Load() {
		return ErrNotReady
	}

	if f.cfg.Global {
		f.mu.RLock()
		admin := f.admin
		f.mu.RUnlock()
		return admin.SubscribeAll(ctx)
	}
	return f.syncSubscriptions(ctx)
}

// resyncLoop periodically retries the subscription while proxies are degraded.
func (f *Factory) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			degraded := f.Degraded()
			if len(degraded) == 0 || !f.IsConnected() {
				continue
			}

			if err := f.Resync(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					f.logger.Warn("resync failed", "degraded", len(degraded), "error", err)
				}
				continue
			}
			f.logger.Info("resync recovered degraded proxies", "count", len(degraded))
		}
	}
}

// Remove unregisters the proxy for username and detaches its listeners.
// Unknown usernames are ignored. The subscription set is not updated.
func (f *Factory) Remove(username string) {
	p, ok := f.registry.Delete(username)
	if !ok {
		return
	}
	p.RemoveAllListeners()
	f.recordProxies()

	f.logger.Info("proxy removed", "username", username)
}

// Proxy returns the registered proxy for username.
func (f *Factory) Proxy(username string) (*proxy.Proxy, bool) {
	return f.registry.Get(username)
}

// Proxies returns the registered usernames, sorted.
func (f *Factory) Proxies() []string {
	return f.registry.Usernames()
}

// Degraded returns the usernames of registered proxies whose account is not
// known to be subscribed.
func (f *Factory) Degraded() []string {
	var out []string
	for _, p := range f.registry.Snapshot() {
		if !p.Subscribed() {
			out = append(out, p.Username())
		}
	}
	return out
}

// RouterStats returns notification router statistics.
func (f *Factory) RouterStats() router.Stats {
	return f.router.Stats()
}

// On registers a global listener. Global events carry the impacted username
// as their first argument; they are only emitted in global mode.
func (f *Factory) On(eventType string, fn events.Listener) events.ListenerID {
	return f.listeners.On(eventType, fn)
}

// Off removes a global listener.
func (f *Factory) Off(eventType string, id events.ListenerID) bool {
	return f.listeners.Off(eventType, id)
}

func (f *Factory) recordProxies() {
	if f.metrics == nil {
		return
	}
	total := f.registry.Len()
	f.metrics.SetProxies(total, len(f.Degraded()))
}

// Package router fans notifications from the admin connection out to the
// proxies of the accounts they concern.
//
// Notifications are consumed one at a time. Each impacted account gets its
// own dispatch task, so a slow or failing proxy never delays the others or
// the next notification. Dispatch errors are logged and counted; they never
// reach the caller.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/ledgermux/internal/ledger"
	"github.com/rickgao/ledgermux/internal/metrics"
	"github.com/rickgao/ledgermux/internal/model"
	"github.com/rickgao/ledgermux/internal/queue"
	"github.com/rickgao/ledgermux/internal/translate"
)

// Router dispatches notifications to proxies and global listeners.
type Router struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup

	received       atomic.Int64
	ignored        atomic.Int64
	dispatched     atomic.Int64
	skipped        atomic.Int64
	proxyFailures  atomic.Int64
	globalFailures atomic.Int64
	inFlight       atomic.Int64
}

// New creates a Router.
func New(opts Options) *Router {
	if opts.Translate == nil {
		opts.Translate = translate.Translate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Ledger == nil {
		opts.Ledger = func() *ledger.Context { return nil }
	}
	return &Router{
		opts:    opts,
		logger:  opts.Logger.With("component", "router"),
		metrics: opts.Metrics,
	}
}

// ImpactedAccounts returns the account URIs a notification concerns:
// credits then debits for transfers (duplicates and order kept), recipient
// then sender for messages, nothing for other kinds.
func ImpactedAccounts(n model.Notification) ([]string, error) {
	switch {
	case n.IsTransfer():
		t, err := n.Transfer()
		if err != nil {
			return nil, err
		}
		accounts := make([]string, 0, len(t.Credits)+len(t.Debits))
		for _, c := range t.Credits {
			accounts = append(accounts, c.Account)
		}
		for _, d := range t.Debits {
			accounts = append(accounts, d.Account)
		}
		return accounts, nil

	case n.IsMessage():
		m, err := n.Message()
		if err != nil {
			return nil, err
		}
		return []string{m.To, m.From}, nil

	default:
		return nil, nil
	}
}

// Run routes notifications from q until q is closed or ctx is done.
func (r *Router) Run(ctx context.Context, q *queue.Queue[model.Notification]) {
	r.logger.Info("notification router started")
	defer r.logger.Info("notification router stopped")

	for {
		n, ok := q.Pop(ctx)
		if !ok {
			return
		}
		r.Route(ctx, n)
	}
}

// Route starts one dispatch task per impacted account and returns without
// waiting for them.
func (r *Router) Route(ctx context.Context, n model.Notification) {
	r.received.Add(1)

	accounts, err := ImpactedAccounts(n)
	if err != nil {
		r.logger.Warn("malformed notification", "event", n.Event, "error", err)
		r.ignored.Add(1)
		return
	}
	if len(accounts) == 0 {
		r.logger.Debug("notification impacts no account", "event", n.Event)
		r.ignored.Add(1)
		return
	}

	lc := r.opts.Ledger()
	if lc == nil {
		r.logger.Warn("no ledger context, dropping notification", "event", n.Event)
		r.ignored.Add(1)
		return
	}

	for _, account := range accounts {
		account := account // per-iteration copy (go directive < 1.22)
		username := lc.AccountName(account)
		r.dispatched.Add(1)

		// Global listeners and the proxy are separate targets; neither waits
		// for the other.
		if r.opts.Global && r.opts.Listeners != nil {
			r.spawn(func() { r.dispatchGlobal(ctx, n, account, username, lc) })
		}
		r.spawn(func() { r.dispatchProxy(ctx, n, username) })
	}
	r.metrics.ObserveRouted(len(accounts))
}

// Wait blocks until every started dispatch task has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		NotificationsReceived: r.received.Load(),
		NotificationsIgnored:  r.ignored.Load(),
		Dispatched:            r.dispatched.Load(),
		Skipped:               r.skipped.Load(),
		ProxyFailures:         r.proxyFailures.Load(),
		GlobalFailures:        r.globalFailures.Load(),
		InFlight:              r.inFlight.Load(),
	}
}

func (r *Router) spawn(task func()) {
	r.inFlight.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inFlight.Add(-1)
		task()
	}()
}

func (r *Router) dispatchGlobal(ctx context.Context, n model.Notification, account, username string, lc *ledger.Context) {
	if err := r.emitGlobal(ctx, n, account, username, lc); err != nil {
		r.globalFailures.Add(1)
		r.metrics.IncDispatchFailure(TargetGlobal)
		r.logger.Error("global listener failed",
			"event", n.Event,
			"account", account,
			"error", err,
		)
	}
}

func (r *Router) dispatchProxy(ctx context.Context, n model.Notification, username string) {
	p, ok := r.opts.Registry.Get(username)
	if username == "" || !ok {
		r.skipped.Add(1)
		r.metrics.IncSkipped()
		return
	}

	if err := safely(func() error { return p.HandleNotification(ctx, n) }); err != nil {
		r.proxyFailures.Add(1)
		r.metrics.IncDispatchFailure(TargetProxy)
		r.logger.Error("proxy failed to handle notification",
			"username", username,
			"event", n.Event,
			"error", err,
		)
	}
}

func (r *Router) emitGlobal(ctx context.Context, n model.Notification, account, username string, lc *ledger.Context) error {
	if username == "" {
		r.logger.Debug("account not on this ledger", "account", account)
		return nil
	}

	return safely(func() error {
		ev, err := r.opts.Translate(n, account, lc)
		if errors.Is(err, translate.ErrNoEvent) {
			return nil
		}
		if err != nil {
			return err
		}

		ev.Username = username
		ev.Args = append([]any{username}, ev.Args...)
		return r.opts.Listeners.Emit(ctx, ev)
	})
}

// safely runs fn, turning a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

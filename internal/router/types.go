package router

import (
	"log/slog"

	"github.com/rickgao/ledgermux/internal/events"
	"github.com/rickgao/ledgermux/internal/ledger"
	"github.com/rickgao/ledgermux/internal/metrics"
	"github.com/rickgao/ledgermux/internal/proxy"
	"github.com/rickgao/ledgermux/internal/translate"
)

// Dispatch targets, used as metric labels.
const (
	TargetProxy  = "proxy"
	TargetGlobal = "global"
)

// Directory resolves usernames to registered proxies.
type Directory interface {
	Get(username string) (*proxy.Proxy, bool)
}

// Options wires a Router to its collaborators.
type Options struct {
	Registry Directory

	// Ledger returns the current shared ledger context, nil while disconnected.
	Ledger func() *ledger.Context

	// Global enables delivery of every notification to Listeners, with the
	// impacted username as first argument.
	Global    bool
	Listeners *events.Emitter

	Translate translate.Func // Defaults to translate.Translate
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Stats contains runtime statistics.
type Stats struct {
	NotificationsReceived int64 // Handed to Route
	NotificationsIgnored  int64 // Kinds that impact no account
	Dispatched            int64 // Impacted accounts dispatched to
	Skipped               int64 // Tasks whose account has no proxy
	ProxyFailures         int64 // Proxy handler errors or panics
	GlobalFailures        int64 // Global listener errors or panics
	InFlight              int64 // Tasks not yet finished
}

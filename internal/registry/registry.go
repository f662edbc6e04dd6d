// Package registry holds the proxies currently handed out, keyed by username.
package registry

import (
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rickgao/ledgermux/internal/proxy"
)

// Registry is a thread-safe username -> proxy map.
// At most one proxy is stored per username.
type Registry struct {
	mu      sync.RWMutex
	proxies map[string]*proxy.Proxy
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{proxies: make(map[string]*proxy.Proxy)}
}

// Get returns the proxy for username (read-locked).
func (r *Registry) Get(username string) (*proxy.Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.proxies[username]
	return p, ok
}

// LoadOrStore returns the existing proxy for p's username if there is one,
// otherwise stores p. loaded reports whether an existing proxy was returned.
func (r *Registry) LoadOrStore(p *proxy.Proxy) (actual *proxy.Proxy, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.proxies[p.Username()]; ok {
		return existing, true
	}
	r.proxies[p.Username()] = p
	return p, false
}

// Delete removes and returns the proxy for username.
func (r *Registry) Delete(username string) (*proxy.Proxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.proxies[username]
	if ok {
		delete(r.proxies, username)
	}
	return p, ok
}

// Len returns the number of registered proxies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}

// Usernames returns the registered usernames, sorted.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.proxies))
	for name := range r.proxies {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Snapshot returns a copy of the registered proxies.
func (r *Registry) Snapshot() []*proxy.Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*proxy.Proxy, 0, len(r.proxies))
	for _, p := range r.proxies {
		out = append(out, p)
	}
	return out
}

// SubscriptionSnapshot returns, under one lock, the registered proxies and
// the sorted, de-duplicated set of their account URIs.
func (r *Registry) SubscriptionSnapshot() ([]*proxy.Proxy, []string) {
	r.mu.RLock()
	proxies := make([]*proxy.Proxy, 0, len(r.proxies))
	set := mapset.NewThreadUnsafeSetWithSize[string](len(r.proxies))
	for _, p := range r.proxies {
		proxies = append(proxies, p)
		set.Add(p.Account())
	}
	r.mu.RUnlock()

	accounts := set.ToSlice()
	slices.Sort(accounts)
	return proxies, accounts
}

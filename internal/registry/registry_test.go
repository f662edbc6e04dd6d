package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ledgermux/internal/proxy"
)

func newProxy(username string) *proxy.Proxy {
	return proxy.NewDelegated(proxy.Config{
		Username: username,
		Account:  "http://ledger.example/accounts/" + username,
	}, nil)
}

func TestRegistry_LoadOrStore(t *testing.T) {
	r := New()

	alice := newProxy("alice")
	got, loaded := r.LoadOrStore(alice)
	assert.False(t, loaded)
	assert.Same(t, alice, got)

	got, loaded = r.LoadOrStore(newProxy("alice"))
	assert.True(t, loaded)
	assert.Same(t, alice, got, "first proxy wins")

	p, ok := r.Get("alice")
	require.True(t, ok)
	assert.Same(t, alice, p)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Delete(t *testing.T) {
	r := New()
	alice := newProxy("alice")
	r.LoadOrStore(alice)

	p, ok := r.Delete("alice")
	require.True(t, ok)
	assert.Same(t, alice, p)

	_, ok = r.Delete("alice")
	assert.False(t, ok)
	_, ok = r.Get("alice")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_SubscriptionSnapshot(t *testing.T) {
	r := New()
	proxies, accounts := r.SubscriptionSnapshot()
	assert.Empty(t, proxies)
	assert.Empty(t, accounts)

	r.LoadOrStore(newProxy("bob"))
	r.LoadOrStore(newProxy("alice"))

	proxies, accounts = r.SubscriptionSnapshot()
	assert.Len(t, proxies, 2)
	assert.Equal(t, []string{
		"http://ledger.example/accounts/alice",
		"http://ledger.example/accounts/bob",
	}, accounts)
	assert.Equal(t, []string{"alice", "bob"}, r.Usernames())
	assert.Len(t, r.Snapshot(), 2)

	// Two usernames resolving to one account are subscribed once.
	r.LoadOrStore(proxy.NewDelegated(proxy.Config{
		Username: "alias",
		Account:  "http://ledger.example/accounts/alice",
	}, nil))
	proxies, accounts = r.SubscriptionSnapshot()
	assert.Len(t, proxies, 3)
	assert.Len(t, accounts, 2)
}

func TestRegistry_ConcurrentLoadOrStore(t *testing.T) {
	r := New()

	const workers = 32
	results := make([]*proxy.Proxy, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.LoadOrStore(newProxy("alice"))
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentMixed(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		name := fmt.Sprintf("user%d", i)
		go func() {
			defer wg.Done()
			r.LoadOrStore(newProxy(name))
		}()
		go func() {
			defer wg.Done()
			_, _ = r.SubscriptionSnapshot()
		}()
		go func() {
			defer wg.Done()
			r.Delete(name)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 20)
}

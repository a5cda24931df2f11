package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	mu           sync.Mutex
	fns          map[string]func()
	unsubscribed int
}

func (n *fakeNotifier) Subscribe(channel, tenantID string, fn func()) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fns == nil {
		n.fns = make(map[string]func())
	}
	key := channel + "/" + tenantID
	n.fns[key] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.fns, key)
		n.unsubscribed++
	}, nil
}

func (n *fakeNotifier) fire(key string) {
	n.mu.Lock()
	fn := n.fns[key]
	n.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestFeed_InitialFetchAndRefetchOnNotify(t *testing.T) {
	n := &fakeNotifier{}
	fetched := make(chan struct{}, 4)

	feed, err := StartFeed(n, ChannelInventory, "bank-1", func(ctx context.Context) {
		fetched <- struct{}{}
	}, zap.NewNop())
	require.NoError(t, err)

	waitFetch := func() {
		select {
		case <-fetched:
		case <-time.After(2 * time.Second):
			t.Fatal("expected a fetch")
		}
	}
	waitFetch()

	n.fire(ChannelInventory + "/bank-1")
	waitFetch()

	feed.Stop()
	feed.Stop()
	assert.Equal(t, 1, n.unsubscribed)

	n.fire(ChannelInventory + "/bank-1")
	select {
	case <-fetched:
		t.Fatal("fetch after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

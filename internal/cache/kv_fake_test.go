package cache_test

import (
	"context"
	"sync"
	"time"

	"bloodbank-sync/internal/cache"
)

// fakeKVStore 仅用于单元测试（内存 KV + TTL + 写失败注入）
type fakeKVStore struct {
	mu       sync.Mutex
	data     map[string]fakeKVItem
	setErr   error
	setCalls int
}

type fakeKVItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]fakeKVItem)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.data[key]
	if !ok {
		return "", cache.ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(f.data, key)
		return "", cache.ErrCacheMiss
	}
	return item.value, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.data[key] = fakeKVItem{value: value, expires: exp}
	return nil
}

func (f *fakeKVStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKVStore) raw(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.data[key]
	return item.value, ok
}

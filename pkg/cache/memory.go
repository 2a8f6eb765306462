package cache

import (
	"context"
	"path"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps entries in process. Values are copied on the way in
// and out so callers never share buffers.
type MemoryBackend struct {
	c  *gocache.Cache
	mu sync.Mutex
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{c: gocache.New(10*time.Minute, 5*time.Minute)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	x, ok := b.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	v, ok := x.([]byte)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (b *MemoryBackend) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return b.c.Add(key, []byte("1"), ttl) == nil, nil
}

func (b *MemoryBackend) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if _, ok := b.c.Get(k); ok {
			n++
		}
		b.c.Delete(k)
	}
	return n, nil
}

// Scan matches keys with shell globs, which covers the patterns Redis SCAN
// is given here.
func (b *MemoryBackend) Scan(_ context.Context, pattern string) ([]string, error) {
	var keys []string
	for k := range b.c.Items() {
		if ok, err := path.Match(pattern, k); err != nil {
			return nil, err
		} else if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *MemoryBackend) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.c.Add(key, int64(0), ttl)
	return b.c.IncrementInt64(key, 1)
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

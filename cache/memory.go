package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process [Cache]. Expired entries are dropped lazily on
// access. Scan patterns use glob syntax where '*' spans any characters,
// matching Redis MATCH semantics for the patterns used by this module.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// MemoryOption customizes a [Memory] cache.
type MemoryOption func(*Memory)

// WithClock overrides the clock used for TTL bookkeeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty in-process cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", key, err)
	}

	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(item.expiresAt) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable("set", key, err)
	}

	m.mu.Lock()
	m.items[key] = memoryItem{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Take(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("take", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.items, key)
	if !m.now().Before(item.expiresAt) {
		return nil, ErrNotFound
	}
	return item.value, nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("remove", key, err)
	}

	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (m *Memory) Scan(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("scan", pattern, err)
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, key)
			continue
		}
		if g.Match(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *Memory) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		v, err := m.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (m *Memory) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		if err := m.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, item := range m.items {
		if now.Before(item.expiresAt) {
			n++
		}
	}
	return n
}

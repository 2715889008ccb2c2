package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned when a key is missing or expired.
	ErrNotFound = errors.New("cache key not found")
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("cache unavailable")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("cache value corrupt")
	// ErrInvalidTTL is returned when a write carries a non-positive TTL.
	ErrInvalidTTL = errors.New("cache ttl must be positive")
	// ErrInvalidPattern is returned when a scan pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid cache scan pattern")
)

// Cache is the TTL key-value store consumed by the refresh, action-token and
// rate-limit components.
type Cache interface {
	// Get returns the raw value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key for ttl, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take returns the value stored at key and deletes it in one step, or
	// ErrNotFound. Of concurrent callers at most one receives the value.
	Take(ctx context.Context, key string) ([]byte, error)
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Scan returns every key matching a glob pattern such as "auth:password_reset:*".
	Scan(ctx context.Context, pattern string) ([]string, error)
	// GetMany returns the values present for keys; missing keys are omitted.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	// SetMany stores every item with the same ttl.
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error
}

// GetJSON reads key and decodes it into dst.
func GetJSON(ctx context.Context, c Cache, key string, dst any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return oops.In("cache").
			Code("CACHE_CORRUPT").
			With("key", key).
			Wrap(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return nil
}

// SetJSON encodes v and stores it at key for ttl.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return oops.In("cache").
			Code("CACHE_ENCODE_FAILED").
			With("key", key).
			Wrap(err)
	}
	return c.Set(ctx, key, raw, ttl)
}

func unavailable(op, key string, err error) error {
	return oops.In("cache").
		Code("CACHE_UNAVAILABLE").
		With("operation", op, "key", key).
		Wrap(fmt.Errorf("%w: %v", ErrUnavailable, err))
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

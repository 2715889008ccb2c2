// Package cachetest provides miniredis-backed caches for package tests.
package cachetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/storefront/authguard/cache"
)

// NewRedis starts a miniredis server and returns a cache bound to it. The
// server and client are closed when the test finishes.
func NewRedis(t testing.TB) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return cache.NewRedis(rdb), mr
}

// NewRedisCluster is NewRedis over a cluster client. miniredis answers
// CLUSTER SLOTS as a single master owning every slot.
func NewRedisCluster(t testing.TB) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:      []string{mr.Addr()},
		MaxRetries: -1,
	})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return cache.NewRedis(rdb), mr
}

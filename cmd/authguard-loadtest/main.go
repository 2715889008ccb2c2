// Command authguard-loadtest measures refresh-token and rate-limiter
// throughput against Redis, or an in-process miniredis when no address is
// given.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/storefront/authguard/cache"
	"github.com/storefront/authguard/ratelimit"
	"github.com/storefront/authguard/refresh"
)

type userState struct {
	userID string
	token  string
	mu     sync.Mutex
}

func main() {
	var (
		users       = pflag.Int("users", 20000, "number of users to seed with a refresh token")
		concurrency = pflag.Int("concurrency", 128, "number of concurrent workers")
		ops         = pflag.Int("ops", 100000, "operations per phase")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	pflag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	c := cache.NewRedis(client)
	store := refresh.NewStore(c)
	limiter, err := ratelimit.New(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "limiter: %v\n", err)
		os.Exit(1)
	}

	states := make([]userState, *users)
	fmt.Printf("seeding %d refresh tokens...\n", *users)
	startSeed := time.Now()
	for i := range states {
		id := fmt.Sprintf("user-%d", i)
		token, err := store.Generate(ctx, refresh.Subject{UserID: id, Email: id + "@loadtest.invalid"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i].userID = id
		states[i].token = token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.token
		st.mu.Unlock()
		res, err := store.Validate(ctx, token)
		if err == nil && !res.Valid {
			err = errStale
		}
		return err
	})

	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		token, err := store.Generate(ctx, refresh.Subject{UserID: st.userID})
		if err == nil {
			st.token = token
		}
		return err
	})

	rule := ratelimit.Rule{Name: "loadtest", MaxAttempts: 5, Window: time.Minute, AutoBlockAfter: -1}
	limiterStats := runPhase(*ops, *concurrency, 3571, func(r *rand.Rand, i int) error {
		id := fmt.Sprintf("10.%d.%d.%d", r.Intn(256), r.Intn(256), i%256)
		if !limiter.Allow(ctx, id, rule) {
			return nil
		}
		_, err := limiter.IncrementRule(ctx, id, rule)
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("rotate", rotateStats)
	printStats("limiter", limiterStats)
}

var errStale = errors.New("refresh token no longer valid")

// runPhase spreads ops calls of op over concurrency workers and records the
// latency of each call.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

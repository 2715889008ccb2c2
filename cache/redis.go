package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "github.com/storefront/authguard/cache"
	defaultScanCount = 100
)

// Redis implements [Cache] on a go-redis universal client. Each command runs
// inside a client span so cache latency shows up in request traces.
type Redis struct {
	client    redis.UniversalClient
	tracer    trace.Tracer
	scanCount int64
}

// RedisOption customizes a [Redis] cache.
type RedisOption func(*Redis)

// WithTracerProvider replaces the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) RedisOption {
	return func(r *Redis) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithScanCount sets the COUNT hint used for SCAN iterations.
func WithScanCount(n int64) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.scanCount = n
		}
	}
}

// NewRedis wraps client. The client's own dial/read/write timeouts are the
// only timeouts applied. A *redis.ClusterClient is supported: Scan walks every
// master and GetMany never sends a multi-key command.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		tracer:    otel.Tracer(tracerName),
		scanCount: defaultScanCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, span := r.start(ctx, "ping")
	defer span.End()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.fail(span, "ping", "", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := r.start(ctx, "get")
	defer span.End()

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, r.fail(span, "get", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	ctx, span := r.start(ctx, "set")
	defer span.End()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return r.fail(span, "set", key, err)
	}
	return nil
}

// Take is GETDEL, so of two concurrent callers only one receives the value.
func (r *Redis) Take(ctx context.Context, key string) ([]byte, error) {
	ctx, span := r.start(ctx, "take")
	defer span.End()

	val, err := r.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, r.fail(span, "take", key, err)
	}
	return val, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	ctx, span := r.start(ctx, "remove")
	defer span.End()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return r.fail(span, "remove", key, err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := r.start(ctx, "exists")
	defer span.End()

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, r.fail(span, "exists", key, err)
	}
	return n > 0, nil
}

// Scan walks the keyspace with SCAN MATCH. On a cluster client every master
// is walked.
func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, span := r.start(ctx, "scan")
	defer span.End()
	span.SetAttributes(attribute.String("cache.pattern", pattern))

	var (
		keys []string
		err  error
	)
	if cc, ok := r.client.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		err = cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			found, err := r.scanNode(ctx, node, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
	} else {
		keys, err = r.scanNode(ctx, r.client, pattern)
	}
	if err != nil {
		return nil, r.fail(span, "scan", pattern, err)
	}
	span.SetAttributes(attribute.Int("cache.keys", len(keys)))
	return keys, nil
}

func (r *Redis) scanNode(ctx context.Context, node redis.Cmdable, pattern string) ([]string, error) {
	var keys []string
	iter := node.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *Redis) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ctx, span := r.start(ctx, "get_many")
	defer span.End()

	// One GET per key: keys of a family hash to different cluster slots and
	// MGET across slots is rejected with CROSSSLOT.
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Get(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, r.fail(span, "get_many", keys[0], err)
	}
	for i, cmd := range cmds {
		val, err := cmd.Bytes()
		switch {
		case err == nil:
			out[keys[i]] = val
		case errors.Is(err, redis.Nil):
		default:
			return nil, r.fail(span, "get_many", keys[i], err)
		}
	}
	return out, nil
}

func (r *Redis) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	ctx, span := r.start(ctx, "set_many")
	defer span.End()

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range items {
			pipe.Set(ctx, key, value, ttl)
		}
		return nil
	})
	if err != nil {
		return r.fail(span, "set_many", "", err)
	}
	return nil
}

func (r *Redis) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", op),
		),
	)
}

func (r *Redis) fail(span trace.Span, op, key string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return unavailable(op, key, err)
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/storefront/authguard/cache"
)

const (
	attemptsPrefix = "auth:login_attempts:"
	blockedPrefix  = "auth:blocked:"
)

// ErrInvalidArgument is returned for blank identifiers and non-positive
// windows or durations.
var ErrInvalidArgument = errors.New("invalid argument")

// Counter is the stored attempt count.
type Counter struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
}

// BlockRecord is the stored block.
type BlockRecord struct {
	Identifier string        `json:"identifier"`
	BlockedAt  time.Time     `json:"blockedAt"`
	Duration   time.Duration `json:"duration"`
	Reason     string        `json:"reason"`
}

// ExpiresAt is when the block lapses.
func (b BlockRecord) ExpiresAt() time.Time {
	return b.BlockedAt.Add(b.Duration)
}

// Observer receives limiter events. metrics.Metrics implements it.
type Observer interface {
	RateLimitDecision(rule string, allowed bool)
	RateLimitFailOpen(op string)
	RateLimitAutoBlock(rule string)
}

type noopObserver struct{}

func (noopObserver) RateLimitDecision(string, bool) {}
func (noopObserver) RateLimitFailOpen(string) {}
func (noopObserver) RateLimitAutoBlock(string) {}

// Limiter implements the attempt counter and block list over a cache. It
// takes no locks: concurrent increments can under-count.
type Limiter struct {
	cache    cache.Cache
	config   Config
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) Option {
	return func(l *Limiter) { l.config = cfg }
}

// WithClock overrides the clock used for BlockedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		if o != nil {
			l.observer = o
		}
	}
}

// New returns a Limiter backed by c.
func New(c cache.Cache, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		cache:    c,
		config:   DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.config.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Config returns the limiter defaults.
func (l *Limiter) Config() Config { return l.config }

// IsAllowed reports whether identifier may attempt again: false while
// blocked, otherwise count < maxAttempts. It returns true when the cache
// cannot be read.
func (l *Limiter) IsAllowed(ctx context.Context, identifier string, maxAttempts int) bool {
	return l.allowed(ctx, "default", identifier, maxAttempts)
}

// Allow is IsAllowed with the rule's attempt budget.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	return l.allowed(ctx, rule.name(), identifier, rule.MaxAttempts)
}

func (l *Limiter) allowed(ctx context.Context, rule, identifier string, maxAttempts int) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		l.observer.RateLimitDecision(rule, false)
		return false
	}

	blocked, err := l.cache.Exists(ctx, blockedKey(identifier))
	if err != nil {
		l.failOpen(ctx, "is_allowed", identifier, err)
		return true
	}
	if blocked {
		l.observer.RateLimitDecision(rule, false)
		return false
	}

	count, err := l.count(ctx, identifier)
	if err != nil {
		if errors.Is(err, cache.ErrCorrupt) {
			l.logger.WarnContext(ctx, "corrupt attempt counter treated as zero", "identifier", identifier)
			count = 0
		} else {
			l.failOpen(ctx, "is_allowed", identifier, err)
			return true
		}
	}

	allowed := count < maxAttempts
	l.observer.RateLimitDecision(rule, allowed)
	return allowed
}

// IsBlocked reports whether a block record exists. It returns false when the
// cache cannot be read.
func (l *Limiter) IsBlocked(ctx context.Context, identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false
	}
	blocked, err := l.cache.Exists(ctx, blockedKey(identifier))
	if err != nil {
		l.failOpen(ctx, "is_blocked", identifier, err)
		return false
	}
	return blocked
}

// Increment records one failed attempt, re-arming the counter TTL to window,
// and auto-blocks once the limiter default threshold is reached. It returns
// the new count.
func (l *Limiter) Increment(ctx context.Context, identifier string, window time.Duration) (int, error) {
	return l.IncrementRule(ctx, identifier, Rule{MaxAttempts: l.config.DefaultThreshold, Window: window})
}

// IncrementRule is Increment with the rule's window, threshold and block
// duration.
func (l *Limiter) IncrementRule(ctx context.Context, identifier string, rule Rule) (int, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return 0, fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	if rule.Window <= 0 {
		return 0, fmt.Errorf("%w: window must be positive", ErrInvalidArgument)
	}

	count, err := l.count(ctx, identifier)
	if err != nil {
		if !errors.Is(err, cache.ErrCorrupt) {
			return 0, err
		}
		l.logger.WarnContext(ctx, "corrupt attempt counter reset", "identifier", identifier)
		count = 0
	}
	count++

	if err := cache.SetJSON(ctx, l.cache, attemptsKey(identifier), Counter{Identifier: identifier, Count: count}, rule.Window); err != nil {
		return 0, err
	}

	threshold, duration := rule.resolve(l.config)
	if threshold > 0 && count >= threshold {
		if err := l.autoBlock(ctx, rule.name(), identifier, count, duration); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (l *Limiter) autoBlock(ctx context.Context, rule, identifier string, count int, duration time.Duration) error {
	blocked, err := l.cache.Exists(ctx, blockedKey(identifier))
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}
	reason := fmt.Sprintf("auto-blocked after %d failed attempts", count)
	if err := l.Block(ctx, identifier, duration, reason); err != nil {
		return err
	}
	l.observer.RateLimitAutoBlock(rule)
	l.logger.WarnContext(ctx, "identifier auto-blocked",
		"identifier", identifier,
		"rule", rule,
		"attempts", count,
		"duration", duration,
	)
	return nil
}

// Reset clears the attempt counter. An existing block is kept.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	return l.cache.Remove(ctx, attemptsKey(identifier))
}

// Block stores a block record for duration.
func (l *Limiter) Block(ctx context.Context, identifier string, duration time.Duration, reason string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: block duration must be positive", ErrInvalidArgument)
	}
	rec := BlockRecord{
		Identifier: identifier,
		BlockedAt:  l.now().UTC(),
		Duration:   duration,
		Reason:     reason,
	}
	if err := cache.SetJSON(ctx, l.cache, blockedKey(identifier), rec, duration); err != nil {
		return oops.In("ratelimit").
			Code("RATELIMIT_BLOCK_FAILED").
			With("identifier", identifier).
			Wrap(err)
	}
	return nil
}

// Unblock removes the block record and the attempt counter.
func (l *Limiter) Unblock(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	if err := l.cache.Remove(ctx, blockedKey(identifier)); err != nil {
		return err
	}
	return l.Reset(ctx, identifier)
}

// Attempts returns the current attempt count; zero when none is recorded.
func (l *Limiter) Attempts(ctx context.Context, identifier string) (int, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return 0, fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	return l.count(ctx, identifier)
}

// BlockInfo returns the block record, if any.
func (l *Limiter) BlockInfo(ctx context.Context, identifier string) (BlockRecord, bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return BlockRecord{}, false, fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	var rec BlockRecord
	err := cache.GetJSON(ctx, l.cache, blockedKey(identifier), &rec)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, cache.ErrNotFound):
		return BlockRecord{}, false, nil
	default:
		return BlockRecord{}, false, err
	}
}

func (l *Limiter) count(ctx context.Context, identifier string) (int, error) {
	var c Counter
	err := cache.GetJSON(ctx, l.cache, attemptsKey(identifier), &c)
	switch {
	case err == nil:
		return c.Count, nil
	case errors.Is(err, cache.ErrNotFound):
		return 0, nil
	default:
		return 0, err
	}
}

func (l *Limiter) failOpen(ctx context.Context, op, identifier string, err error) {
	l.observer.RateLimitFailOpen(op)
	l.logger.WarnContext(ctx, "rate limiter failing open",
		"operation", op,
		"identifier", identifier,
		"error", err,
	)
}

func attemptsKey(identifier string) string { return attemptsPrefix + identifier }

func blockedKey(identifier string) string { return blockedPrefix + identifier }

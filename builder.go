package authguard

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/authguard/actiontoken"
	"github.com/storefront/authguard/cache"
	"github.com/storefront/authguard/internal/audit"
	"github.com/storefront/authguard/jwt"
	"github.com/storefront/authguard/password"
	"github.com/storefront/authguard/ratelimit"
	"github.com/storefront/authguard/refresh"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	cache  cache.Cache

	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	metrics      MetricsRecorder
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCache sets the token and limiter backend.
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithRedis uses client as the cache backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	if client != nil {
		b.cache = cache.NewRedis(client)
	}
	return b
}

// WithUserProvider sets the account store.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets where audit events go when auditing is enabled. The
// default logs them through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger shared by every component.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics sets the instrumentation recorder.
func (b *Builder) WithMetrics(m MetricsRecorder) *Builder {
	b.metrics = m
	return b
}

// WithClock overrides the clock for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.cache == nil {
		return nil, errors.Join(ErrEngineNotReady, errors.New("cache or redis client required"))
	}
	if b.userProvider == nil {
		return nil, errors.Join(ErrEngineNotReady, errors.New("user provider required"))
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	var rec MetricsRecorder = noopMetrics{}
	if b.metrics != nil {
		rec = b.metrics
	}

	hasher, err := password.New(cfg.hasherConfig())
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(cfg.jwtConfig(now))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:  cfg,
		users:   b.userProvider,
		hasher:  hasher,
		tokens:  tokens,
		metrics: rec,
		logger:  logger.With("component", "authguard"),
		now:     now,
	}

	e.refresh = refresh.NewStore(b.cache,
		refresh.WithTTL(cfg.Tokens.RefreshTTL),
		refresh.WithClock(now),
		refresh.WithLogger(logger.With("component", "refresh")),
	)
	e.emailTokens = actiontoken.NewEmailConfirmationStore(b.cache,
		actiontoken.WithTTL(cfg.Tokens.EmailConfirmationTTL),
		actiontoken.WithClock(now),
		actiontoken.WithLogger(logger.With("component", "actiontoken")),
	)
	e.resetTokens = actiontoken.NewPasswordResetStore(b.cache,
		actiontoken.WithTTL(cfg.Tokens.PasswordResetTTL),
		actiontoken.WithClock(now),
		actiontoken.WithLogger(logger.With("component", "actiontoken")),
	)

	if cfg.RateLimit.Enabled {
		e.limiter, err = ratelimit.New(b.cache,
			ratelimit.WithConfig(cfg.limiterConfig()),
			ratelimit.WithClock(now),
			ratelimit.WithLogger(logger.With("component", "ratelimit")),
			ratelimit.WithObserver(rec),
		)
		if err != nil {
			return nil, err
		}
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger.With("component", "audit"))
	}
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, audit.OnDrop(rec.AuditDropped))

	b.built = true
	return e, nil
}

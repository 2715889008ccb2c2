package actiontoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/storefront/authguard/cache"
	"github.com/storefront/authguard/internal"
)

var (
	// ErrInvalidArgument is returned for blank subjects, emails or tokens
	// passed to mutating calls.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrGenerateFailed wraps entropy failures while creating a token.
	ErrGenerateFailed = errors.New("action token generation failed")
)

// Record is the stored shape of an action token.
type Record struct {
	Subject   string    `json:"subject"`
	Email     string    `json:"email"`
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
}

type policy struct {
	name   string
	prefix string
	ttl    time.Duration
	// consume deletes the record on a successful match.
	consume bool
}

func (p policy) key(subject string) string { return p.prefix + subject }

func (p policy) pattern() string { return p.prefix + "*" }

// store is the shared core. Subjects are used verbatim as key suffixes;
// callers normalise them first.
type store struct {
	cache  cache.Cache
	policy policy
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a store.
type Option func(*options)

type options struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// WithTTL overrides the token lifetime of the family.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newStore(c cache.Cache, p policy, opts []Option) store {
	o := options{ttl: p.ttl, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	p.ttl = o.ttl
	return store{
		cache:  c,
		policy: p,
		now:    o.now,
		logger: o.logger.With("token_family", p.name),
	}
}

// generate overwrites any previous token for subject.
func (s store) generate(ctx context.Context, subject, email string) (string, error) {
	token, hash, err := internal.NewOpaqueTokenWithHash()
	if err != nil {
		return "", oops.In("actiontoken").
			Code("ACTION_TOKEN_GENERATE_FAILED").
			With("family", s.policy.name).
			Wrap(fmt.Errorf("%w: %v", ErrGenerateFailed, err))
	}
	rec := Record{
		Subject:   subject,
		Email:     email,
		TokenHash: hash,
		CreatedAt: s.now().UTC(),
	}
	if err := cache.SetJSON(ctx, s.cache, s.policy.key(subject), rec, s.policy.ttl); err != nil {
		return "", err
	}
	s.logger.DebugContext(ctx, "action token issued", "subject", subject)
	return token, nil
}

// lookup returns the record stored for subject when it matches token.
func (s store) lookup(ctx context.Context, subject, token string) (Record, bool, error) {
	var rec Record
	err := cache.GetJSON(ctx, s.cache, s.policy.key(subject), &rec)
	if errors.Is(err, cache.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if !internal.HashEqual(rec.TokenHash, internal.HashToken(token)) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// validate checks token against subject's record and consumes it when the
// policy says so. A mismatch leaves state unchanged. Consumption takes the
// record atomically, so concurrent validations of one token succeed once.
func (s store) validate(ctx context.Context, subject, token string) (bool, error) {
	_, ok, err := s.lookup(ctx, subject, token)
	if err != nil || !ok || !s.policy.consume {
		return ok, err
	}
	return s.take(ctx, subject, token)
}

// take removes subject's record and reports whether it still matched token.
// A record replaced since lookup is put back with its remaining lifetime.
func (s store) take(ctx context.Context, subject, token string) (bool, error) {
	key := s.policy.key(subject)
	raw, err := s.cache.Take(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.WarnContext(ctx, "dropping corrupt action token record", "key", key, "error", err)
		return false, nil
	}
	if internal.HashEqual(rec.TokenHash, internal.HashToken(token)) {
		return true, nil
	}
	if ttl := s.expiration(rec).Sub(s.now()); ttl > 0 {
		if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
			return false, err
		}
	}
	return false, nil
}

// find scans the whole family for the record matching token. Cost grows with
// the number of live tokens. match filters candidates further.
func (s store) find(ctx context.Context, token string, match func(Record) bool) (string, Record, bool, error) {
	keys, err := s.cache.Scan(ctx, s.policy.pattern())
	if err != nil || len(keys) == 0 {
		return "", Record{}, false, err
	}
	values, err := s.cache.GetMany(ctx, keys)
	if err != nil {
		return "", Record{}, false, err
	}

	hash := internal.HashToken(token)
	for key, raw := range values {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.WarnContext(ctx, "skipping corrupt action token record", "key", key, "error", err)
			continue
		}
		if !internal.HashEqual(rec.TokenHash, hash) {
			continue
		}
		if match != nil && !match(rec) {
			continue
		}
		return key, rec, true, nil
	}
	return "", Record{}, false, nil
}

func (s store) expiration(rec Record) time.Time {
	return rec.CreatedAt.Add(s.policy.ttl)
}

func (s store) remove(ctx context.Context, subject string) error {
	return s.cache.Remove(ctx, s.policy.key(subject))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/storefront/authguard/cache"
	"github.com/storefront/authguard/internal"
)

const (
	forwardPrefix = "auth:refresh_token:"
	reversePrefix = "auth:refresh_reverse:"

	// DefaultTTL is the refresh lifetime used when none is configured.
	DefaultTTL = 7 * 24 * time.Hour
)

var (
	// ErrInvalidArgument is returned for blank user ids.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrGenerateFailed wraps entropy failures while creating a token.
	ErrGenerateFailed = errors.New("refresh token generation failed")
)

// Subject identifies the owner of a refresh token.
type Subject struct {
	UserID string
	Email  string
}

// Record is the forward entry stored per user.
type Record struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
}

type reverseEntry struct {
	UserID string `json:"userId"`
}

// ValidationResult reports whether a presented token is the user's live token.
type ValidationResult struct {
	Valid     bool
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// TokenInfo describes a live refresh session.
type TokenInfo struct {
	UserID    string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store issues, validates and revokes refresh tokens. It holds no mutable
// state and is safe for concurrent use.
type Store struct {
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithTTL sets the refresh lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a Store backed by c.
func NewStore(c cache.Cache, opts ...Option) *Store {
	s := &Store{
		cache:  c,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the refresh lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Generate creates a token for sub, replacing any previous session. The
// forward record is written before the reverse index.
func (s *Store) Generate(ctx context.Context, sub Subject) (string, error) {
	userID := strings.TrimSpace(sub.UserID)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	token, hash, err := internal.NewOpaqueTokenWithHash()
	if err != nil {
		return "", oops.In("refresh").
			Code("REFRESH_GENERATE_FAILED").
			With("user_id", userID).
			Wrap(fmt.Errorf("%w: %v", ErrGenerateFailed, err))
	}

	rec := Record{
		UserID:    userID,
		Email:     sub.Email,
		TokenHash: hash,
		CreatedAt: s.now().UTC(),
	}
	if err := cache.SetJSON(ctx, s.cache, forwardKey(userID), rec, s.ttl); err != nil {
		return "", err
	}
	if err := cache.SetJSON(ctx, s.cache, reverseKey(hash), reverseEntry{UserID: userID}, s.ttl); err != nil {
		return "", err
	}

	s.logger.DebugContext(ctx, "refresh token issued", "user_id", userID)
	return token, nil
}

// Validate resolves token to its owner. A missing, superseded or mismatched
// token yields Valid=false with a nil error; cache failures are returned.
func (s *Store) Validate(ctx context.Context, token string) (ValidationResult, error) {
	if strings.TrimSpace(token) == "" {
		return ValidationResult{}, nil
	}
	hash := internal.HashToken(token)

	var rev reverseEntry
	if err := cache.GetJSON(ctx, s.cache, reverseKey(hash), &rev); err != nil {
		return ValidationResult{}, ignoreMiss(err)
	}
	if rev.UserID == "" {
		return ValidationResult{}, nil
	}

	rec, ok, err := s.record(ctx, rev.UserID)
	if err != nil || !ok {
		return ValidationResult{}, err
	}
	if !internal.HashEqual(rec.TokenHash, hash) {
		s.logger.DebugContext(ctx, "stale refresh reverse index", "user_id", rev.UserID)
		return ValidationResult{}, nil
	}

	return ValidationResult{
		Valid:     true,
		UserID:    rec.UserID,
		Email:     rec.Email,
		ExpiresAt: rec.CreatedAt.Add(s.ttl),
	}, nil
}

// Revoke ends the user's session: the reverse entry is removed first, then
// the forward record. With no forward record the reverse entry, if any, is
// left to expire.
func (s *Store) Revoke(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	rec, ok, err := s.record(ctx, userID)
	if err != nil {
		return err
	}
	if ok && rec.TokenHash != "" {
		if err := s.cache.Remove(ctx, reverseKey(rec.TokenHash)); err != nil {
			return err
		}
	}
	return s.cache.Remove(ctx, forwardKey(userID))
}

// RevokeAll revokes every session of the user. With one session per user it
// is the same as Revoke.
func (s *Store) RevokeAll(ctx context.Context, userID string) error {
	return s.Revoke(ctx, userID)
}

// ActiveTokens lists the user's live sessions: zero or one entry.
func (s *Store) ActiveTokens(ctx context.Context, userID string) ([]TokenInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	rec, ok, err := s.record(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	return []TokenInfo{{
		UserID:    rec.UserID,
		Email:     rec.Email,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.CreatedAt.Add(s.ttl),
	}}, nil
}

func (s *Store) record(ctx context.Context, userID string) (Record, bool, error) {
	var rec Record
	err := cache.GetJSON(ctx, s.cache, forwardKey(userID), &rec)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, cache.ErrNotFound):
		return Record{}, false, nil
	default:
		return Record{}, false, err
	}
}

func ignoreMiss(err error) error {
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	return err
}

func forwardKey(userID string) string { return forwardPrefix + userID }

func reverseKey(hash string) string { return reversePrefix + hash }

package actiontoken

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/authguard/cache"
)

// PasswordResetTTL is the default lifetime of a password reset token.
const PasswordResetTTL = time.Hour

// PasswordResetStore keeps one reset token per user id at
// auth:password_reset:{userID}. Lookups by token scan every live reset token
// and never consume it; callers invalidate explicitly once the password has
// changed.
type PasswordResetStore struct {
	s store
}

// NewPasswordResetStore returns a store backed by c.
func NewPasswordResetStore(c cache.Cache, opts ...Option) *PasswordResetStore {
	return &PasswordResetStore{s: newStore(c, policy{
		name:   "password_reset",
		prefix: "auth:password_reset:",
		ttl:    PasswordResetTTL,
	}, opts)}
}

// TTL returns the token lifetime.
func (p *PasswordResetStore) TTL() time.Duration { return p.s.policy.ttl }

// Generate issues a reset token for userID, replacing any outstanding one.
// email is recorded so that validation can check it.
func (p *PasswordResetStore) Generate(ctx context.Context, userID, email string) (string, error) {
	userID, email = strings.TrimSpace(userID), normalizeEmail(email)
	if userID == "" || email == "" {
		return "", fmt.Errorf("%w: user id and email are required", ErrInvalidArgument)
	}
	return p.s.generate(ctx, userID, email)
}

// IsTokenValid reports whether token is a live reset token issued for email.
// It has no side effects.
func (p *PasswordResetStore) IsTokenValid(ctx context.Context, email, token string) (bool, error) {
	_, ok, err := p.Lookup(ctx, email, token)
	return ok, err
}

// Lookup returns the record of a live reset token issued for email.
func (p *PasswordResetStore) Lookup(ctx context.Context, email, token string) (Record, bool, error) {
	email = normalizeEmail(email)
	if blank(email, token) {
		return Record{}, false, nil
	}
	_, rec, ok, err := p.s.find(ctx, token, emailMatches(email))
	return rec, ok, err
}

// Expiration returns when the matching token expires; ok is false when there
// is no match.
func (p *PasswordResetStore) Expiration(ctx context.Context, email, token string) (time.Time, bool, error) {
	rec, ok, err := p.Lookup(ctx, email, token)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return p.s.expiration(rec), true, nil
}

// InvalidateAll removes the user's outstanding reset token.
func (p *PasswordResetStore) InvalidateAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	return p.s.remove(ctx, userID)
}

// InvalidateToken removes the reset token matching token, whoever owns it.
// An unknown token is not an error.
func (p *PasswordResetStore) InvalidateToken(ctx context.Context, token string) error {
	if blank(token) {
		return fmt.Errorf("%w: token is required", ErrInvalidArgument)
	}
	key, _, ok, err := p.s.find(ctx, token, nil)
	if err != nil || !ok {
		return err
	}
	return p.s.cache.Remove(ctx, key)
}

func emailMatches(email string) func(Record) bool {
	return func(rec Record) bool {
		return rec.Email == email
	}
}

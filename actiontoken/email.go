package actiontoken

import (
	"context"
	"fmt"
	"time"

	"github.com/storefront/authguard/cache"
)

// EmailConfirmationTTL is the default lifetime of an email confirmation token.
const EmailConfirmationTTL = 24 * time.Hour

// EmailConfirmationStore keeps one confirmation token per lower-cased email
// at auth:email_confirm:{email}. Tokens are single use.
type EmailConfirmationStore struct {
	s store
}

// NewEmailConfirmationStore returns a store backed by c.
func NewEmailConfirmationStore(c cache.Cache, opts ...Option) *EmailConfirmationStore {
	return &EmailConfirmationStore{s: newStore(c, policy{
		name:    "email_confirmation",
		prefix:  "auth:email_confirm:",
		ttl:     EmailConfirmationTTL,
		consume: true,
	}, opts)}
}

// TTL returns the token lifetime.
func (e *EmailConfirmationStore) TTL() time.Duration { return e.s.policy.ttl }

// Generate issues a token for email, replacing any outstanding one.
func (e *EmailConfirmationStore) Generate(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	return e.s.generate(ctx, email, email)
}

// Validate reports whether token is the outstanding token for email. A match
// deletes the token, so the same token never validates twice.
func (e *EmailConfirmationStore) Validate(ctx context.Context, email, token string) (bool, error) {
	email = normalizeEmail(email)
	if blank(email, token) {
		return false, nil
	}
	return e.s.validate(ctx, email, token)
}

// Expiration returns when the matching token expires; ok is false when there
// is no match.
func (e *EmailConfirmationStore) Expiration(ctx context.Context, email, token string) (time.Time, bool, error) {
	email = normalizeEmail(email)
	if blank(email, token) {
		return time.Time{}, false, nil
	}
	rec, ok, err := e.s.lookup(ctx, email, token)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return e.s.expiration(rec), true, nil
}

// Invalidate removes any outstanding token for email.
func (e *EmailConfirmationStore) Invalidate(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	return e.s.remove(ctx, email)
}

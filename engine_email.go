package authguard

import (
	"context"
	"errors"
	"strings"
)

// RequestEmailConfirmation issues a confirmation token for email. Unknown and
// already confirmed addresses return an empty token and no error.
func (e *Engine) RequestEmailConfirmation(ctx context.Context, email string) (token string, err error) {
	defer e.observe("email_confirmation_request", e.now(), &err)

	email = normalizeEmail(email)
	if email == "" {
		return "", ErrInvalidArgument
	}

	if e.limiter != nil {
		rule := e.config.RateLimit.EmailConfirmation
		identifier := "email_confirmation:" + email
		if !e.limiter.Allow(ctx, identifier, rule) {
			e.countDenied(ctx, identifier, rule)
			e.auditFailure(ctx, EventEmailConfirmationLimited, "", email, "rate_limited")
			return "", ErrEmailConfirmationRateLimited
		}
		if _, err := e.limiter.IncrementRule(ctx, identifier, rule); err != nil {
			return "", err
		}
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", e.providerError("email_confirmation_request", err)
	}
	if user.EmailConfirmed {
		return "", nil
	}

	token, err = e.emailTokens.Generate(ctx, email)
	if err != nil {
		return "", err
	}
	e.metrics.TokenIssued(tokenKindEmailConfirmation)
	e.auditSuccess(ctx, EventEmailConfirmationSent, user.ID, email)
	return token, nil
}

// ConfirmEmail consumes a confirmation token and marks the address
// confirmed. A token validates at most once.
func (e *Engine) ConfirmEmail(ctx context.Context, email, token string) (err error) {
	defer e.observe("email_confirmation", e.now(), &err)

	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(token) == "" {
		return ErrInvalidArgument
	}

	ok, err := e.emailTokens.Validate(ctx, email, token)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.TokenValidated(tokenKindEmailConfirmation, "invalid")
		e.auditFailure(ctx, EventEmailConfirmationFailure, "", email, "invalid_token")
		return ErrEmailConfirmationInvalid
	}
	e.metrics.TokenValidated(tokenKindEmailConfirmation, "valid")

	user, err := e.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		e.auditFailure(ctx, EventEmailConfirmationFailure, "", email, "unknown_user")
		return ErrEmailConfirmationInvalid
	}
	if err != nil {
		return e.providerError("email_confirmation", err)
	}

	if err := e.users.MarkEmailConfirmed(ctx, user.ID); err != nil {
		return e.providerError("email_confirmation", err)
	}
	e.auditSuccess(ctx, EventEmailConfirmed, user.ID, email)
	return nil
}

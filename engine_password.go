package authguard

import (
	"context"
	"errors"
	"strings"

	"github.com/storefront/authguard/internal/logging"
)

// ChangePassword replaces the password of an authenticated user after
// checking the current one. The user's refresh token is revoked so other
// sessions must log in again.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) (err error) {
	defer e.observe("change_password", e.now(), &err)

	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(current) == "" || strings.TrimSpace(next) == "" {
		return ErrInvalidArgument
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		e.auditFailure(ctx, EventPasswordChangeFailure, userID, "", "unknown_user")
		return ErrInvalidCredentials
	}
	if err != nil {
		return e.providerError("change_password", err)
	}

	if !e.hasher.Verify(current, user.PasswordHash) {
		e.auditFailure(ctx, EventPasswordChangeFailure, user.ID, user.Email, "bad_password")
		return ErrInvalidCredentials
	}
	if current == next {
		e.auditFailure(ctx, EventPasswordChangeFailure, user.ID, user.Email, "reuse")
		return ErrPasswordReuse
	}

	if err := e.setPassword(ctx, user.ID, next); err != nil {
		return err
	}
	if err := e.refresh.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	e.auditSuccess(ctx, EventPasswordChanged, user.ID, user.Email)
	return nil
}

// RequestPasswordReset issues a reset token for email. Unknown emails return
// an empty token and no error so callers cannot enumerate accounts; delivery
// of a non-empty token is the caller's job.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (token string, err error) {
	defer e.observe("password_reset_request", e.now(), &err)

	email = normalizeEmail(email)
	if email == "" {
		return "", ErrInvalidArgument
	}

	if e.limiter != nil {
		rule := e.config.RateLimit.PasswordReset
		identifier := "password_reset:" + email
		if !e.limiter.Allow(ctx, identifier, rule) {
			e.countDenied(ctx, identifier, rule)
			e.auditFailure(ctx, EventPasswordResetRateLimited, "", email, "rate_limited")
			return "", ErrPasswordResetRateLimited
		}
		if _, err := e.limiter.IncrementRule(ctx, identifier, rule); err != nil {
			return "", err
		}
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		e.auditFailure(ctx, EventPasswordResetRequested, "", email, "unknown_user")
		return "", nil
	}
	if err != nil {
		return "", e.providerError("password_reset_request", err)
	}

	token, err = e.resetTokens.Generate(ctx, user.ID, user.Email)
	if err != nil {
		return "", err
	}
	e.metrics.TokenIssued(tokenKindPasswordReset)
	e.auditSuccess(ctx, EventPasswordResetRequested, user.ID, user.Email)
	return token, nil
}

// ResetPassword sets a new password using a reset token issued for email.
// On success every reset token of the user is invalidated, the refresh
// token revoked and the login counter keyed by the account email cleared.
func (e *Engine) ResetPassword(ctx context.Context, email, token, next string) (err error) {
	defer e.observe("password_reset", e.now(), &err)

	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(token) == "" || strings.TrimSpace(next) == "" {
		return ErrInvalidArgument
	}

	rec, ok, err := e.resetTokens.Lookup(ctx, email, token)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.TokenValidated(tokenKindPasswordReset, "invalid")
		e.auditFailure(ctx, EventPasswordResetFailure, "", email, "invalid_token")
		return ErrPasswordResetInvalid
	}
	e.metrics.TokenValidated(tokenKindPasswordReset, "valid")

	user, err := e.users.GetUserByID(ctx, rec.Subject)
	if errors.Is(err, ErrUserNotFound) {
		if ierr := e.resetTokens.InvalidateAll(ctx, rec.Subject); ierr != nil {
			logging.LogError(ctx, e.logger, "reset token cleanup failed", ierr)
		}
		e.auditFailure(ctx, EventPasswordResetFailure, rec.Subject, email, "unknown_user")
		return ErrPasswordResetInvalid
	}
	if err != nil {
		return e.providerError("password_reset", err)
	}

	if err := e.setPassword(ctx, user.ID, next); err != nil {
		return err
	}
	if err := e.resetTokens.InvalidateAll(ctx, user.ID); err != nil {
		return err
	}
	if err := e.refresh.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	if e.limiter != nil {
		if err := e.limiter.Reset(ctx, normalizeEmail(user.Email)); err != nil {
			logging.LogError(ctx, e.logger, "login attempt counter reset failed", err)
		}
	}

	e.auditSuccess(ctx, EventPasswordResetCompleted, user.ID, user.Email)
	return nil
}

func (e *Engine) setPassword(ctx context.Context, userID, plaintext string) error {
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return e.providerError("update_password", err)
	}
	return nil
}

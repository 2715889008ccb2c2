package authguard

import "errors"

var (
	// ErrInvalidArgument is returned for blank or missing input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidCredentials is returned when the email or password is wrong.
	// Unknown accounts and wrong passwords are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a UserProvider for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrLoginRateLimited is returned when the login identifier is blocked or
	// out of attempts.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrPasswordResetRateLimited is returned when too many reset requests
	// were made for an email.
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	// ErrEmailConfirmationRateLimited is returned when too many confirmation
	// requests were made for an email.
	ErrEmailConfirmationRateLimited = errors.New("email confirmation rate limited")
	// ErrRefreshInvalid is returned for unknown, superseded or revoked
	// refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrPasswordResetInvalid is returned for unknown or expired reset tokens.
	ErrPasswordResetInvalid = errors.New("invalid password reset token")
	// ErrEmailConfirmationInvalid is returned for unknown, used or expired
	// confirmation tokens.
	ErrEmailConfirmationInvalid = errors.New("invalid email confirmation token")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must differ from the current password")
	// ErrEngineNotReady is returned when a Builder is missing a dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnauthenticated is returned when no principal is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the principal lacks a required role.
	ErrForbidden = errors.New("forbidden")
)

package authguard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/storefront/authguard/actiontoken"
	"github.com/storefront/authguard/internal/audit"
	"github.com/storefront/authguard/internal/logging"
	"github.com/storefront/authguard/jwt"
	"github.com/storefront/authguard/password"
	"github.com/storefront/authguard/ratelimit"
	"github.com/storefront/authguard/refresh"
)

// Engine runs the authentication flows. Build one with New().Build().
type Engine struct {
	config Config
	users  UserProvider

	hasher      *password.Hasher
	tokens      *jwt.Manager
	refresh     *refresh.Store
	emailTokens *actiontoken.EmailConfirmationStore
	resetTokens *actiontoken.PasswordResetStore
	limiter     *ratelimit.Limiter

	audit   *audit.Dispatcher
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Close stops the audit dispatcher after delivering queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return cloneConfig(e.config) }

// Hasher returns the password hasher.
func (e *Engine) Hasher() *password.Hasher { return e.hasher }

// Tokens returns the access-token manager.
func (e *Engine) Tokens() *jwt.Manager { return e.tokens }

// RefreshTokens returns the refresh-token store.
func (e *Engine) RefreshTokens() *refresh.Store { return e.refresh }

// PasswordResetTokens returns the password-reset token store.
func (e *Engine) PasswordResetTokens() *actiontoken.PasswordResetStore { return e.resetTokens }

// EmailConfirmationTokens returns the email-confirmation token store.
func (e *Engine) EmailConfirmationTokens() *actiontoken.EmailConfirmationStore { return e.emailTokens }

// Limiter returns the rate limiter, or nil when rate limiting is disabled.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Login verifies email and password and issues a token pair. Attempts are
// counted per client address, or per email when no address is attached to
// ctx.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (pair TokenPair, err error) {
	defer e.observe("login", e.now(), &err)

	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(plaintext) == "" {
		return TokenPair{}, ErrInvalidArgument
	}

	identifier := loginIdentifier(ctx, email)
	rule := e.config.RateLimit.Login
	if e.limiter != nil && !e.limiter.Allow(ctx, identifier, rule) {
		e.countDenied(ctx, identifier, rule)
		e.auditFailure(ctx, EventLoginRateLimited, "", email, "rate_limited")
		return TokenPair{}, ErrLoginRateLimited
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		e.hasher.Verify(plaintext, e.timingHash())
		return TokenPair{}, e.loginFailed(ctx, identifier, "", email, "unknown_user")
	case err != nil:
		return TokenPair{}, e.providerError("login", err)
	}

	if !e.hasher.Verify(plaintext, user.PasswordHash) {
		return TokenPair{}, e.loginFailed(ctx, identifier, user.ID, email, "bad_password")
	}

	if e.limiter != nil {
		if err := e.limiter.Reset(ctx, identifier); err != nil {
			logging.LogError(ctx, e.logger, "login attempt counter reset failed", err)
		}
	}

	if e.config.Password.UpgradeOnLogin {
		if _, err := e.RehashIfNeeded(ctx, user, plaintext); err != nil {
			logging.LogError(ctx, e.logger, "password rehash failed", err)
		}
	}

	pair, err = e.issueTokens(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}
	e.auditSuccess(ctx, EventLoginSuccess, user.ID, email)
	return pair, nil
}

// loginFailed records a failed attempt. A failure to record is returned
// alongside ErrInvalidCredentials.
func (e *Engine) loginFailed(ctx context.Context, identifier, userID, email, reason string) error {
	e.auditFailure(ctx, EventLoginFailure, userID, email, reason)
	if e.limiter == nil {
		return ErrInvalidCredentials
	}
	if _, err := e.limiter.IncrementRule(ctx, identifier, e.config.RateLimit.Login); err != nil {
		return errors.Join(ErrInvalidCredentials, err)
	}
	return ErrInvalidCredentials
}

// countDenied records an attempt the limiter refused. Refused attempts keep
// counting toward the rule's auto-block threshold.
func (e *Engine) countDenied(ctx context.Context, identifier string, rule ratelimit.Rule) {
	if _, err := e.limiter.IncrementRule(ctx, identifier, rule); err != nil {
		logging.LogError(ctx, e.logger, "rate limit increment failed", err)
	}
}

// RehashIfNeeded replaces the stored hash when it was produced below the
// current target cost or with another algorithm. plaintext must already be
// verified against user.PasswordHash.
func (e *Engine) RehashIfNeeded(ctx context.Context, user User, plaintext string) (bool, error) {
	if !e.hasher.NeedsRehash(user.PasswordHash) {
		return false, nil
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return false, err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return false, e.providerError("rehash", err)
	}
	e.auditSuccess(ctx, EventPasswordRehashed, user.ID, user.Email)
	return true, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// stops validating once the new one is issued.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	defer e.observe("refresh", e.now(), &err)

	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, ErrInvalidArgument
	}

	res, err := e.refresh.Validate(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if !res.Valid {
		e.metrics.TokenValidated(tokenKindRefresh, "invalid")
		e.auditFailure(ctx, EventRefreshFailure, "", "", "invalid_token")
		return TokenPair{}, ErrRefreshInvalid
	}
	e.metrics.TokenValidated(tokenKindRefresh, "valid")

	user, err := e.users.GetUserByID(ctx, res.UserID)
	if errors.Is(err, ErrUserNotFound) {
		if rerr := e.refresh.RevokeAll(ctx, res.UserID); rerr != nil {
			logging.LogError(ctx, e.logger, "revoke for deleted user failed", rerr)
		}
		e.auditFailure(ctx, EventRefreshFailure, res.UserID, res.Email, "unknown_user")
		return TokenPair{}, ErrRefreshInvalid
	}
	if err != nil {
		return TokenPair{}, e.providerError("refresh", err)
	}

	pair, err = e.issueTokens(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}
	e.auditSuccess(ctx, EventRefreshSuccess, user.ID, user.Email)
	return pair, nil
}

// Logout revokes the user's refresh token. Access tokens already issued stay
// valid until they expire.
func (e *Engine) Logout(ctx context.Context, userID string) (err error) {
	defer e.observe("logout", e.now(), &err)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidArgument
	}
	if err := e.refresh.RevokeAll(ctx, userID); err != nil {
		return err
	}
	e.auditSuccess(ctx, EventLogout, userID, "")
	return nil
}

// ValidateAccessToken checks an access token. It never returns an error;
// Reason explains a rejection.
func (e *Engine) ValidateAccessToken(token string) AccessTokenResult {
	res := e.tokens.ValidateAccessToken(token)
	result := "valid"
	if !res.Valid {
		result = string(res.Reason)
	}
	e.metrics.TokenValidated(tokenKindAccess, result)

	return AccessTokenResult{
		Valid:     res.Valid,
		UserID:    res.UserID,
		Email:     res.Email,
		ExpiresAt: res.ExpiresAt,
		Roles:     res.Roles,
		Reason:    string(res.Reason),
	}
}

// Authenticate validates token and returns ctx carrying the principal.
func (e *Engine) Authenticate(ctx context.Context, token string) (context.Context, Principal, error) {
	res := e.ValidateAccessToken(token)
	if !res.Valid {
		return ctx, Principal{}, errors.Join(ErrUnauthenticated, errors.New(res.Reason))
	}
	p := Principal{
		UserID:    res.UserID,
		Email:     res.Email,
		Roles:     res.Roles,
		ExpiresAt: res.ExpiresAt,
	}
	return WithPrincipal(ctx, p), p, nil
}

func (e *Engine) issueTokens(ctx context.Context, user User) (TokenPair, error) {
	now := e.now()
	access, err := e.tokens.GenerateToken(jwt.Subject{
		UserID:         user.ID,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		DisplayName:    user.DisplayName,
		Status:         user.Status,
		EmailConfirmed: user.EmailConfirmed,
		Roles:          user.Roles,
	})
	if err != nil {
		return TokenPair{}, err
	}
	e.metrics.TokenIssued(tokenKindAccess)

	refreshToken, err := e.refresh.Generate(ctx, refresh.Subject{UserID: user.ID, Email: user.Email})
	if err != nil {
		return TokenPair{}, err
	}
	e.metrics.TokenIssued(tokenKindRefresh)

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(e.config.Tokens.RefreshTTL),
		UserID:           user.ID,
	}, nil
}

// timingHash is verified against when the account does not exist so that
// unknown emails cost the same as wrong passwords.
func (e *Engine) timingHash() string {
	e.dummyOnce.Do(func() {
		h, err := e.hasher.Hash("authguard-unknown-account")
		if err != nil {
			logging.LogError(context.Background(), e.logger, "timing hash generation failed", err)
			return
		}
		e.dummyHash = h
	})
	return e.dummyHash
}

func (e *Engine) observe(flow string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "failure"
	}
	e.metrics.FlowCompleted(flow, outcome, e.now().Sub(start))
}

func (e *Engine) providerError(flow string, err error) error {
	return oops.In("authguard").
		Code("USER_PROVIDER_FAILED").
		With("flow", flow).
		Wrap(err)
}

func loginIdentifier(ctx context.Context, email string) string {
	if ip := strings.TrimSpace(ClientIPFromContext(ctx)); ip != "" {
		return ip
	}
	return email
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package authguard

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/storefront/authguard/actiontoken"
	"github.com/storefront/authguard/jwt"
	"github.com/storefront/authguard/password"
	"github.com/storefront/authguard/ratelimit"
	"github.com/storefront/authguard/refresh"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what differs.
type Config struct {
	JWT       JWTConfig
	Tokens    TokenConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
}

// JWTConfig controls access-token issuance and validation.
type JWTConfig struct {
	Issuer    string
	Audience  string
	Secret    []byte
	AccessTTL time.Duration
	ClockSkew time.Duration

	ValidateIssuer   bool
	ValidateAudience bool
	ValidateLifetime bool
}

// TokenConfig holds the lifetimes of the cache-backed tokens.
type TokenConfig struct {
	RefreshTTL           time.Duration
	EmailConfirmationTTL time.Duration
	PasswordResetTTL     time.Duration
}

// PasswordConfig selects the hashing algorithm and target cost.
type PasswordConfig struct {
	Algorithm password.Algorithm
	// WorkFactor is the bcrypt cost.
	WorkFactor int
	Argon2     password.Argon2Params
	// UpgradeOnLogin rehashes a password at the current target cost after a
	// successful login.
	UpgradeOnLogin bool
}

// RateLimitConfig configures the limiter defaults and the per-flow rules.
type RateLimitConfig struct {
	Enabled             bool
	DefaultThreshold    int
	AutoBlockMultiplier int
	BlockDuration       time.Duration

	Login             ratelimit.Rule
	PasswordReset     ratelimit.Rule
	EmailConfirmation ratelimit.Rule
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns production defaults. JWT.Secret, JWT.Issuer and
// JWT.Audience have no default and must be set.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:        15 * time.Minute,
			ClockSkew:        30 * time.Second,
			ValidateIssuer:   true,
			ValidateAudience: true,
			ValidateLifetime: true,
		},
		Tokens: TokenConfig{
			RefreshTTL:           refresh.DefaultTTL,
			EmailConfirmationTTL: actiontoken.EmailConfirmationTTL,
			PasswordResetTTL:     actiontoken.PasswordResetTTL,
		},
		Password: PasswordConfig{
			Algorithm:      pw.Algorithm,
			WorkFactor:     pw.Cost,
			Argon2:         pw.Argon2,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			DefaultThreshold:    ratelimit.DefaultThreshold,
			AutoBlockMultiplier: ratelimit.DefaultAutoBlockMultiplier,
			BlockDuration:       ratelimit.DefaultBlockDuration,
			Login: ratelimit.Rule{
				Name:        "login",
				MaxAttempts: 5,
				Window:      15 * time.Minute,
			},
			PasswordReset: ratelimit.Rule{
				Name:        "password_reset",
				MaxAttempts: 3,
				Window:      time.Hour,
			},
			EmailConfirmation: ratelimit.Rule{
				Name:        "email_confirmation",
				MaxAttempts: 3,
				Window:      time.Hour,
			},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Validate reports the first unusable setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		return fmt.Errorf("JWT Secret must be at least %d bytes", jwt.MinSecretLength)
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.ClockSkew < 0 {
		return errors.New("JWT ClockSkew must be >= 0")
	}
	if c.JWT.ValidateIssuer && c.JWT.Issuer == "" {
		return errors.New("JWT Issuer is required when ValidateIssuer is set")
	}
	if c.JWT.ValidateAudience && c.JWT.Audience == "" {
		return errors.New("JWT Audience is required when ValidateAudience is set")
	}

	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.EmailConfirmationTTL <= 0 {
		return errors.New("Tokens EmailConfirmationTTL must be > 0")
	}
	if c.Tokens.PasswordResetTTL <= 0 {
		return errors.New("Tokens PasswordResetTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Tokens RefreshTTL must exceed JWT AccessTTL")
	}

	if _, err := password.New(c.hasherConfig()); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if err := c.limiterConfig().Validate(); err != nil {
			return err
		}
		for _, r := range []ratelimit.Rule{c.RateLimit.Login, c.RateLimit.PasswordReset, c.RateLimit.EmailConfirmation} {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("rule %q: %w", r.Name, err)
			}
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}

func (c *Config) hasherConfig() password.Config {
	return password.Config{
		Algorithm: c.Password.Algorithm,
		Cost:      c.Password.WorkFactor,
		Argon2:    c.Password.Argon2,
	}
}

func (c *Config) limiterConfig() ratelimit.Config {
	return ratelimit.Config{
		DefaultThreshold:    c.RateLimit.DefaultThreshold,
		AutoBlockMultiplier: c.RateLimit.AutoBlockMultiplier,
		BlockDuration:       c.RateLimit.BlockDuration,
	}
}

func (c *Config) jwtConfig(now func() time.Time) jwt.Config {
	return jwt.Config{
		Issuer:           c.JWT.Issuer,
		Audience:         c.JWT.Audience,
		Secret:           slices.Clone(c.JWT.Secret),
		AccessTTL:        c.JWT.AccessTTL,
		ClockSkew:        c.JWT.ClockSkew,
		ValidateIssuer:   c.JWT.ValidateIssuer,
		ValidateAudience: c.JWT.ValidateAudience,
		ValidateLifetime: c.JWT.ValidateLifetime,
		Now:              now,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = slices.Clone(cfg.JWT.Secret)
	return out
}

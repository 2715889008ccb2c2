package authguard

import (
	"errors"
	"testing"
	"time"

	"github.com/storefront/authguard/password"
)

func TestDefaultConfigNeedsSecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without secret, got %v", err)
	}
	valid := testConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("testConfig should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with secret",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name:      "short secret",
			mutate:    func(c *Config) { c.JWT.Secret = []byte("0123456789") },
			wantValid: false,
		},
		{
			name:      "zero access ttl",
			mutate:    func(c *Config) { c.JWT.AccessTTL = 0 },
			wantValid: false,
		},
		{
			name:      "negative clock skew",
			mutate:    func(c *Config) { c.JWT.ClockSkew = -time.Second },
			wantValid: false,
		},
		{
			name:      "issuer required when validated",
			mutate:    func(c *Config) { c.JWT.Issuer = "" },
			wantValid: false,
		},
		{
			name: "issuer optional when not validated",
			mutate: func(c *Config) {
				c.JWT.Issuer = ""
				c.JWT.ValidateIssuer = false
			},
			wantValid: true,
		},
		{
			name:      "audience required when validated",
			mutate:    func(c *Config) { c.JWT.Audience = "" },
			wantValid: false,
		},
		{
			name:      "refresh must outlive access",
			mutate:    func(c *Config) { c.Tokens.RefreshTTL = c.JWT.AccessTTL },
			wantValid: false,
		},
		{
			name:      "zero reset ttl",
			mutate:    func(c *Config) { c.Tokens.PasswordResetTTL = 0 },
			wantValid: false,
		},
		{
			name:      "zero confirmation ttl",
			mutate:    func(c *Config) { c.Tokens.EmailConfirmationTTL = 0 },
			wantValid: false,
		},
		{
			name:      "bcrypt cost too low",
			mutate:    func(c *Config) { c.Password.WorkFactor = 3 },
			wantValid: false,
		},
		{
			name:      "unknown algorithm",
			mutate:    func(c *Config) { c.Password.Algorithm = password.Algorithm("scrypt") },
			wantValid: false,
		},
		{
			name:      "login rule without window",
			mutate:    func(c *Config) { c.RateLimit.Login.Window = 0 },
			wantValid: false,
		},
		{
			name: "rules ignored when limiter disabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Login.Window = 0
			},
			wantValid: true,
		},
		{
			name: "audit buffer required",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestBuildConfigImmutableAgainstExternalMutation(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)
	cfg.JWT.Secret[0] = 'X'
	if b.config.JWT.Secret[0] == 'X' {
		t.Fatal("builder config must not alias caller secret")
	}

	out := b.config
	snapshot := cloneConfig(out)
	snapshot.JWT.Secret[1] = 'Y'
	if out.JWT.Secret[1] == 'Y' {
		t.Fatal("cloneConfig must copy the secret")
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/storefront/authguard"
	"github.com/storefront/authguard/internal/logging"
	"github.com/storefront/authguard/password"
	"github.com/storefront/authguard/ratelimit"
)

// Environment variables applied after the file and flags.
const (
	EnvJWTSecret     = "AUTHGUARD_JWT_SECRET"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// ErrInvalid is returned when the loaded settings fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the file representation of the engine settings plus the
// process-level Redis and logging settings.
type Config struct {
	JWT       JWT       `koanf:"jwt"`
	Tokens    Tokens    `koanf:"tokens"`
	Password  Password  `koanf:"password"`
	RateLimit RateLimit `koanf:"ratelimit"`
	Audit     Audit     `koanf:"audit"`
	Redis     Redis     `koanf:"redis"`
	Log       Log       `koanf:"log"`
}

type JWT struct {
	Issuer           string        `koanf:"issuer" validate:"required_if=ValidateIssuer true"`
	Audience         string        `koanf:"audience" validate:"required_if=ValidateAudience true"`
	Secret           string        `koanf:"secret" validate:"required,min=32"`
	AccessTTL        time.Duration `koanf:"access_ttl" validate:"gt=0"`
	ClockSkew        time.Duration `koanf:"clock_skew" validate:"gte=0"`
	ValidateIssuer   bool          `koanf:"validate_issuer"`
	ValidateAudience bool          `koanf:"validate_audience"`
	ValidateLifetime bool          `koanf:"validate_lifetime"`
}

type Tokens struct {
	RefreshTTL           time.Duration `koanf:"refresh_ttl" validate:"gt=0"`
	EmailConfirmationTTL time.Duration `koanf:"email_confirmation_ttl" validate:"gt=0"`
	PasswordResetTTL     time.Duration `koanf:"password_reset_ttl" validate:"gt=0"`
}

type Password struct {
	Algorithm      string `koanf:"algorithm" validate:"oneof=bcrypt argon2id"`
	WorkFactor     int    `koanf:"work_factor" validate:"min=4,max=31"`
	UpgradeOnLogin bool   `koanf:"upgrade_on_login"`
	Argon2         Argon2 `koanf:"argon2"`
}

type Argon2 struct {
	MemoryKiB   uint32 `koanf:"memory_kib" validate:"min=8192"`
	Time        uint32 `koanf:"time" validate:"min=1"`
	Parallelism uint8  `koanf:"parallelism" validate:"min=1"`
	SaltLength  uint32 `koanf:"salt_length" validate:"min=16"`
	KeyLength   uint32 `koanf:"key_length" validate:"min=16"`
}

type RateLimit struct {
	Enabled             bool          `koanf:"enabled"`
	DefaultThreshold    int           `koanf:"default_threshold" validate:"min=1"`
	AutoBlockMultiplier int           `koanf:"auto_block_multiplier" validate:"min=1"`
	BlockDuration       time.Duration `koanf:"block_duration" validate:"gt=0"`
	Login               Rule          `koanf:"login"`
	PasswordReset       Rule          `koanf:"password_reset"`
	EmailConfirmation   Rule          `koanf:"email_confirmation"`
}

type Rule struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1"`
	Window         time.Duration `koanf:"window" validate:"gt=0"`
	AutoBlockAfter int           `koanf:"auto_block_after"`
	BlockDuration  time.Duration `koanf:"block_duration" validate:"gte=0"`
}

type Audit struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size" validate:"required_if=Enabled true,gte=0"`
	DropIfFull bool `koanf:"drop_if_full"`
}

type Redis struct {
	Addr     string `koanf:"addr" validate:"omitempty,hostname_port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// Default mirrors authguard.DefaultConfig with Redis on localhost.
func Default() Config {
	d := authguard.DefaultConfig()
	return Config{
		JWT: JWT{
			AccessTTL:        d.JWT.AccessTTL,
			ClockSkew:        d.JWT.ClockSkew,
			ValidateIssuer:   d.JWT.ValidateIssuer,
			ValidateAudience: d.JWT.ValidateAudience,
			ValidateLifetime: d.JWT.ValidateLifetime,
		},
		Tokens: Tokens{
			RefreshTTL:           d.Tokens.RefreshTTL,
			EmailConfirmationTTL: d.Tokens.EmailConfirmationTTL,
			PasswordResetTTL:     d.Tokens.PasswordResetTTL,
		},
		Password: Password{
			Algorithm:      string(d.Password.Algorithm),
			WorkFactor:     d.Password.WorkFactor,
			UpgradeOnLogin: d.Password.UpgradeOnLogin,
			Argon2: Argon2{
				MemoryKiB:   d.Password.Argon2.Memory,
				Time:        d.Password.Argon2.Time,
				Parallelism: d.Password.Argon2.Parallelism,
				SaltLength:  d.Password.Argon2.SaltLength,
				KeyLength:   d.Password.Argon2.KeyLength,
			},
		},
		RateLimit: RateLimit{
			Enabled:             d.RateLimit.Enabled,
			DefaultThreshold:    d.RateLimit.DefaultThreshold,
			AutoBlockMultiplier: d.RateLimit.AutoBlockMultiplier,
			BlockDuration:       d.RateLimit.BlockDuration,
			Login:               fromRule(d.RateLimit.Login),
			PasswordReset:       fromRule(d.RateLimit.PasswordReset),
			EmailConfirmation:   fromRule(d.RateLimit.EmailConfirmation),
		},
		Audit: Audit{
			Enabled:    d.Audit.Enabled,
			BufferSize: d.Audit.BufferSize,
			DropIfFull: d.Audit.DropIfFull,
		},
		Redis: Redis{Addr: "localhost:6379"},
		Log:   Log{Level: "info", Format: "json"},
	}
}

// RegisterFlags adds the overridable settings to fs. Flag names are the
// dotted koanf keys.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("jwt.issuer", d.JWT.Issuer, "token issuer")
	fs.String("jwt.audience", d.JWT.Audience, "token audience")
	fs.Duration("jwt.access_ttl", d.JWT.AccessTTL, "access token lifetime")
	fs.Duration("tokens.refresh_ttl", d.Tokens.RefreshTTL, "refresh token lifetime")
	fs.String("password.algorithm", d.Password.Algorithm, "password hash algorithm (bcrypt or argon2id)")
	fs.Int("password.work_factor", d.Password.WorkFactor, "bcrypt cost")
	fs.Bool("ratelimit.enabled", d.RateLimit.Enabled, "enable rate limiting")
	fs.String("redis.addr", d.Redis.Addr, "redis host:port")
	fs.Int("redis.db", d.Redis.DB, "redis database number")
	fs.String("log.level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log.format", d.Log.Format, "log format (json or text)")
}

// Load builds a Config from Default, the YAML file at path (skipped when
// empty), the flags in fs that were set explicitly and the environment, and
// validates the result.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg, err := Read(path, fs)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the
// settings.
func Read(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.In("config").
				Code("CONFIG_READ_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.In("config").Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		c.JWT.Secret = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup(EnvRedisPassword); ok {
		c.Redis.Password = v
	}
}

var validate = validator.New()

// Validate checks the struct tags and then the engine-level rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	engine := c.Engine()
	if err := engine.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Engine converts c into the engine configuration.
func (c *Config) Engine() authguard.Config {
	return authguard.Config{
		JWT: authguard.JWTConfig{
			Issuer:           c.JWT.Issuer,
			Audience:         c.JWT.Audience,
			Secret:           []byte(c.JWT.Secret),
			AccessTTL:        c.JWT.AccessTTL,
			ClockSkew:        c.JWT.ClockSkew,
			ValidateIssuer:   c.JWT.ValidateIssuer,
			ValidateAudience: c.JWT.ValidateAudience,
			ValidateLifetime: c.JWT.ValidateLifetime,
		},
		Tokens: authguard.TokenConfig{
			RefreshTTL:           c.Tokens.RefreshTTL,
			EmailConfirmationTTL: c.Tokens.EmailConfirmationTTL,
			PasswordResetTTL:     c.Tokens.PasswordResetTTL,
		},
		Password: authguard.PasswordConfig{
			Algorithm:      password.Algorithm(c.Password.Algorithm),
			WorkFactor:     c.Password.WorkFactor,
			UpgradeOnLogin: c.Password.UpgradeOnLogin,
			Argon2: password.Argon2Params{
				Memory:      c.Password.Argon2.MemoryKiB,
				Time:        c.Password.Argon2.Time,
				Parallelism: c.Password.Argon2.Parallelism,
				SaltLength:  c.Password.Argon2.SaltLength,
				KeyLength:   c.Password.Argon2.KeyLength,
			},
		},
		RateLimit: authguard.RateLimitConfig{
			Enabled:             c.RateLimit.Enabled,
			DefaultThreshold:    c.RateLimit.DefaultThreshold,
			AutoBlockMultiplier: c.RateLimit.AutoBlockMultiplier,
			BlockDuration:       c.RateLimit.BlockDuration,
			Login:               c.RateLimit.Login.toRule("login"),
			PasswordReset:       c.RateLimit.PasswordReset.toRule("password_reset"),
			EmailConfirmation:   c.RateLimit.EmailConfirmation.toRule("email_confirmation"),
		},
		Audit: authguard.AuditConfig{
			Enabled:    c.Audit.Enabled,
			BufferSize: c.Audit.BufferSize,
			DropIfFull: c.Audit.DropIfFull,
		},
	}
}

// RedisClient opens a client for the configured server. The caller closes it.
func (c *Config) RedisClient() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{c.Redis.Addr},
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// LogOptions returns the logging settings for logging.Setup.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Format: c.Log.Format, Level: c.Log.Level}
}

func fromRule(r ratelimit.Rule) Rule {
	return Rule{
		MaxAttempts:    r.MaxAttempts,
		Window:         r.Window,
		AutoBlockAfter: r.AutoBlockAfter,
		BlockDuration:  r.BlockDuration,
	}
}

func (r Rule) toRule(name string) ratelimit.Rule {
	return ratelimit.Rule{
		Name:           name,
		MaxAttempts:    r.MaxAttempts,
		Window:         r.Window,
		AutoBlockAfter: r.AutoBlockAfter,
		BlockDuration:  r.BlockDuration,
	}
}

package ratelimit

import (
	"errors"
	"time"
)

const (
	// DefaultThreshold is the attempt budget the auto-block default is derived from.
	DefaultThreshold = 5
	// DefaultAutoBlockMultiplier scales DefaultThreshold into the auto-block threshold.
	DefaultAutoBlockMultiplier = 2
	// DefaultBlockDuration is how long an auto-block lasts.
	DefaultBlockDuration = 30 * time.Minute
)

// Config holds limiter-wide defaults.
type Config struct {
	DefaultThreshold    int
	AutoBlockMultiplier int
	BlockDuration       time.Duration
}

// DefaultConfig returns a threshold of 5, a multiplier of 2 and a 30 minute
// block.
func DefaultConfig() Config {
	return Config{
		DefaultThreshold:    DefaultThreshold,
		AutoBlockMultiplier: DefaultAutoBlockMultiplier,
		BlockDuration:       DefaultBlockDuration,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	switch {
	case c.DefaultThreshold < 1:
		return errors.New("ratelimit: default threshold must be >= 1")
	case c.AutoBlockMultiplier < 1:
		return errors.New("ratelimit: auto-block multiplier must be >= 1")
	case c.BlockDuration <= 0:
		return errors.New("ratelimit: block duration must be positive")
	}
	return nil
}

// AutoBlockThreshold is the count at which Increment escalates to a block.
func (c Config) AutoBlockThreshold() int {
	return c.DefaultThreshold * c.AutoBlockMultiplier
}

// Rule is the limiter policy for one kind of operation.
type Rule struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
	// AutoBlockAfter is the count that triggers a block. Zero uses the
	// limiter default; a negative value disables auto-blocking.
	AutoBlockAfter int
	// BlockDuration is the length of an auto-block. Zero uses the limiter
	// default.
	BlockDuration time.Duration
}

// Validate checks the rule for unusable values.
func (r Rule) Validate() error {
	switch {
	case r.MaxAttempts < 1:
		return errors.New("ratelimit: rule max attempts must be >= 1")
	case r.Window <= 0:
		return errors.New("ratelimit: rule window must be positive")
	case r.BlockDuration < 0:
		return errors.New("ratelimit: rule block duration must not be negative")
	}
	return nil
}

func (r Rule) name() string {
	if r.Name == "" {
		return "default"
	}
	return r.Name
}

func (r Rule) resolve(cfg Config) (threshold int, duration time.Duration) {
	threshold = r.AutoBlockAfter
	if threshold == 0 {
		threshold = cfg.AutoBlockThreshold()
	}
	duration = r.BlockDuration
	if duration == 0 {
		duration = cfg.BlockDuration
	}
	return threshold, duration
}

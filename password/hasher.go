package password

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names a supported hashing scheme.
type Algorithm string

const (
	// AlgorithmBcrypt selects bcrypt with a configurable work factor.
	AlgorithmBcrypt Algorithm = "bcrypt"
	// AlgorithmArgon2id selects Argon2id with PHC encoding.
	AlgorithmArgon2id Algorithm = "argon2id"
)

// DefaultCost is the bcrypt work factor used when Config.Cost is zero.
const DefaultCost = 12

var (
	// ErrInvalidArgument is returned when the password is empty or blank.
	ErrInvalidArgument = errors.New("password must not be blank")
	// ErrHashFailure is returned when the underlying algorithm fails.
	ErrHashFailure = errors.New("password hashing failed")
	// ErrInvalidConfig is returned by New for out-of-range parameters.
	ErrInvalidConfig = errors.New("invalid password hasher configuration")
)

// Config selects the algorithm and its target cost. Hashes produced with a
// lower cost are reported by NeedsRehash.
type Config struct {
	Algorithm Algorithm
	// Cost is the bcrypt work factor (4..31).
	Cost   int
	Argon2 Argon2Params
}

// DefaultConfig returns bcrypt at DefaultCost with Argon2id parameters ready
// for callers that switch algorithms.
func DefaultConfig() Config {
	return Config{
		Algorithm: AlgorithmBcrypt,
		Cost:      DefaultCost,
		Argon2:    DefaultArgon2Params(),
	}
}

// Hasher hashes and verifies passwords. It holds no mutable state and is
// safe for concurrent use.
type Hasher struct {
	config Config
}

// New validates cfg and returns a Hasher. Zero fields take defaults.
func New(cfg Config) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmBcrypt
	}
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = DefaultArgon2Params()
	}

	switch cfg.Algorithm {
	case AlgorithmBcrypt, AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, cfg.Algorithm)
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost must be within [%d, %d]", ErrInvalidConfig, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if err := cfg.Argon2.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Hasher{config: cfg}, nil
}

// Algorithm reports the algorithm used for new hashes.
func (h *Hasher) Algorithm() Algorithm {
	return h.config.Algorithm
}

// TargetStrength reports the cost new hashes are produced with.
func (h *Hasher) TargetStrength() int {
	if h.config.Algorithm == AlgorithmArgon2id {
		return int(h.config.Argon2.Time)
	}
	return h.config.Cost
}

// Hash returns an encoded hash embedding the configured cost.
func (h *Hasher) Hash(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrInvalidArgument
	}

	if h.config.Algorithm == AlgorithmArgon2id {
		encoded, err := hashArgon2id(password, h.config.Argon2)
		if err != nil {
			return "", hashFailure(h.config.Algorithm, err)
		}
		return encoded, nil
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.config.Cost)
	if err != nil {
		return "", hashFailure(h.config.Algorithm, err)
	}
	return string(out), nil
}

// Verify reports whether password matches encodedHash. Any parse or
// algorithm failure yields false.
func (h *Hasher) Verify(password, encodedHash string) bool {
	if password == "" || encodedHash == "" {
		return false
	}

	switch detect(encodedHash) {
	case AlgorithmBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
	case AlgorithmArgon2id:
		phc, err := parsePHC(encodedHash)
		if err != nil {
			return false
		}
		return phc.matches(password)
	default:
		return false
	}
}

// NeedsRehash reports whether encodedHash should be replaced by a fresh hash
// under the current configuration. Unparsable input returns false.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	algo := detect(encodedHash)
	if algo == "" {
		return false
	}
	if algo != h.config.Algorithm {
		return h.Strength(encodedHash) > 0
	}

	if algo == AlgorithmArgon2id {
		phc, err := parsePHC(encodedHash)
		if err != nil {
			return false
		}
		return phc.params.weakerThan(h.config.Argon2)
	}

	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false
	}
	return cost < h.config.Cost
}

// Strength returns the cost embedded in encodedHash: the bcrypt work factor
// or the Argon2id time parameter. Unparsable input returns 0.
func (h *Hasher) Strength(encodedHash string) int {
	switch detect(encodedHash) {
	case AlgorithmBcrypt:
		cost, err := bcrypt.Cost([]byte(encodedHash))
		if err != nil {
			return 0
		}
		return cost
	case AlgorithmArgon2id:
		phc, err := parsePHC(encodedHash)
		if err != nil {
			return 0
		}
		return int(phc.params.Time)
	default:
		return 0
	}
}

func detect(encodedHash string) Algorithm {
	switch {
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return AlgorithmBcrypt
	case strings.HasPrefix(encodedHash, "$"+string(AlgorithmArgon2id)+"$"):
		return AlgorithmArgon2id
	default:
		return ""
	}
}

func hashFailure(algo Algorithm, err error) error {
	return oops.In("password").
		Code("AUTH_HASH_FAILED").
		With("algorithm", string(algo)).
		Wrap(fmt.Errorf("%w: %v", ErrHashFailure, err))
}

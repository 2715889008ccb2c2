package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minArgonMemoryKB    uint32 = 8 * 1024
	minArgonTime        uint32 = 1
	minArgonParallelism uint8  = 1
	minArgonSaltLength  uint32 = 16
	minArgonKeyLength   uint32 = 16

	// Stored hashes above these bounds are treated as corrupt rather than
	// computed.
	maxArgonMemoryKB uint32 = 4 * 1024 * 1024
	maxArgonTime     uint32 = 64
)

// Argon2Params are the Argon2id cost parameters.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns 64 MiB, 3 passes, 2 lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) validate() error {
	switch {
	case p.Memory < minArgonMemoryKB:
		return errors.New("argon2 memory must be >= 8192 KiB")
	case p.Time < minArgonTime:
		return errors.New("argon2 time must be >= 1")
	case p.Parallelism < minArgonParallelism:
		return errors.New("argon2 parallelism must be >= 1")
	case p.SaltLength < minArgonSaltLength:
		return errors.New("argon2 salt length must be >= 16")
	case p.KeyLength < minArgonKeyLength:
		return errors.New("argon2 key length must be >= 16")
	}
	return nil
}

func (p Argon2Params) weakerThan(target Argon2Params) bool {
	return p.Memory < target.Memory ||
		p.Time < target.Time ||
		p.Parallelism < target.Parallelism ||
		p.KeyLength != target.KeyLength
}

type phcHash struct {
	params Argon2Params
	salt   []byte
	digest []byte
}

func (h *phcHash) matches(password string) bool {
	computed := argon2.IDKey(
		[]byte(password),
		h.salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)
	return subtle.ConstantTimeCompare(computed, h.digest) == 1
}

func hashArgon2id(password string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	digest := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id,
		argon2.Version,
		p.Memory,
		p.Time,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

func parsePHC(encodedHash string) (*phcHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != string(AlgorithmArgon2id) {
		return nil, errors.New("invalid PHC format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, errors.New("invalid argon2 parameters")
	}
	if memory < minArgonMemoryKB || memory > maxArgonMemoryKB ||
		time < minArgonTime || time > maxArgonTime ||
		threads < 1 || threads > 255 {
		return nil, errors.New("argon2 parameters out of range")
	}

	salt, err := decodePHCSegment(parts[4])
	if err != nil || len(salt) < int(minArgonSaltLength) {
		return nil, errors.New("invalid argon2 salt")
	}
	digest, err := decodePHCSegment(parts[5])
	if err != nil || len(digest) < int(minArgonKeyLength) || len(digest) > 1024 {
		return nil, errors.New("invalid argon2 digest")
	}

	return &phcHash{
		params: Argon2Params{
			Memory:      memory,
			Time:        time,
			Parallelism: uint8(threads),
			SaltLength:  uint32(len(salt)),
			KeyLength:   uint32(len(digest)),
		},
		salt:   salt,
		digest: digest,
	}, nil
}

// decodePHCSegment accepts unpadded (PHC standard) and padded base64.
func decodePHCSegment(s string) ([]byte, error) {
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

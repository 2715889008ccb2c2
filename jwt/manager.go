package jwt

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// MinSecretLength is the smallest accepted HS256 secret (256 bits).
const MinSecretLength = 32

const maxClockSkew = 5 * time.Minute

var (
	// ErrInvalidConfig is returned by NewManager for unusable configuration.
	ErrInvalidConfig = errors.New("invalid jwt configuration")
	// ErrInvalidArgument is returned when GenerateToken receives a blank subject.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSigningFailed is returned when the token cannot be signed.
	ErrSigningFailed = errors.New("token signing failed")
)

// Config controls token issuance and validation.
type Config struct {
	Issuer    string
	Audience  string
	Secret    []byte
	AccessTTL time.Duration
	// ClockSkew is the tolerance applied to exp, nbf and iat checks.
	ClockSkew time.Duration

	ValidateIssuer   bool
	ValidateAudience bool
	ValidateLifetime bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration with every check enabled and a 15
// minute access lifetime. Secret, Issuer and Audience must still be set.
func DefaultConfig() Config {
	return Config{
		AccessTTL:        15 * time.Minute,
		ClockSkew:        30 * time.Second,
		ValidateIssuer:   true,
		ValidateAudience: true,
		ValidateLifetime: true,
	}
}

// Subject is the identity encoded into an access token.
type Subject struct {
	UserID         string
	Email          string
	FirstName      string
	LastName       string
	DisplayName    string
	Status         string
	EmailConfirmed bool
	Roles          []string
}

// Reason classifies a rejected access token.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonEmpty          Reason = "empty"
	ReasonMalformed      Reason = "malformed"
	ReasonSignature      Reason = "signature"
	ReasonExpired        Reason = "expired"
	ReasonNotYetValid    Reason = "not_yet_valid"
	ReasonIssuer         Reason = "issuer"
	ReasonAudience       Reason = "audience"
	ReasonMissingSubject Reason = "missing_subject"
	ReasonInvalid        Reason = "invalid"
)

// ValidationResult is the outcome of ValidateAccessToken. Reason is empty
// when Valid is true.
type ValidationResult struct {
	Valid     bool
	UserID    string
	Email     string
	ExpiresAt time.Time
	Roles     []string
	Reason    Reason
	Claims    Claims
}

// Manager signs and verifies access tokens. It is immutable after
// construction and safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Secret = slices.Clone(cfg.Secret)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

func (c Config) validate() error {
	switch {
	case len(c.Secret) < MinSecretLength:
		return fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	case c.AccessTTL <= 0:
		return errors.New("access ttl must be positive")
	case c.ClockSkew < 0 || c.ClockSkew > maxClockSkew:
		return fmt.Errorf("clock skew must be within [0, %s]", maxClockSkew)
	case c.ValidateIssuer && strings.TrimSpace(c.Issuer) == "":
		return errors.New("issuer is required when issuer validation is enabled")
	case c.ValidateAudience && strings.TrimSpace(c.Audience) == "":
		return errors.New("audience is required when audience validation is enabled")
	}
	return nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// GenerateToken signs an access token for s. The returned token expires
// AccessTTL after issuance.
func (m *Manager) GenerateToken(s Subject) (string, error) {
	userID := strings.TrimSpace(s.UserID)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	now := m.now()
	claims := Claims{
		Email:          s.Email,
		GivenName:      s.FirstName,
		FamilyName:     s.LastName,
		NameIdentifier: userID,
		Name:           displayName(s),
		UserStatus:     s.Status,
		EmailConfirmed: strconv.FormatBool(s.EmailConfirmed),
		Roles:          RoleList(slices.Clone(s.Roles)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}
	if m.config.Issuer != "" {
		claims.Issuer = m.config.Issuer
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", oops.In("jwt").
			Code("JWT_SIGNING_FAILED").
			With("user_id", userID).
			Wrap(fmt.Errorf("%w: %v", ErrSigningFailed, err))
	}
	return signed, nil
}

// ValidateAccessToken verifies signature, structure and, as configured,
// issuer, audience and lifetime. It never returns an error.
func (m *Manager) ValidateAccessToken(token string) ValidationResult {
	if strings.TrimSpace(token) == "" {
		return ValidationResult{Reason: ReasonEmpty}
	}

	claims, err := m.parse(token, m.config.ValidateLifetime)
	if err != nil {
		return ValidationResult{Reason: reasonFor(err)}
	}

	userID := claims.UserID()
	if userID == "" {
		return ValidationResult{Reason: ReasonMissingSubject}
	}

	res := ValidationResult{
		Valid:  true,
		UserID: userID,
		Email:  claims.Email,
		Roles:  slices.Clone([]string(claims.Roles)),
		Claims: *claims,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res
}

// ClaimsFromToken returns the claims of a correctly signed token without
// checking its lifetime, for flows that must read an expired token. Zero
// claims are returned on any failure.
func (m *Manager) ClaimsFromToken(token string) Claims {
	if strings.TrimSpace(token) == "" {
		return Claims{}
	}
	claims, err := m.parse(token, false)
	if err != nil {
		return Claims{}
	}
	return *claims
}

func (m *Manager) parse(token string, checkLifetime bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if checkLifetime {
		opts = append(opts,
			jwt.WithLeeway(m.config.ClockSkew),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		)
		if m.config.ValidateIssuer {
			opts = append(opts, jwt.WithIssuer(m.config.Issuer))
		}
		if m.config.ValidateAudience {
			opts = append(opts, jwt.WithAudience(m.config.Audience))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, m.keyFunc)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if !checkLifetime {
		if err := m.checkIssuerAudience(claims); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// checkIssuerAudience applies the issuer and audience checks when the parser
// skipped claims validation.
func (m *Manager) checkIssuerAudience(claims *Claims) error {
	if m.config.ValidateIssuer && claims.Issuer != m.config.Issuer {
		return jwt.ErrTokenInvalidIssuer
	}
	if m.config.ValidateAudience && !slices.Contains(claims.Audience, m.config.Audience) {
		return jwt.ErrTokenInvalidAudience
	}
	return nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
	}
	return m.config.Secret, nil
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ReasonNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudience
	default:
		return ReasonInvalid
	}
}

func displayName(s Subject) string {
	if name := strings.TrimSpace(s.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

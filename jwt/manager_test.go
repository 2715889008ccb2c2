package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testConfig(clock *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.Issuer = "authguard"
	cfg.Audience = "storefront"
	cfg.Secret = testSecret
	cfg.AccessTTL = 15 * time.Minute
	cfg.ClockSkew = 30 * time.Second
	cfg.Now = clock.Now
	return cfg
}

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m
}

func decodePayload(t *testing.T, token string) map[string]any {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	token, err := m.GenerateToken(Subject{
		UserID:         "42",
		Email:          "a@x.io",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		EmailConfirmed: true,
		Roles:          []string{"admin", "user"},
	})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	res := m.ValidateAccessToken(token)
	if !res.Valid {
		t.Fatalf("expected valid token, reason=%q", res.Reason)
	}
	if res.UserID != "42" || res.Email != "a@x.io" {
		t.Fatalf("unexpected identity: %+v", res)
	}
	if len(res.Roles) != 2 || res.Roles[0] != "admin" || res.Roles[1] != "user" {
		t.Fatalf("unexpected roles: %v", res.Roles)
	}
	if want := clock.t.Add(15 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
	}
	if res.Claims.Name != "Ada Lovelace" {
		t.Fatalf("display name = %q", res.Claims.Name)
	}
}

func TestGenerateTokenWireClaims(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	token, err := m.GenerateToken(Subject{UserID: "7", Email: "b@x.io", Roles: []string{"user"}, Status: "active"})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	payload := decodePayload(t, token)
	if payload["sub"] != "7" || payload["nameidentifier"] != "7" {
		t.Fatalf("subject claims missing: %v", payload)
	}
	if payload["role"] != "user" {
		t.Fatalf("single role should encode as string, got %#v", payload["role"])
	}
	if payload["email_confirmed"] != "false" {
		t.Fatalf("email_confirmed = %#v", payload["email_confirmed"])
	}
	if payload["user_status"] != "active" || payload["iss"] != "authguard" {
		t.Fatalf("unexpected claims: %v", payload)
	}
	if jti, _ := payload["jti"].(string); len(jti) != 36 {
		t.Fatalf("expected uuid jti, got %#v", payload["jti"])
	}
	if exp, iat := payload["exp"].(float64), payload["iat"].(float64); exp-iat != 900 {
		t.Fatalf("exp - iat = %v, want 900", exp-iat)
	}
}

func TestGenerateTokenUniqueIDs(t *testing.T) {
	m := mustManager(t, testConfig(newClock()))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := m.GenerateToken(Subject{UserID: "1"})
		if err != nil {
			t.Fatalf("GenerateToken error: %v", err)
		}
		id := m.ClaimsFromToken(tok).ID
		if seen[id] {
			t.Fatalf("duplicate jti %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateTokenBlankUserID(t *testing.T) {
	m := mustManager(t, testConfig(newClock()))
	for _, id := range []string{"", "  "} {
		if _, err := m.GenerateToken(Subject{UserID: id}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("GenerateToken(%q) error = %v, want ErrInvalidArgument", id, err)
		}
	}
}

func TestValidateExpiry(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	token, err := m.GenerateToken(Subject{UserID: "42"})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	clock.Advance(15*time.Minute + 20*time.Second)
	if res := m.ValidateAccessToken(token); !res.Valid {
		t.Fatalf("expected token within clock skew to be valid, reason=%q", res.Reason)
	}

	clock.Advance(20 * time.Second)
	res := m.ValidateAccessToken(token)
	if res.Valid || res.Reason != ReasonExpired {
		t.Fatalf("expected expired, got %+v", res)
	}

	if claims := m.ClaimsFromToken(token); claims.UserID() != "42" {
		t.Fatalf("ClaimsFromToken should ignore expiry, got %+v", claims)
	}
}

func TestValidateLifetimeDisabled(t *testing.T) {
	clock := newClock()
	cfg := testConfig(clock)
	cfg.ValidateLifetime = false
	m := mustManager(t, cfg)

	token, err := m.GenerateToken(Subject{UserID: "42"})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	clock.Advance(48 * time.Hour)
	if res := m.ValidateAccessToken(token); !res.Valid {
		t.Fatalf("expected expired token to pass with lifetime checks off, reason=%q", res.Reason)
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	m := mustManager(t, testConfig(newClock()))
	token, err := m.GenerateToken(Subject{UserID: "42", Roles: []string{"user"}})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	parts := strings.Split(token, ".")
	forged := map[string]any{"sub": "1", "role": "admin", "exp": 4102444800, "iss": "authguard", "aud": "storefront"}
	raw, _ := json.Marshal(forged)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString(raw) + "." + parts[2]

	res := m.ValidateAccessToken(tampered)
	if res.Valid || res.Reason != ReasonSignature {
		t.Fatalf("expected signature failure, got %+v", res)
	}
	if claims := m.ClaimsFromToken(tampered); !claims.IsZero() {
		t.Fatalf("expected zero claims for tampered token, got %+v", claims)
	}
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))
	otherCfg := testConfig(clock)
	otherCfg.Secret = []byte("ffffffffffffffffffffffffffffffff")
	other := mustManager(t, otherCfg)

	token, err := other.GenerateToken(Subject{UserID: "42"})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if res := m.ValidateAccessToken(token); res.Reason != ReasonSignature {
		t.Fatalf("expected signature reason, got %q", res.Reason)
	}
}

func TestValidateRejectsWrongAlgorithm(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "authguard",
		Audience:  gjwt.ClaimStrings{"storefront"},
		ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
	}}
	hs512, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res := m.ValidateAccessToken(hs512); res.Valid || res.Reason != ReasonSignature {
		t.Fatalf("expected HS512 token to be rejected as signature failure, got %+v", res)
	}

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if res := m.ValidateAccessToken(none); res.Valid {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestValidateIssuerAndAudience(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	sign := func(iss, aud string) string {
		t.Helper()
		claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			IssuedAt:  gjwt.NewNumericDate(clock.t),
			ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
		}}
		tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}

	if res := m.ValidateAccessToken(sign("other", "storefront")); res.Reason != ReasonIssuer {
		t.Fatalf("expected issuer reason, got %q", res.Reason)
	}
	if res := m.ValidateAccessToken(sign("authguard", "other")); res.Reason != ReasonAudience {
		t.Fatalf("expected audience reason, got %q", res.Reason)
	}
	if claims := m.ClaimsFromToken(sign("other", "storefront")); !claims.IsZero() {
		t.Fatal("ClaimsFromToken should still enforce issuer")
	}

	cfg := testConfig(clock)
	cfg.ValidateIssuer = false
	cfg.ValidateAudience = false
	lax := mustManager(t, cfg)
	if res := lax.ValidateAccessToken(sign("other", "other")); !res.Valid {
		t.Fatalf("expected lax manager to accept, reason=%q", res.Reason)
	}
}

func TestValidateNotYetValid(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "authguard",
		Audience:  gjwt.ClaimStrings{"storefront"},
		NotBefore: gjwt.NewNumericDate(clock.t.Add(10 * time.Minute)),
		ExpiresAt: gjwt.NewNumericDate(clock.t.Add(20 * time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res := m.ValidateAccessToken(tok); res.Reason != ReasonNotYetValid {
		t.Fatalf("expected not_yet_valid, got %q", res.Reason)
	}
}

func TestValidateMissingSubject(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	claims := Claims{Email: "a@x.io", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "authguard",
		Audience:  gjwt.ClaimStrings{"storefront"},
		ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res := m.ValidateAccessToken(tok); res.Reason != ReasonMissingSubject {
		t.Fatalf("expected missing_subject, got %q", res.Reason)
	}
}

func TestValidateNameIdentifierIsNotASubject(t *testing.T) {
	clock := newClock()
	m := mustManager(t, testConfig(clock))

	claims := Claims{NameIdentifier: "42", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "authguard",
		Audience:  gjwt.ClaimStrings{"storefront"},
		ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res := m.ValidateAccessToken(tok)
	if res.Valid || res.Reason != ReasonMissingSubject {
		t.Fatalf("expected missing_subject without sub, got valid=%v reason=%q", res.Valid, res.Reason)
	}
	if res.UserID != "" {
		t.Fatalf("UserID = %q, want empty", res.UserID)
	}
}

func TestValidateEmptyAndMalformed(t *testing.T) {
	m := mustManager(t, testConfig(newClock()))

	if res := m.ValidateAccessToken("   "); res.Valid || res.Reason != ReasonEmpty {
		t.Fatalf("expected empty reason, got %+v", res)
	}
	for _, tok := range []string{"abc", "a.b", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.!!!.sig"} {
		if res := m.ValidateAccessToken(tok); res.Valid || res.Reason != ReasonMalformed {
			t.Fatalf("ValidateAccessToken(%q) = %+v, want malformed", tok, res)
		}
		if claims := m.ClaimsFromToken(tok); !claims.IsZero() {
			t.Fatalf("ClaimsFromToken(%q) should be zero", tok)
		}
	}
}

func TestRoleListDecodesBothShapes(t *testing.T) {
	var c Claims
	if err := json.Unmarshal([]byte(`{"role":"admin"}`), &c); err != nil {
		t.Fatalf("unmarshal string role: %v", err)
	}
	if !c.HasRole("admin") || len(c.Roles) != 1 {
		t.Fatalf("unexpected roles %v", c.Roles)
	}
	if err := json.Unmarshal([]byte(`{"role":["a","b"]}`), &c); err != nil {
		t.Fatalf("unmarshal array role: %v", err)
	}
	if !c.HasRole("b") || len(c.Roles) != 2 {
		t.Fatalf("unexpected roles %v", c.Roles)
	}

	raw, err := json.Marshal(Claims{Roles: RoleList{"a", "b"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"role":["a","b"]`) {
		t.Fatalf("expected array encoding, got %s", raw)
	}
	raw, _ = json.Marshal(Claims{})
	if strings.Contains(string(raw), "role") {
		t.Fatalf("expected empty roles omitted, got %s", raw)
	}
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	base := testConfig(newClock())
	cases := map[string]func(*Config){
		"short secret":   func(c *Config) { c.Secret = []byte("short") },
		"zero ttl":       func(c *Config) { c.AccessTTL = 0 },
		"negative skew":  func(c *Config) { c.ClockSkew = -time.Second },
		"huge skew":      func(c *Config) { c.ClockSkew = time.Hour },
		"blank issuer":   func(c *Config) { c.Issuer = " " },
		"blank audience": func(c *Config) { c.Audience = "" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if _, err := NewManager(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: error = %v, want ErrInvalidConfig", name, err)
		}
	}
}

func FuzzValidateAccessToken(f *testing.F) {
	m, err := NewManager(testConfig(newClock()))
	if err != nil {
		f.Fatal(err)
	}
	valid, err := m.GenerateToken(Subject{UserID: "seed", Roles: []string{"a"}})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiIxIn0.")

	f.Fuzz(func(t *testing.T, token string) {
		res := m.ValidateAccessToken(token)
		if res.Valid && res.UserID == "" {
			t.Fatal("valid result without subject")
		}
		_ = m.ClaimsFromToken(token)
	})
}

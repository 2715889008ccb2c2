package authguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/authguard/cache"
	"github.com/storefront/authguard/jwt"
)

func TestBuildRequiresCacheAndUserProvider(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).WithUserProvider(newMemoryUsers()).Build(); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady without cache, got %v", err)
	}
	if _, err := New().WithConfig(testConfig()).WithCache(cache.NewMemory()).Build(); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady without user provider, got %v", err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = []byte("short")
	_, err := New().WithConfig(cfg).WithCache(cache.NewMemory()).WithUserProvider(newMemoryUsers()).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithCache(cache.NewMemory()).WithUserProvider(newMemoryUsers())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestLoginIssuesTokenPair(t *testing.T) {
	alice := aliceUser(t)
	te := newTestEngine(t, testConfig(), alice)

	pair, err := te.Login(context.Background(), "  Alice@Example.com ", "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if pair.UserID != alice.ID || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatal("expected refresh token to outlive access token")
	}

	res := te.ValidateAccessToken(pair.AccessToken)
	if !res.Valid || res.UserID != alice.ID || res.Email != alice.Email {
		t.Fatalf("unexpected validation result: %+v", res)
	}
	if len(res.Roles) != 1 || res.Roles[0] != "customer" {
		t.Fatalf("unexpected roles: %v", res.Roles)
	}

	claims := te.Tokens().ClaimsFromToken(pair.AccessToken)
	if claims.GivenName != "Alice" || claims.Name != "Alice L." {
		t.Fatalf("unexpected profile claims: %+v", claims)
	}

	if te.metrics.issued[tokenKindAccess] != 1 || te.metrics.issued[tokenKindRefresh] != 1 {
		t.Fatalf("unexpected issuance counts: %v", te.metrics.issued)
	}
	if got := te.metrics.lastFlow(); got != (recordedFlow{flow: "login", outcome: "success"}) {
		t.Fatalf("unexpected flow metric: %+v", got)
	}
}

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	ctx := context.Background()

	_, errUnknown := te.Login(ctx, "nobody@example.com", "correct horse")
	_, errWrong := te.Login(ctx, "alice@example.com", "wrong horse")

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("errors differ: %q vs %q", errUnknown, errWrong)
	}
	if got := te.metrics.lastFlow(); got.outcome != "failure" {
		t.Fatalf("expected failure outcome, got %+v", got)
	}
}

func TestLoginBlankInput(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	for _, tc := range [][2]string{{"", "pw"}, {"alice@example.com", ""}, {" ", " "}} {
		if _, err := te.Login(context.Background(), tc[0], tc[1]); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Login(%q, %q) error = %v, want ErrInvalidArgument", tc[0], tc[1], err)
		}
	}
}

func TestLoginRateLimitedAfterMaxAttempts(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	ctx := WithClientIP(context.Background(), "198.51.100.4")

	for i := 0; i < 5; i++ {
		if _, err := te.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := te.Login(ctx, "alice@example.com", "correct horse"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	other := WithClientIP(context.Background(), "198.51.100.5")
	if _, err := te.Login(other, "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("expected other address to log in, got %v", err)
	}
}

func TestLoginBruteForceAutoBlocksAddress(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 1; i <= 10; i++ {
		want := ErrInvalidCredentials
		if i > 5 {
			want = ErrLoginRateLimited
		}
		if _, err := te.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, want) {
			t.Fatalf("attempt %d: expected %v, got %v", i, want, err)
		}
		if i == 9 && te.Limiter().IsBlocked(ctx, "203.0.113.7") {
			t.Fatal("address blocked before the auto-block threshold")
		}
	}

	if !te.Limiter().IsBlocked(ctx, "203.0.113.7") {
		t.Fatal("expected address to be auto-blocked after 10 attempts")
	}
	if n, _ := te.Limiter().Attempts(ctx, "203.0.113.7"); n != 10 {
		t.Fatalf("attempts = %d, want 10", n)
	}
	if _, err := te.Login(ctx, "alice@example.com", "correct horse"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected blocked address to stay limited, got %v", err)
	}
}

func TestLoginSuccessResetsAttempts(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = te.Login(ctx, "alice@example.com", "wrong")
	}
	if n, _ := te.Limiter().Attempts(ctx, "alice@example.com"); n != 4 {
		t.Fatalf("attempts = %d, want 4", n)
	}
	if _, err := te.Login(ctx, "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if n, _ := te.Limiter().Attempts(ctx, "alice@example.com"); n != 0 {
		t.Fatalf("attempts after success = %d, want 0", n)
	}
}

func TestLoginWithRateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	te := newTestEngine(t, cfg, aliceUser(t))
	ctx := context.Background()

	if te.Limiter() != nil {
		t.Fatal("expected no limiter when disabled")
	}
	for i := 0; i < 10; i++ {
		_, _ = te.Login(ctx, "alice@example.com", "wrong")
	}
	if _, err := te.Login(ctx, "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
}

func TestLoginFailureReportsCounterOutage(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	te.mr.SetError("LOADING")
	defer te.mr.SetError("")

	_, err := te.Login(context.Background(), "alice@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("expected cache outage to be reported, got %v", err)
	}
}

func TestLoginProviderFailure(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	boom := errors.New("db down")
	te.users.failGet = boom

	_, err := te.Login(context.Background(), "alice@example.com", "correct horse")
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("provider failure must not look like bad credentials")
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	cfg := testConfig()
	cfg.Password.WorkFactor = bcrypt.MinCost + 1
	cfg.Password.UpgradeOnLogin = true
	alice := aliceUser(t)
	te := newTestEngine(t, cfg, alice)

	if _, err := te.Login(context.Background(), alice.Email, "correct horse"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	stored := te.users.user(alice.ID).PasswordHash
	if stored == alice.PasswordHash {
		t.Fatal("expected password hash to be upgraded")
	}
	if got := te.Hasher().Strength(stored); got != bcrypt.MinCost+1 {
		t.Fatalf("upgraded strength = %d", got)
	}
	if !te.Hasher().Verify("correct horse", stored) {
		t.Fatal("upgraded hash must still verify")
	}
}

func TestRehashIfNeededNoop(t *testing.T) {
	alice := aliceUser(t)
	te := newTestEngine(t, testConfig(), alice)

	changed, err := te.RehashIfNeeded(context.Background(), alice, "correct horse")
	if err != nil || changed {
		t.Fatalf("RehashIfNeeded = %v, %v; want false, nil", changed, err)
	}
	if te.users.updates != 0 {
		t.Fatalf("unexpected provider updates: %d", te.users.updates)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	ctx := context.Background()

	first, err := te.Login(ctx, "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected superseded token to fail, got %v", err)
	}
	if _, err := te.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("expected rotated token to work, got %v", err)
	}
}

func TestRefreshInvalidInput(t *testing.T) {
	te := newTestEngine(t, testConfig(), aliceUser(t))
	ctx := context.Background()

	if _, err := te.Refresh(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := te.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshForDeletedUserRevokes(t *testing.T) {
	alice := aliceUser(t)
	te := newTestEngine(t, testConfig(), alice)
	ctx := context.Background()

	pair, err := te.Login(ctx, alice.Email, "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	te.users.remove(alice.ID)

	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
	infos, err := te.RefreshTokens().ActiveTokens(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ActiveTokens error: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected token revoked, got %d active", len(infos))
	}
}

func TestLogoutRevokesRefresh(t *testing.T) {
	alice := aliceUser(t)
	te := newTestEngine(t, testConfig(), alice)
	ctx := context.Background()

	pair, err := te.Login(ctx, alice.Email, "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if err := te.Logout(ctx, alice.ID); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid after logout, got %v", err)
	}
	if !te.ValidateAccessToken(pair.AccessToken).Valid {
		t.Fatal("access token stays valid until expiry")
	}
	if err := te.Logout(ctx, " "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestValidateAccessTokenReasons(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	cfg := testConfig()

	c := cache.NewMemory(cache.WithClock(func() time.Time { return *clock }))
	e, err := New().
		WithConfig(cfg).
		WithCache(c).
		WithUserProvider(newMemoryUsers(aliceUser(t))).
		WithClock(func() time.Time { return *clock }).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	defer e.Close()

	pair, err := e.Login(context.Background(), "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if res := e.ValidateAccessToken(""); res.Valid || res.Reason != string(jwt.ReasonEmpty) {
		t.Fatalf("unexpected result for empty token: %+v", res)
	}
	if res := e.ValidateAccessToken("a.b.c"); res.Valid || res.Reason != string(jwt.ReasonMalformed) {
		t.Fatalf("unexpected result for garbage: %+v", res)
	}

	later := now.Add(cfg.JWT.AccessTTL + cfg.JWT.ClockSkew + time.Second)
	clock = &later
	if res := e.ValidateAccessToken(pair.AccessToken); res.Valid || res.Reason != string(jwt.ReasonExpired) {
		t.Fatalf("unexpected result for expired token: %+v", res)
	}
}

func TestAuthenticateAttachesPrincipal(t *testing.T) {
	alice := aliceUser(t)
	te := newTestEngine(t, testConfig(), alice)

	pair, err := te.Login(context.Background(), alice.Email, "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	ctx, p, err := te.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	got, ok := PrincipalFromContext(ctx)
	if !ok || got.UserID != alice.ID || !p.HasRole("customer") {
		t.Fatalf("unexpected principal: %+v", got)
	}

	if _, _, err := te.Authenticate(context.Background(), "bogus"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuditEventsDelivered(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(16)

	e, err := New().
		WithConfig(cfg).
		WithCache(cache.NewMemory()).
		WithUserProvider(newMemoryUsers(aliceUser(t))).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	ctx := WithClientIP(context.Background(), "192.0.2.10")
	_, _ = e.Login(ctx, "alice@example.com", "wrong")
	if _, err := e.Login(ctx, "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	e.Close()

	var events []AuditEvent
	for len(sink.Events()) > 0 {
		events = append(events, <-sink.Events())
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Type != EventLoginFailure || events[0].Success || events[0].Reason != "bad_password" {
		t.Fatalf("unexpected failure event: %+v", events[0])
	}
	if events[1].Type != EventLoginSuccess || !events[1].Success || events[1].IP != "192.0.2.10" {
		t.Fatalf("unexpected success event: %+v", events[1])
	}
	if e.AuditDropped() != 0 {
		t.Fatalf("unexpected drops: %d", e.AuditDropped())
	}
}

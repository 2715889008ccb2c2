package authguard

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/authguard/internal/cachetest"
	"github.com/storefront/authguard/password"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memoryUsers struct {
	mu      sync.Mutex
	byID    map[string]User
	updates int
	failGet error
}

func newMemoryUsers(users ...User) *memoryUsers {
	m := &memoryUsers{byID: make(map[string]User)}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return User{}, m.failGet
	}
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return User{}, m.failGet
	}
	u, ok := m.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[userID] = u
	m.updates++
	return nil
}

func (m *memoryUsers) MarkEmailConfirmed(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.EmailConfirmed = true
	m.byID[userID] = u
	return nil
}

func (m *memoryUsers) remove(userID string) {
	m.mu.Lock()
	delete(m.byID, userID)
	m.mu.Unlock()
}

func (m *memoryUsers) user(userID string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[userID]
}

type recordedFlow struct {
	flow    string
	outcome string
}

type recordingMetrics struct {
	noopMetrics
	mu     sync.Mutex
	issued map[string]int
	flows  []recordedFlow
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{issued: make(map[string]int)}
}

func (r *recordingMetrics) TokenIssued(kind string) {
	r.mu.Lock()
	r.issued[kind]++
	r.mu.Unlock()
}

func (r *recordingMetrics) FlowCompleted(flow, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.flows = append(r.flows, recordedFlow{flow: flow, outcome: outcome})
	r.mu.Unlock()
}

func (r *recordingMetrics) lastFlow() recordedFlow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.flows) == 0 {
		return recordedFlow{}
	}
	return r.flows[len(r.flows)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Issuer = "https://auth.storefront.test"
	cfg.JWT.Audience = "storefront-api"
	cfg.JWT.Secret = []byte(testSecret)
	cfg.Password.WorkFactor = bcrypt.MinCost
	cfg.Password.UpgradeOnLogin = false
	cfg.Audit.Enabled = false
	return cfg
}

func mustHash(t *testing.T, cost int, plaintext string) string {
	t.Helper()
	cfg := password.DefaultConfig()
	cfg.Cost = cost
	h, err := password.New(cfg)
	if err != nil {
		t.Fatalf("password.New error: %v", err)
	}
	hash, err := h.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	return hash
}

func aliceUser(t *testing.T) User {
	t.Helper()
	return User{
		ID:           "user-1",
		Email:        "alice@example.com",
		FirstName:    "Alice",
		LastName:     "Liddell",
		DisplayName:  "Alice L.",
		Status:       "active",
		PasswordHash: mustHash(t, bcrypt.MinCost, "correct horse"),
		Roles:        []string{"customer"},
	}
}

type testEngine struct {
	*Engine
	users   *memoryUsers
	mr      *miniredis.Miniredis
	metrics *recordingMetrics
}

func newTestEngine(t *testing.T, cfg Config, users ...User) testEngine {
	t.Helper()
	c, mr := cachetest.NewRedis(t)
	up := newMemoryUsers(users...)
	rec := newRecordingMetrics()

	e, err := New().
		WithConfig(cfg).
		WithCache(c).
		WithUserProvider(up).
		WithMetrics(rec).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(e.Close)
	return testEngine{Engine: e, users: up, mr: mr, metrics: rec}
}

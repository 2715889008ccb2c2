package authguard

import (
	"context"
	"io"
	"time"

	"github.com/storefront/authguard/internal/audit"
)

// User is the account record returned by a UserProvider.
type User struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	DisplayName    string
	Status         string
	PasswordHash   string
	EmailConfirmed bool
	Roles          []string
}

// UserProvider is implemented by the host application's account store.
// Lookups return ErrUserNotFound for unknown users.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	MarkEmailConfirmed(ctx context.Context, userID string) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
}

// AccessTokenResult is the outcome of Engine.ValidateAccessToken. Reason
// names the failure when Valid is false.
type AccessTokenResult struct {
	Valid     bool
	UserID    string
	Email     string
	ExpiresAt time.Time
	Roles     []string
	Reason    string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Email     string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// AuditEvent is one security-relevant outcome delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = audit.SinkFunc

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards audit events into a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs audit events through slog.
type SlogSink = audit.SlogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

package authguard

import (
	"context"

	"github.com/storefront/authguard/internal/audit"
)

// Audit event types.
const (
	EventLoginSuccess             = "login_success"
	EventLoginFailure             = "login_failure"
	EventLoginRateLimited         = "login_rate_limited"
	EventPasswordRehashed         = "password_rehashed"
	EventRefreshSuccess           = "refresh_success"
	EventRefreshFailure           = "refresh_failure"
	EventLogout                   = "logout"
	EventPasswordChanged          = "password_changed"
	EventPasswordChangeFailure    = "password_change_failure"
	EventPasswordResetRequested   = "password_reset_requested"
	EventPasswordResetRateLimited = "password_reset_rate_limited"
	EventPasswordResetCompleted   = "password_reset_completed"
	EventPasswordResetFailure     = "password_reset_failure"
	EventEmailConfirmationSent    = "email_confirmation_requested"
	EventEmailConfirmationLimited = "email_confirmation_rate_limited"
	EventEmailConfirmed           = "email_confirmed"
	EventEmailConfirmationFailure = "email_confirmation_failure"
)

func (e *Engine) emitAudit(ctx context.Context, event audit.Event) {
	if e.audit == nil {
		return
	}
	event.Timestamp = e.now().UTC()
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) auditSuccess(ctx context.Context, eventType, userID, email string) {
	e.emitAudit(ctx, audit.Event{Type: eventType, UserID: userID, Email: email, Success: true})
}

func (e *Engine) auditFailure(ctx context.Context, eventType, userID, email, reason string) {
	e.emitAudit(ctx, audit.Event{Type: eventType, UserID: userID, Email: email, Reason: reason})
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

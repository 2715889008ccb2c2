package authguard

import (
	"time"

	"github.com/storefront/authguard/ratelimit"
)

// MetricsRecorder receives engine instrumentation. metrics.Metrics and
// metrics.OTel implement it.
type MetricsRecorder interface {
	ratelimit.Observer

	TokenIssued(kind string)
	TokenValidated(kind, result string)
	FlowCompleted(flow, outcome string, d time.Duration)
	AuditDropped()
}

type noopMetrics struct{}

func (noopMetrics) RateLimitDecision(string, bool) {}
func (noopMetrics) RateLimitFailOpen(string) {}
func (noopMetrics) RateLimitAutoBlock(string) {}
func (noopMetrics) TokenIssued(string) {}
func (noopMetrics) TokenValidated(string, string) {}
func (noopMetrics) FlowCompleted(string, string, time.Duration) {}
func (noopMetrics) AuditDropped() {}

const (
	tokenKindAccess            = "access"
	tokenKindRefresh           = "refresh"
	tokenKindEmailConfirmation = "email_confirmation"
	tokenKindPasswordReset     = "password_reset"
)

package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNilMeter is returned by NewOTel without a meter.
var ErrNilMeter = errors.New("nil meter")

// OTel records the same events as [Metrics] through an OpenTelemetry meter.
type OTel struct {
	tokensIssued       metric.Int64Counter
	tokenValidations   metric.Int64Counter
	flowOutcomes       metric.Int64Counter
	flowDuration       metric.Float64Histogram
	rateLimitDecisions metric.Int64Counter
	rateLimitFailOpen  metric.Int64Counter
	autoBlocks         metric.Int64Counter
	auditDropped       metric.Int64Counter
}

// NewOTel creates the instruments on meter.
func NewOTel(meter metric.Meter) (*OTel, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	o := &OTel{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&o.tokensIssued, "authguard.tokens_issued", "Tokens issued by kind."},
		{&o.tokenValidations, "authguard.token_validations", "Token validations by kind and result."},
		{&o.flowOutcomes, "authguard.flow_outcomes", "Engine flow completions by flow and outcome."},
		{&o.rateLimitDecisions, "authguard.ratelimit.decisions", "Rate-limit admission decisions."},
		{&o.rateLimitFailOpen, "authguard.ratelimit.fail_open", "Admission checks let through on cache failure."},
		{&o.autoBlocks, "authguard.ratelimit.auto_blocks", "Identifiers blocked automatically."},
		{&o.auditDropped, "authguard.audit.dropped", "Audit events dropped on a full buffer."},
	}
	for _, c := range counters {
		ins, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = ins
	}

	hist, err := meter.Float64Histogram("authguard.flow.duration",
		metric.WithDescription("Engine flow latency."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram authguard.flow.duration: %w", err)
	}
	o.flowDuration = hist
	return o, nil
}

func (o *OTel) TokenIssued(kind string) {
	if o == nil {
		return
	}
	o.tokensIssued.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (o *OTel) TokenValidated(kind, result string) {
	if o == nil {
		return
	}
	o.tokenValidations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

func (o *OTel) FlowCompleted(flow, outcome string, d time.Duration) {
	if o == nil {
		return
	}
	ctx := context.Background()
	o.flowOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
	o.flowDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("flow", flow)))
}

func (o *OTel) AuditDropped() {
	if o == nil {
		return
	}
	o.auditDropped.Add(context.Background(), 1)
}

func (o *OTel) RateLimitDecision(rule string, allowed bool) {
	if o == nil {
		return
	}
	o.rateLimitDecisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("rule", rule),
		attribute.String("decision", decision(allowed)),
	))
}

func (o *OTel) RateLimitFailOpen(op string) {
	if o == nil {
		return
	}
	o.rateLimitFailOpen.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (o *OTel) RateLimitAutoBlock(rule string) {
	if o == nil {
		return
	}
	o.autoBlocks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("rule", rule)))
}

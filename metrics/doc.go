// Package metrics exports authguard counters to Prometheus or OpenTelemetry.
//
// Both [Metrics] and [OTel] satisfy the recorder interfaces consumed by the
// engine and the rate limiter. Methods are safe on a nil receiver so callers
// never need to guard optional instrumentation.
package metrics

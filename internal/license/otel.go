package license

import (
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's OpenTelemetry instruments.
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	TamperEvents       metric.Int64Counter
	CloneAttempts      metric.Int64Counter
	BlockedRequests    metric.Int64Counter
	RateLimitHits      metric.Int64Counter
	InvalidKeyAttempts metric.Int64Counter
}

// NewMetrics registers the engine instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ValidationAttempts, err = meter.Int64Counter("license_validation_attempts_total",
		metric.WithDescription("Validation calls received")); err != nil {
		return nil, err
	}
	if m.ValidationSuccess, err = meter.Int64Counter("license_validation_success_total",
		metric.WithDescription("Validation calls that returned valid")); err != nil {
		return nil, err
	}
	if m.ValidationFailures, err = meter.Int64Counter("license_validation_failures_total",
		metric.WithDescription("Validation calls rejected for any reason")); err != nil {
		return nil, err
	}
	if m.ValidationDuration, err = meter.Float64Histogram("license_validation_duration_seconds",
		metric.WithDescription("End-to-end validation latency")); err != nil {
		return nil, err
	}
	if m.TamperEvents, err = meter.Int64Counter("license_tamper_events_total",
		metric.WithDescription("Tamper events recorded")); err != nil {
		return nil, err
	}
	if m.CloneAttempts, err = meter.Int64Counter("license_clone_attempts_total",
		metric.WithDescription("Domain-lock violations")); err != nil {
		return nil, err
	}
	if m.BlockedRequests, err = meter.Int64Counter("license_blocked_requests_total",
		metric.WithDescription("Requests rejected by IP reputation")); err != nil {
		return nil, err
	}
	if m.RateLimitHits, err = meter.Int64Counter("license_rate_limit_hits_total",
		metric.WithDescription("Requests rejected by the per-source window")); err != nil {
		return nil, err
	}
	if m.InvalidKeyAttempts, err = meter.Int64Counter("license_invalid_key_attempts_total",
		metric.WithDescription("Lookups for unknown or ill-formed license keys")); err != nil {
		return nil, err
	}

	return m, nil
}

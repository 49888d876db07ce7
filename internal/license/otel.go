package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const MeterName = "entitlement-engine"

// EngineMetrics holds the entitlement engine OpenTelemetry metrics. The
// manager tolerates running without them; recording is skipped when unset.
type EngineMetrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	GraceFallbacks    metric.Int64Counter
	SignatureFailures metric.Int64Counter
	RateLimitHits     metric.Int64Counter
}

// InitializeEngineMetrics creates the engine metrics on a meter.
func InitializeEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationSuccess, err = meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of successful license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	m.ValidationFailures, err = meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of failed license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.CacheHits, err = meter.Int64Counter(
		"license_state_cache_hits_total",
		metric.WithDescription("Total number of state cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.CacheMisses, err = meter.Int64Counter(
		"license_state_cache_misses_total",
		metric.WithDescription("Total number of state cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.GraceFallbacks, err = meter.Int64Counter(
		"license_grace_fallbacks_total",
		metric.WithDescription("Total number of grace period fallbacks after network failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grace fallbacks counter: %w", err)
	}

	m.SignatureFailures, err = meter.Int64Counter(
		"license_signature_failures_total",
		metric.WithDescription("Total number of signature verification failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature failures counter: %w", err)
	}

	m.RateLimitHits, err = meter.Int64Counter(
		"license_rate_limit_hits_total",
		metric.WithDescription("Total number of authority calls rejected by the local rate limit"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit hits counter: %w", err)
	}

	return m, nil
}

func (m *Manager) recordValidation(ctx context.Context, start time.Time, success bool) {
	if m.metrics == nil {
		return
	}
	m.metrics.ValidationAttempts.Add(ctx, 1)
	m.metrics.ValidationDuration.Record(ctx, time.Since(start).Seconds())
	if success {
		m.metrics.ValidationSuccess.Add(ctx, 1)
	} else {
		m.metrics.ValidationFailures.Add(ctx, 1)
	}
}

func (m *Manager) recordCacheHit(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.CacheHits.Add(ctx, 1)
	}
}

func (m *Manager) recordCacheMiss(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.CacheMisses.Add(ctx, 1)
	}
}

func (m *Manager) recordGraceFallback(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.GraceFallbacks.Add(ctx, 1)
	}
}

func (m *Manager) recordSignatureFailure(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.SignatureFailures.Add(ctx, 1)
	}
}

func (m *Manager) recordRateLimitHit(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.RateLimitHits.Add(ctx, 1)
	}
}

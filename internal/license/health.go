package license

import (
	"context"
	"time"
)

// HealthStatus represents the health of an engine component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth describes one checked component.
type ComponentHealth struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthCheckResult is the aggregate engine health snapshot.
type HealthCheckResult struct {
	Status     HealthStatus                `json:"status"`
	Components map[string]*ComponentHealth `json:"components"`
	CheckedAt  time.Time                   `json:"checked_at"`
}

// HealthCheck inspects the engine's local components: the verification key,
// the machine identity and the state cache. It never calls the authority;
// health must not depend on the network.
func (m *Manager) HealthCheck(ctx context.Context) *HealthCheckResult {
	now := m.now()
	components := map[string]*ComponentHealth{
		"verifier":    m.checkVerifier(now),
		"fingerprint": m.checkFingerprint(now),
		"state_cache": m.checkCache(now),
	}

	status := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}

	return &HealthCheckResult{
		Status:     status,
		Components: components,
		CheckedAt:  now,
	}
}

func (m *Manager) checkVerifier(now time.Time) *ComponentHealth {
	health := &ComponentHealth{Status: HealthStatusHealthy, CheckedAt: now}
	bits := m.verifier.KeyBits()
	health.Details = map[string]any{"key_bits": bits}
	if bits < RecommendedKeyBits {
		health.Status = HealthStatusDegraded
		health.Message = "verification key below recommended strength"
	}
	return health
}

func (m *Manager) checkFingerprint(now time.Time) *ComponentHealth {
	health := &ComponentHealth{Status: HealthStatusHealthy, CheckedAt: now}
	identity, err := m.fingerprint.Identity()
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = err.Error()
		return health
	}
	health.Details = map[string]any{
		"hostname": identity.Hostname,
		"os":       identity.OS,
	}
	return health
}

func (m *Manager) checkCache(now time.Time) *ComponentHealth {
	stats := m.store.Stats()
	health := &ComponentHealth{
		Status:    HealthStatusHealthy,
		CheckedAt: now,
		Details:   stats,
	}
	if enabled, ok := stats["mac_enabled"].(bool); ok && !enabled {
		health.Status = HealthStatusDegraded
		health.Message = "cache integrity protection disabled"
	}
	return health
}

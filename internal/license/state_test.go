package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLicenseStateGates(t *testing.T) {
	active := NewLicenseState("KEY1TEST5678", NewEntitlementStateAt(map[string]any{
		"valid":    true,
		"status":   "active",
		"features": map[string]any{"reporting": true},
	}, "", derivationNow))

	assert.Equal(t, "KEY1TEST5678", active.Key())
	assert.True(t, active.IsActive())
	assert.False(t, active.IsInGrace())
	assert.True(t, active.AllowsOperation())
	assert.True(t, active.AllowsUpdates())
	assert.True(t, active.AllowsDownloads())
	assert.True(t, active.TelemetryEnabled())
	assert.True(t, active.HasCapability("reporting"))
	assert.False(t, active.HasCapability("absent"))
}

func TestLicenseStateGrace(t *testing.T) {
	grace := NewLicenseState("KEY1TEST5678", NewEntitlementStateAt(map[string]any{
		"valid_until": derivationNow.Add(-time.Hour).Format(time.RFC3339),
	}, "", derivationNow))

	assert.True(t, grace.IsInGrace())
	assert.True(t, grace.AllowsOperation())
	assert.True(t, grace.IsExpired())
}

func TestLicenseStateRestricted(t *testing.T) {
	resolver := NewStateResolver(nil)
	restricted := NewLicenseState("KEY1TEST5678", resolver.CreateRestrictedState("unreachable"))

	assert.False(t, restricted.AllowsOperation())
	assert.False(t, restricted.AllowsUpdates())
	assert.False(t, restricted.AllowsDownloads())
	assert.Equal(t, StatusInvalid, restricted.State())
}

func TestLicenseStateUpdatesGateRequiresOperation(t *testing.T) {
	// A revoked license may formally list the updates feature, but the
	// operation gate wins.
	revoked := NewLicenseState("KEY1TEST5678", NewEntitlementStateAt(map[string]any{
		"status":   "revoked",
		"features": map[string]any{CapUpdates: true},
	}, "", derivationNow))

	assert.False(t, revoked.AllowsUpdates())
	assert.False(t, revoked.AllowsDownloads())
}

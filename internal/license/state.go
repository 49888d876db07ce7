package license

import "time"

// LicenseState is the read-only facade handed to external callers: feature
// gates, update and download guards. It wraps an EntitlementState and the
// originating license key and carries no mutable state of its own.
type LicenseState struct {
	key string
	ent *EntitlementState
}

// NewLicenseState wraps an entitlement snapshot for a license key.
func NewLicenseState(key string, ent *EntitlementState) *LicenseState {
	return &LicenseState{key: key, ent: ent}
}

// Key returns the originating license key.
func (l *LicenseState) Key() string { return l.key }

// Entitlement returns the underlying snapshot.
func (l *LicenseState) Entitlement() *EntitlementState { return l.ent }

// State returns the resolved entitlement status.
func (l *LicenseState) State() Status { return l.ent.State() }

// IsActive reports an unrestricted ACTIVE state.
func (l *LicenseState) IsActive() bool { return l.ent.IsActive() }

// IsInGrace reports operation under a grace window.
func (l *LicenseState) IsInGrace() bool { return l.ent.IsInGrace() }

// AllowsOperation reports whether gated functionality may run.
func (l *LicenseState) AllowsOperation() bool { return l.ent.AllowsOperation() }

// IsExpired reports whether the validity window has closed.
func (l *LicenseState) IsExpired() bool { return l.ent.IsExpired() }

// HasCapability reports whether a named grant is enabled.
func (l *LicenseState) HasCapability(name string) bool { return l.ent.HasCapability(name) }

// CapabilityValue returns the raw grant value for a capability.
func (l *LicenseState) CapabilityValue(name string) (any, bool) {
	return l.ent.CapabilityValue(name)
}

// AllowsUpdates is the standard update-guard gate.
func (l *LicenseState) AllowsUpdates() bool {
	return l.ent.AllowsOperation() && l.ent.HasCapability(CapUpdates)
}

// AllowsDownloads is the standard download-guard gate.
func (l *LicenseState) AllowsDownloads() bool {
	return l.ent.AllowsOperation() && l.ent.HasCapability(CapDownloads)
}

// TelemetryEnabled reports whether telemetry collection is permitted.
func (l *LicenseState) TelemetryEnabled() bool { return l.ent.HasCapability(CapTelemetry) }

// VerifyContextBinding hashes the raw identifier and compares it against the
// stored binding.
func (l *LicenseState) VerifyContextBinding(rawContext string) bool {
	return l.ent.VerifyContextBinding(rawContext)
}

// LastVerifiedAt returns the last successful verification instant.
func (l *LicenseState) LastVerifiedAt() time.Time { return l.ent.LastVerifiedAt() }

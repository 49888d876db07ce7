package http

import (
	"context"

	"entitled/internal/license"
)

// LicenseService is the manager surface the handlers consume. The concrete
// implementation is license.Manager; tests substitute a stub.
type LicenseService interface {
	ValidateLicense(ctx context.Context, licenseKey string, opts license.ValidateOptions) (*license.EntitlementState, error)
	ActivateLicense(ctx context.Context, licenseKey string) (*license.EntitlementState, error)
	InstallLicenseFile(ctx context.Context, licenseKey, content string) error
	GetLicenseState(ctx context.Context, licenseKey string) *license.LicenseState
	ClearLicenseState(licenseKey string) int
	CacheStats() map[string]any
	HealthCheck(ctx context.Context) *license.HealthCheckResult
}

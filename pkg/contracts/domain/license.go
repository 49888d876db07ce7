// Package domain contains the contract types shared between the entitlement
// engine, its local HTTP surface, and embedding applications.
package domain

import (
	"time"
)

// EntitlementStatus is the derived license state exposed to embedders.
type EntitlementStatus string

const (
	EntitlementStatusActive     EntitlementStatus = "ACTIVE"
	EntitlementStatusGrace      EntitlementStatus = "GRACE"
	EntitlementStatusRestricted EntitlementStatus = "RESTRICTED"
	EntitlementStatusInvalid    EntitlementStatus = "INVALID"
)

// LicenseStatusResponse is the snapshot returned by GET /api/license/status.
type LicenseStatusResponse struct {
	LicenseKey     string                 `json:"license_key"`
	Status         EntitlementStatus      `json:"status"`
	Operational    bool                   `json:"operational"`
	InGrace        bool                   `json:"in_grace"`
	Expired        bool                   `json:"expired"`
	Capabilities   map[string]bool        `json:"capabilities,omitempty"`
	LastVerifiedAt *time.Time             `json:"last_verified_at,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	TraceID        string                 `json:"trace_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// LicenseValidationRequest is the payload for POST /api/license/validate.
type LicenseValidationRequest struct {
	LicenseKey   string `json:"license_key" validate:"required,min=8"`
	ForceNetwork bool   `json:"force_network,omitempty"`
}

// LicenseActivationRequest is the payload for POST /api/license/activate.
type LicenseActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8"`
}

// LicenseInstallRequest is the payload for POST /api/license/install. Content
// carries the base64-encoded offline license file.
type LicenseInstallRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8"`
	Content    string `json:"content" validate:"required"`
}

// LicenseOperationResponse is the envelope for mutating license operations.
type LicenseOperationResponse struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	Status    *LicenseStatusResponse `json:"status,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// CacheStatsResponse reports state cache statistics for diagnostics.
type CacheStatsResponse struct {
	Stats     map[string]interface{} `json:"stats"`
	Timestamp time.Time              `json:"timestamp"`
}

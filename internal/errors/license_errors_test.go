package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitled/internal/license"
)

func asProblem(t *testing.T, r interface{}) *ProblemDetails {
	t.Helper()
	pd, ok := r.(*ProblemDetails)
	require.True(t, ok, "expected *ProblemDetails, got %T", r)
	return pd
}

func TestMapLicenseError_Sentinels(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid key", license.ErrInvalidKey, http.StatusBadRequest, "INVALID_LICENSE_KEY"},
		{"invalid api key", license.ErrInvalidAPIKey, http.StatusUnauthorized, "INVALID_API_KEY"},
		{"not found", license.ErrLicenseNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"no license file", license.ErrNoLicenseFile, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"expired", license.ErrLicenseExpired, http.StatusForbidden, "LICENSE_EXPIRED"},
		{"suspended", license.ErrLicenseSuspended, http.StatusForbidden, "LICENSE_SUSPENDED"},
		{"revoked", license.ErrLicenseRevoked, http.StatusForbidden, "LICENSE_REVOKED"},
		{"activation limit", license.ErrActivationLimit, http.StatusConflict, "ACTIVATION_LIMIT"},
		{"binding mismatch", license.ErrBindingMismatch, http.StatusConflict, "BINDING_MISMATCH"},
		{"signature invalid", license.ErrSignatureInvalid, http.StatusForbidden, "SIGNATURE_INVALID"},
		{"signature missing", license.ErrSignatureMissing, http.StatusForbidden, "SIGNATURE_INVALID"},
		{"capability denied", license.ErrCapabilityDenied, http.StatusForbidden, "CAPABILITY_DENIED"},
		{"resource exhausted", license.ErrResourceExhausted, http.StatusForbidden, "RESOURCE_EXHAUSTED"},
		{"network", license.ErrNetwork, http.StatusServiceUnavailable, "NETWORK_ERROR"},
		{"rate limited", license.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"data validation", license.ErrDataValidation, http.StatusUnprocessableEntity, "DATA_VALIDATION_FAILED"},
		{"unknown", fmt.Errorf("something odd"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd := asProblem(t, MapLicenseError(tt.err, "trace-1"))
			assert.Equal(t, tt.wantStatus, pd.Status)
			assert.Equal(t, tt.wantCode, pd.Extensions["error_code"])
			assert.Equal(t, "trace-1", pd.Extensions["trace_id"])
		})
	}
}

func TestMapLicenseError_WrappedErrors(t *testing.T) {
	// Typed errors unwrap to their sentinels, so the mapping sees through
	// arbitrary wrapping.
	wrapped := fmt.Errorf("validate: %w", &license.NetworkError{Op: "validate", Err: fmt.Errorf("timeout")})
	pd := asProblem(t, MapLicenseError(wrapped, "t"))
	assert.Equal(t, http.StatusServiceUnavailable, pd.Status)

	verification := &license.VerificationError{Reason: "mismatch"}
	pd = asProblem(t, MapLicenseError(verification, "t"))
	assert.Equal(t, "SIGNATURE_INVALID", pd.Extensions["error_code"])
}

func TestMapLicenseError_StatusErrorExtensions(t *testing.T) {
	expiredAt := time.Now().UTC().Add(-72 * time.Hour)
	pd := asProblem(t, MapLicenseError(&license.StatusError{Status: "expired", ExpiredAt: expiredAt}, "t"))

	assert.Equal(t, http.StatusForbidden, pd.Status)
	assert.Equal(t, 3, pd.Extensions["days_since_expiry"])
	assert.Contains(t, pd.Extensions, "expired_at")
}

func TestMapLicenseError_ActivationExtensions(t *testing.T) {
	err := &license.ActivationError{Reason: "limit", MaxActivations: 5, CurrentActivations: 5}
	pd := asProblem(t, MapLicenseError(err, "t"))

	assert.Equal(t, http.StatusConflict, pd.Status)
	assert.Equal(t, 5, pd.Extensions["max_activations"])
	assert.Equal(t, 5, pd.Extensions["current_activations"])
}

func TestMapLicenseError_CapabilityExtensions(t *testing.T) {
	err := &license.CapabilityError{Capability: "reporting", State: license.StatusRestricted}
	pd := asProblem(t, MapLicenseError(err, "t"))

	assert.Equal(t, "reporting", pd.Extensions["capability"])
	assert.Equal(t, "RESTRICTED", pd.Extensions["license_state"])
}

func TestMapLicenseError_UnmappedAPICode(t *testing.T) {
	pd := asProblem(t, MapLicenseError(&license.APICodeError{Code: 742}, "t"))

	assert.Equal(t, http.StatusBadGateway, pd.Status)
	assert.Equal(t, 742, pd.Extensions["api_code"])
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusForbidden, "/errors/license-expired", "License Expired", "renew", "/api/license#trace-x").
		WithExtension("trace_id", "x")

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "/errors/license-expired", decoded["type"])
	assert.Equal(t, float64(http.StatusForbidden), decoded["status"])
	assert.Equal(t, "x", decoded["trace_id"], "extensions are flattened into the object")
}

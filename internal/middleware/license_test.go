package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitled/internal/license"
)

type stubResolver struct {
	state  *license.LicenseState
	capErr error
}

func (s *stubResolver) GetLicenseState(ctx context.Context, licenseKey string) *license.LicenseState {
	return s.state
}

func (s *stubResolver) RequireCapability(ctx context.Context, licenseKey, capability string) error {
	return s.capErr
}

func activeState(t *testing.T) *license.LicenseState {
	t.Helper()
	return license.NewLicenseState("GATEKEY12345", license.NewEntitlementState(map[string]any{
		"valid":    true,
		"status":   "active",
		"features": map[string]any{"reporting": true},
	}, ""))
}

func restrictedState(t *testing.T) *license.LicenseState {
	t.Helper()
	resolver := license.NewStateResolver(nil)
	return license.NewLicenseState("GATEKEY12345", resolver.CreateRestrictedState("unreachable"))
}

func newTestGate(t *testing.T, resolver EntitlementResolver) *EntitlementGate {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewEntitlementGate(resolver, "GATEKEY12345", logger)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestEntitlementGate_AllowsOperationalState(t *testing.T) {
	gate := newTestGate(t, &stubResolver{state: activeState(t)})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	gate.Handler(okHandler()).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEntitlementGate_DeniesRestrictedState(t *testing.T) {
	gate := newTestGate(t, &stubResolver{state: restrictedState(t)})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	gate.Handler(okHandler()).ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/errors/license-state-denied", body["type"])
	assert.Equal(t, "LICENSE_STATE_DENIED", body["error_code"])
	assert.Equal(t, "INVALID", body["license_state"])
}

func TestEntitlementGate_ExcludedPathsBypass(t *testing.T) {
	// Restricted state, but status and metrics endpoints stay reachable so
	// the operator can diagnose the denial.
	gate := newTestGate(t, &stubResolver{state: restrictedState(t)})

	for _, path := range []string{"/api/license/status", "/metrics", "/static/app.css"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, path, nil)
			gate.Handler(okHandler()).ServeHTTP(w, r)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestEntitlementGate_Disabled(t *testing.T) {
	gate := newTestGate(t, &stubResolver{state: restrictedState(t)})
	gate.SetEnabled(false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	gate.Handler(okHandler()).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEntitlementGate_RequireCapability(t *testing.T) {
	t.Run("granted", func(t *testing.T) {
		gate := newTestGate(t, &stubResolver{state: activeState(t)})

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
		gate.RequireCapability("reporting")(okHandler()).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("denied", func(t *testing.T) {
		capErr := &license.CapabilityError{Capability: "reporting", State: license.StatusRestricted}
		gate := newTestGate(t, &stubResolver{state: activeState(t), capErr: capErr})

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
		gate.RequireCapability("reporting")(okHandler()).ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "CAPABILITY_DENIED", body["error_code"])
		assert.Equal(t, "reporting", body["capability"])
	})
}

func TestEntitlementGate_AddExclusions(t *testing.T) {
	gate := newTestGate(t, &stubResolver{state: restrictedState(t)})
	gate.AddExcludePath("/custom")
	gate.AddExcludePrefix("/plugin/")

	for _, path := range []string{"/custom", "/plugin/x"} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		gate.Handler(okHandler()).ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitled/internal/license"
	"entitled/pkg/contracts/domain"
)

type stubService struct {
	validateFn func(ctx context.Context, key string, opts license.ValidateOptions) (*license.EntitlementState, error)
	activateFn func(ctx context.Context, key string) (*license.EntitlementState, error)
	installFn  func(ctx context.Context, key, content string) error
	state      *license.LicenseState
	health     *license.HealthCheckResult
	cleared    int
}

func (s *stubService) ValidateLicense(ctx context.Context, key string, opts license.ValidateOptions) (*license.EntitlementState, error) {
	return s.validateFn(ctx, key, opts)
}

func (s *stubService) ActivateLicense(ctx context.Context, key string) (*license.EntitlementState, error) {
	return s.activateFn(ctx, key)
}

func (s *stubService) InstallLicenseFile(ctx context.Context, key, content string) error {
	return s.installFn(ctx, key, content)
}

func (s *stubService) GetLicenseState(ctx context.Context, key string) *license.LicenseState {
	return s.state
}

func (s *stubService) ClearLicenseState(key string) int { return s.cleared }

func (s *stubService) CacheStats() map[string]any {
	return map[string]any{"entries": 1}
}

func (s *stubService) HealthCheck(ctx context.Context) *license.HealthCheckResult {
	return s.health
}

func activeEntitlement() *license.EntitlementState {
	return license.NewEntitlementState(map[string]any{
		"valid":    true,
		"status":   "active",
		"features": map[string]any{"reporting": true, "exports": false},
	}, "")
}

func testHandler(s *stubService) *LicenseHandler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewLicenseHandler(s, "HANDLERKEY12", logger)
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

func TestGetStatus(t *testing.T) {
	svc := &stubService{state: license.NewLicenseState("HANDLERKEY12", activeEntitlement())}
	h := testHandler(svc)

	w := httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.LicenseStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.EntitlementStatusActive, resp.Status)
	assert.True(t, resp.Operational)
	assert.Equal(t, "HAND********", resp.LicenseKey, "key is masked in responses")
	assert.True(t, resp.Capabilities["reporting"])
	assert.False(t, resp.Capabilities["exports"])
}

func TestValidate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotOpts license.ValidateOptions
		svc := &stubService{
			validateFn: func(ctx context.Context, key string, opts license.ValidateOptions) (*license.EntitlementState, error) {
				gotOpts = opts
				return activeEntitlement(), nil
			},
		}
		w := postJSON(t, testHandler(svc).Validate, map[string]any{
			"license_key":   "HANDLERKEY12",
			"force_network": true,
		})

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, gotOpts.ForceNetwork)

		var resp domain.LicenseOperationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Status)
		assert.Equal(t, domain.EntitlementStatusActive, resp.Status.Status)
	})

	t.Run("malformed key", func(t *testing.T) {
		svc := &stubService{}
		w := postJSON(t, testHandler(svc).Validate, map[string]any{"license_key": "x!"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_LICENSE_KEY")
	})

	t.Run("expired maps to problem details", func(t *testing.T) {
		svc := &stubService{
			validateFn: func(ctx context.Context, key string, opts license.ValidateOptions) (*license.EntitlementState, error) {
				return nil, &license.StatusError{Status: "expired", ExpiredAt: time.Now().Add(-48 * time.Hour)}
			},
		}
		w := postJSON(t, testHandler(svc).Validate, map[string]any{"license_key": "HANDLERKEY12"})

		assert.Equal(t, http.StatusForbidden, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "/errors/license-expired", body["type"])
		assert.Equal(t, "LICENSE_EXPIRED", body["error_code"])
	})
}

func TestActivate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &stubService{
			activateFn: func(ctx context.Context, key string) (*license.EntitlementState, error) {
				return activeEntitlement(), nil
			},
		}
		w := postJSON(t, testHandler(svc).Activate, map[string]any{"license_key": "HANDLERKEY12"})

		require.Equal(t, http.StatusOK, w.Code)

		var resp domain.LicenseOperationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
	})

	t.Run("binding mismatch", func(t *testing.T) {
		svc := &stubService{
			activateFn: func(ctx context.Context, key string) (*license.EntitlementState, error) {
				return nil, &license.ActivationError{Reason: "hardware mismatch"}
			},
		}
		w := postJSON(t, testHandler(svc).Activate, map[string]any{"license_key": "HANDLERKEY12"})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "BINDING_MISMATCH")
	})
}

func TestInstall(t *testing.T) {
	t.Run("missing content", func(t *testing.T) {
		svc := &stubService{}
		w := postJSON(t, testHandler(svc).Install, map[string]any{"license_key": "HANDLERKEY12"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tampered file surfaces verification error", func(t *testing.T) {
		svc := &stubService{
			installFn: func(ctx context.Context, key, content string) error {
				return &license.VerificationError{Reason: "chunk decryption failed"}
			},
		}
		w := postJSON(t, testHandler(svc).Install, map[string]any{
			"license_key": "HANDLERKEY12",
			"content":     "AAAA",
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "SIGNATURE_INVALID")
	})

	t.Run("success", func(t *testing.T) {
		svc := &stubService{
			installFn: func(ctx context.Context, key, content string) error { return nil },
		}
		w := postJSON(t, testHandler(svc).Install, map[string]any{
			"license_key": "HANDLERKEY12",
			"content":     "AAAA",
		})

		require.Equal(t, http.StatusOK, w.Code)

		var resp domain.LicenseOperationResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
	})
}

func TestClear(t *testing.T) {
	svc := &stubService{cleared: 2}
	h := testHandler(svc)

	w := httptest.NewRecorder()
	h.Clear(w, httptest.NewRequest(http.MethodDelete, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["removed"])
}

func TestGetCacheStats(t *testing.T) {
	svc := &stubService{}
	h := testHandler(svc)

	w := httptest.NewRecorder()
	h.GetCacheStats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.CacheStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp.Stats["entries"])
}

func TestRequestKeyQueryOverride(t *testing.T) {
	svc := &stubService{state: license.NewLicenseState("OTHERKEY0000", activeEntitlement())}
	h := testHandler(svc)

	r := httptest.NewRequest(http.MethodGet, "/status?key=OTHERKEY0000", nil)
	assert.Equal(t, "OTHERKEY0000", h.requestKey(r))

	r = httptest.NewRequest(http.MethodGet, "/status", nil)
	assert.Equal(t, "HANDLERKEY12", h.requestKey(r))
}

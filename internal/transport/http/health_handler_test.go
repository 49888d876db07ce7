package http

import (
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
	"entitled/pkg/contracts"
)

func healthResult(status license.HealthStatus) *license.HealthCheckResult {
	return &license.HealthCheckResult{
		Status: status,
		Components: map[string]*license.ComponentHealth{
			"verifier": {Status: status, CheckedAt: time.Now()},
		},
		CheckedAt: time.Now(),
	}
}

func newHealthHandler(s *stubService) *HealthHandler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewHealthHandler(s, logger)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name     string
		status   license.HealthStatus
		wantCode int
	}{
		{"healthy", license.HealthStatusHealthy, http.StatusOK},
		{"degraded still serves", license.HealthStatusDegraded, http.StatusOK},
		{"unhealthy", license.HealthStatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHealthHandler(&stubService{health: healthResult(tt.status)})

			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)

			var result license.HealthCheckResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
			assert.Equal(t, tt.status, result.Status)
		})
	}
}

func TestGetVersion(t *testing.T) {
	h := newHealthHandler(&stubService{})

	w := httptest.NewRecorder()
	h.GetVersion(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), contracts.Version)
}

package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad input")

	assert.Equal(t, "bad input", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", err.ErrorCode)
}

func TestNewWithDetails(t *testing.T) {
	err := NewWithDetails(http.StatusNotFound, "NOT_FOUND", "missing", "license")
	assert.Equal(t, "license", err.Details)
}

func TestErrValidation(t *testing.T) {
	err := ErrValidation("license_key", "must not be empty")

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	detail, ok := err.Details.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "license_key", detail.Field)
}

func TestErrPanic(t *testing.T) {
	err := ErrPanic("boom")

	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	rec, ok := err.Details.(PanicRecovery)
	require.True(t, ok)
	assert.Equal(t, "boom", rec.Message)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, ErrLicenseNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "LICENSE_NOT_FOUND", resp.Error.ErrorCode)
}

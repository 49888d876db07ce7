package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"entitled/internal/license"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps entitlement domain errors to HTTP problem details.
// Typed errors contribute their context as extension fields; the errors.Is
// switch below handles the sentinel taxonomy. The mapping is deliberately
// deny-oriented: anything unrecognised becomes a 500, never a pass.
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	base := func(status int, problemType, title, detail, errorCode string) *ProblemDetails {
		return NewProblemDetails(status, problemType, title, detail, instance).
			WithExtension("trace_id", traceID).
			WithExtension("error_code", errorCode)
	}

	var statusErr *license.StatusError
	var activationErr *license.ActivationError
	var capErr *license.CapabilityError
	var codeErr *license.APICodeError

	switch {
	case errors.Is(err, license.ErrRateLimited):
		return base(http.StatusTooManyRequests,
			"/errors/rate-limited",
			"Too Many Requests",
			"Too many validation attempts. Please try again later.",
			"RATE_LIMITED").
			WithExtension("retry_after", 60)

	case errors.Is(err, license.ErrInvalidKey):
		return base(http.StatusBadRequest,
			"/errors/invalid-license-key",
			"Invalid License Key",
			"The provided license key is invalid or malformed.",
			"INVALID_LICENSE_KEY")

	case errors.Is(err, license.ErrInvalidAPIKey):
		return base(http.StatusUnauthorized,
			"/errors/invalid-api-key",
			"Invalid API Key",
			"The license server rejected this client's API credentials.",
			"INVALID_API_KEY")

	case errors.Is(err, license.ErrLicenseNotFound), errors.Is(err, license.ErrNoLicenseFile):
		return base(http.StatusNotFound,
			"/errors/license-not-found",
			"License Not Found",
			"No license was found for the given key. Please check the key or install a license.",
			"LICENSE_NOT_FOUND")

	case errors.Is(err, license.ErrLicenseExpired):
		pd := base(http.StatusForbidden,
			"/errors/license-expired",
			"License Expired",
			"Your license has expired. Please renew to continue.",
			"LICENSE_EXPIRED")
		if errors.As(err, &statusErr) {
			if days := statusErr.DaysSinceExpiry(); days > 0 {
				pd.WithExtension("days_since_expiry", days)
			}
			if !statusErr.ExpiredAt.IsZero() {
				pd.WithExtension("expired_at", statusErr.ExpiredAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
		}
		return pd

	case errors.Is(err, license.ErrLicenseSuspended):
		return base(http.StatusForbidden,
			"/errors/license-suspended",
			"License Suspended",
			"This license is suspended. Contact support to restore it.",
			"LICENSE_SUSPENDED")

	case errors.Is(err, license.ErrLicenseRevoked):
		return base(http.StatusForbidden,
			"/errors/license-revoked",
			"License Revoked",
			"This license has been revoked and can no longer be used.",
			"LICENSE_REVOKED")

	case errors.Is(err, license.ErrActivationLimit):
		pd := base(http.StatusConflict,
			"/errors/activation-limit",
			"Activation Limit Reached",
			"This license has reached its maximum number of activations.",
			"ACTIVATION_LIMIT")
		if errors.As(err, &activationErr) && activationErr.MaxActivations > 0 {
			pd.WithExtension("max_activations", activationErr.MaxActivations).
				WithExtension("current_activations", activationErr.CurrentActivations)
		}
		return pd

	case errors.Is(err, license.ErrBindingMismatch):
		return base(http.StatusConflict,
			"/errors/binding-mismatch",
			"License Bound Elsewhere",
			"This license is bound to a different machine or domain.",
			"BINDING_MISMATCH")

	case errors.Is(err, license.ErrSignatureInvalid), errors.Is(err, license.ErrSignatureMissing):
		return base(http.StatusForbidden,
			"/errors/signature-invalid",
			"License Signature Invalid",
			"The license data failed cryptographic verification and was rejected.",
			"SIGNATURE_INVALID")

	case errors.Is(err, license.ErrCapabilityDenied):
		pd := base(http.StatusForbidden,
			"/errors/capability-denied",
			"Capability Denied",
			"The current license state does not grant this capability.",
			"CAPABILITY_DENIED")
		if errors.As(err, &capErr) {
			pd.WithExtension("capability", capErr.Capability).
				WithExtension("license_state", string(capErr.State))
		}
		return pd

	case errors.Is(err, license.ErrResourceExhausted):
		return base(http.StatusForbidden,
			"/errors/resource-exhausted",
			"License Resource Exhausted",
			"A usage limit on this license has been reached.",
			"RESOURCE_EXHAUSTED")

	case license.IsNetworkFailure(err):
		return base(http.StatusServiceUnavailable,
			"/errors/license-server-unreachable",
			"License Server Unreachable",
			"Unable to reach the license server and no usable cached state exists.",
			"NETWORK_ERROR")

	case errors.Is(err, license.ErrDataValidation):
		return base(http.StatusUnprocessableEntity,
			"/errors/license-data-invalid",
			"License Data Invalid",
			"The license server response failed validation.",
			"DATA_VALIDATION_FAILED")

	case errors.As(err, &codeErr):
		return base(http.StatusBadGateway,
			"/errors/unrecognised-result-code",
			"Unrecognised Server Response",
			"The license server returned a result code this client does not recognise.",
			"UNRECOGNISED_CODE").
			WithExtension("api_code", codeErr.Code)

	default:
		return base(http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			"INTERNAL_ERROR")
	}
}

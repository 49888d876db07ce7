package license

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for license operations. Callers match these with errors.Is;
// richer context travels in the typed errors below via Unwrap.
var (
	ErrSignatureMissing  = errors.New("license signature missing")
	ErrSignatureInvalid  = errors.New("license signature invalid")
	ErrLicenseNotFound   = errors.New("license not found")
	ErrLicenseExpired    = errors.New("license expired")
	ErrLicenseSuspended  = errors.New("license suspended")
	ErrLicenseRevoked    = errors.New("license revoked")
	ErrInvalidKey        = errors.New("invalid license key")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrBindingMismatch   = errors.New("license bound to a different machine or domain")
	ErrActivationLimit   = errors.New("activation limit reached")
	ErrNetwork           = errors.New("license server unreachable")
	ErrRateLimited       = errors.New("too many validation attempts")
	ErrDataValidation    = errors.New("license data failed validation")
	ErrResourceExhausted = errors.New("license resource exhausted")
	ErrNoLicenseFile     = errors.New("no offline license file")
	ErrCapabilityDenied  = errors.New("capability denied")
)

// VerificationError reports a cryptographic verification failure. It is never
// converted into a cache miss or swallowed: a failed verification on cached or
// offline data is a tamper signal.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature verification failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("signature verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSignatureInvalid
}

// Is lets errors.Is(err, ErrSignatureInvalid) match any verification failure.
func (e *VerificationError) Is(target error) bool {
	return target == ErrSignatureInvalid || (e.Err != nil && errors.Is(e.Err, target))
}

// StatusError reports a business-status denial (expired, suspended, revoked).
// These gate real functionality and are always surfaced, never swallowed.
type StatusError struct {
	Status    string
	ExpiredAt time.Time
	Message   string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("license %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case "expired":
		return ErrLicenseExpired
	case "suspended":
		return ErrLicenseSuspended
	case "revoked", "cancelled":
		return ErrLicenseRevoked
	default:
		return ErrDataValidation
	}
}

// DaysSinceExpiry returns how many whole days ago the license expired,
// or 0 when no expiry instant is recorded.
func (e *StatusError) DaysSinceExpiry() int {
	if e.ExpiredAt.IsZero() {
		return 0
	}
	d := time.Since(e.ExpiredAt)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// ActivationError reports an activation denial such as an exhausted seat
// limit or a context-binding mismatch.
type ActivationError struct {
	Reason             string
	MaxActivations     int
	CurrentActivations int
}

func (e *ActivationError) Error() string {
	if e.MaxActivations > 0 {
		return fmt.Sprintf("activation failed: %s (%d/%d activations)", e.Reason, e.CurrentActivations, e.MaxActivations)
	}
	return fmt.Sprintf("activation failed: %s", e.Reason)
}

func (e *ActivationError) Unwrap() error {
	if e.MaxActivations > 0 && e.CurrentActivations >= e.MaxActivations {
		return ErrActivationLimit
	}
	return ErrBindingMismatch
}

// CapabilityError reports denial of a required capability.
type CapabilityError struct {
	Capability string
	State      Status
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q denied in state %s", e.Capability, e.State)
}

func (e *CapabilityError) Unwrap() error { return ErrCapabilityDenied }

// APICodeError carries an unmapped numeric result code from the authority.
// Keeping the raw code preserves forward compatibility with server-side
// additions to the code table.
type APICodeError struct {
	Code    int
	Message string
}

func (e *APICodeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("license server returned code %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("license server returned code %d", e.Code)
}

// NetworkError wraps a transport failure so the orchestrator can recognise
// it and arbitrate the grace fallback.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return ErrNetwork }

// IsNetworkFailure reports whether err is locally recoverable via the grace
// fallback. Only transport failures qualify; signature and business-status
// errors never do.
func IsNetworkFailure(err error) bool {
	return errors.Is(err, ErrNetwork)
}

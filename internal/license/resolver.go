package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"entitled/internal/infrastructure"
)

// payloadShape tags the recognized authority response layouts. The normalizer
// is an exhaustive switch over these, not ad hoc presence probing.
type payloadShape int

const (
	shapeUnknown payloadShape = iota
	// shapeDataLicense is {code, success, data: {license: {...}}, signature?}.
	shapeDataLicense
	// shapeLicense is {license: {...}, valid?, signature?}.
	shapeLicense
	// shapeAPIEnvelope is {response: {code, message, data: {...}}}.
	shapeAPIEnvelope
	// shapeFlat is a bare license payload with no envelope.
	shapeFlat
)

// StateResolver normalizes heterogeneous authority and offline payloads into
// EntitlementState snapshots and maps numeric result codes onto the typed
// error taxonomy.
type StateResolver struct {
	verifier *SignatureVerifier
	now      func() time.Time
}

// NewStateResolver creates a resolver. The verifier may be nil, in which case
// outer signatures are not checked (offline parsing carries its own
// authenticity via public-key decryption).
func NewStateResolver(verifier *SignatureVerifier) *StateResolver {
	return &StateResolver{verifier: verifier, now: time.Now}
}

// ResolveFromValidation builds an EntitlementState from a full validation
// response, verifying the payload signature when present. The signature
// covers the canonical normalized payload, so verification happens after
// normalization and survives the cache round trip byte for byte.
func (r *StateResolver) ResolveFromValidation(ctx context.Context, raw map[string]any, licenseKey string) (*EntitlementState, error) {
	payload, shape, err := normalizePayload(raw)
	if err != nil {
		return nil, err
	}
	if err := r.verifyPayloadSignature(ctx, payload, signatureOf(raw)); err != nil {
		return nil, err
	}

	if licenseKey != "" {
		payload["license_key"] = licenseKey
	}
	bindContext(payload)
	payload["last_verified_at"] = r.now().UTC().Format(time.RFC3339)

	state := NewEntitlementStateAt(payload, signatureOf(raw), r.now())

	infrastructure.LoggerWithContext(ctx).Debug("validation payload resolved",
		slog.String("component", "state_resolver"),
		slog.Int("payload_shape", int(shape)),
		slog.String("state", string(state.State())),
	)
	return state, nil
}

// ResolveFromFeatureCheck applies the same verify-then-normalize pipeline to
// a narrower feature-check payload.
func (r *StateResolver) ResolveFromFeatureCheck(ctx context.Context, raw map[string]any, licenseKey, feature string) (*EntitlementState, error) {
	state, err := r.ResolveFromValidation(ctx, raw, licenseKey)
	if err != nil {
		return nil, err
	}
	if _, ok := state.CapabilityValue(feature); !ok {
		infrastructure.LoggerWithContext(ctx).Debug("feature absent from feature-check payload",
			slog.String("component", "state_resolver"),
			slog.String("feature", feature),
		)
	}
	return state, nil
}

// ResolveFromActivation builds a state from an activation response.
func (r *StateResolver) ResolveFromActivation(ctx context.Context, raw map[string]any, licenseKey string) (*EntitlementState, error) {
	return r.ResolveFromValidation(ctx, raw, licenseKey)
}

// ResolveFromOffline builds a state from a decrypted offline license file.
// The chunked public-key decryption already authenticated the payload, so no
// outer signature check applies.
func (r *StateResolver) ResolveFromOffline(ctx context.Context, decrypted map[string]any, licenseKey string) (*EntitlementState, error) {
	payload := deepCopyMap(decrypted)
	payload["license_key"] = licenseKey
	if _, ok := payload["valid_until"]; !ok {
		if exp, found := payload["expires_at"]; found {
			payload["valid_until"] = exp
		}
	}
	// Offline files vouch for themselves; absent contrary signals the
	// license is considered valid.
	if _, ok := payload["valid"]; !ok {
		payload["valid"] = true
	}
	bindContext(payload)
	payload["last_verified_at"] = r.now().UTC().Format(time.RFC3339)

	// The chunked decryption is the authenticity proof; no detached
	// signature is carried forward. The cache MAC protects the entry.
	return NewEntitlementStateAt(payload, "", r.now()), nil
}

// CreateRestrictedState synthesizes an INVALID snapshot for error-recovery
// paths. It never fails and carries no signature, so it is never cached.
func (r *StateResolver) CreateRestrictedState(reason string) *EntitlementState {
	payload := map[string]any{
		"synthetic": true,
		"reason":    reason,
	}
	state := NewEntitlementStateAt(payload, "", r.now())
	return state.withStatus(StatusInvalid, reason)
}

// CreateGraceState synthesizes a GRACE snapshot from the last known good
// state after a network failure. The prior state's signature is inherited,
// not re-signed: authenticity flows from the original verification.
func (r *StateResolver) CreateGraceState(last *EntitlementState) *EntitlementState {
	state := NewEntitlementStateAt(last.payload, last.signature, r.now())
	state.lastVerifiedAt = last.lastVerifiedAt
	return state.withStatus(StatusGrace, "network failure, operating on last verified state")
}

// verifyPayloadSignature checks the authority signature over the canonical
// normalized payload, minus client annotations. Verification failures always
// surface.
func (r *StateResolver) verifyPayloadSignature(ctx context.Context, payload map[string]any, signature string) error {
	if r.verifier == nil || signature == "" {
		return nil
	}
	canonical, err := CanonicalizeJSON(signedContent(payload))
	if err != nil {
		return &VerificationError{Reason: "payload cannot be canonicalized", Err: err}
	}
	valid, err := r.verifier.Verify([]byte(canonical), signature)
	if err != nil {
		return &VerificationError{Reason: "payload signature unreadable", Err: err}
	}
	if !valid {
		infrastructure.LoggerWithContext(ctx).Warn("payload signature rejected",
			slog.String("component", "state_resolver"),
		)
		return &VerificationError{Reason: "payload signature mismatch"}
	}
	return nil
}

// classifyShape decides which recognized layout a raw response uses.
func classifyShape(raw map[string]any) payloadShape {
	if resp, ok := raw["response"].(map[string]any); ok {
		if _, ok := resp["data"]; ok {
			return shapeAPIEnvelope
		}
	}
	if data, ok := raw["data"].(map[string]any); ok {
		if _, ok := data["license"].(map[string]any); ok {
			return shapeDataLicense
		}
	}
	if _, ok := raw["license"].(map[string]any); ok {
		return shapeLicense
	}
	if len(raw) > 0 {
		return shapeFlat
	}
	return shapeUnknown
}

// normalizePayload flattens any recognized response layout into the single
// payload schema the derivation consumes. License-object fields win over
// envelope fields of the same name, except the envelope-level valid flag,
// which reflects the server's overall verdict.
func normalizePayload(raw map[string]any) (map[string]any, payloadShape, error) {
	shape := classifyShape(raw)

	var envelope, licenseObj map[string]any
	switch shape {
	case shapeDataLicense:
		envelope = raw
		data := raw["data"].(map[string]any)
		licenseObj = data["license"].(map[string]any)
	case shapeLicense:
		envelope = raw
		licenseObj = raw["license"].(map[string]any)
	case shapeAPIEnvelope:
		resp := raw["response"].(map[string]any)
		envelope = resp
		switch data := resp["data"].(type) {
		case map[string]any:
			if lic, ok := data["license"].(map[string]any); ok {
				licenseObj = lic
			} else {
				licenseObj = data
			}
		default:
			return nil, shape, fmt.Errorf("%w: response envelope has no data object", ErrDataValidation)
		}
	case shapeFlat:
		envelope = map[string]any{}
		licenseObj = raw
	default:
		return nil, shape, fmt.Errorf("%w: empty response payload", ErrDataValidation)
	}

	payload := make(map[string]any)
	for k, v := range envelope {
		switch k {
		case "data", "license", "response", "signature", "code", "success", "message":
			continue
		}
		payload[k] = deepCopyValue(v)
	}
	for k, v := range licenseObj {
		if k == "signature" {
			continue
		}
		payload[k] = deepCopyValue(v)
	}
	if v, ok := envelope["valid"]; ok {
		payload["valid"] = v
	}

	return payload, shape, nil
}

// bindContext replaces raw hardware/domain identifiers with their one-way
// hash. The raw value never leaves this function.
func bindContext(payload map[string]any) {
	if _, ok := payload["context_binding"]; ok {
		delete(payload, "hardware_id")
		delete(payload, "domain")
		return
	}
	for _, key := range []string{"hardware_id", "domain"} {
		if raw, ok := payload[key].(string); ok && raw != "" {
			payload["context_binding"] = HashContext(raw)
			delete(payload, key)
			// hardware_id takes precedence when both are present.
			break
		}
	}
	delete(payload, "hardware_id")
	delete(payload, "domain")
}

func signatureOf(raw map[string]any) string {
	sig, _ := raw["signature"].(string)
	return sig
}

// Result-code ranges. Each family maps to one typed error; specific codes
// within a family refine the message.
const (
	codeAPIKeyLow         = 100
	codeAPIKeyHigh        = 199
	codeLicenseStatusLow  = 200
	codeLicenseStatusHigh = 299
	codeActivationLow     = 300
	codeActivationHigh    = 399
	codeNotFoundLow       = 400
	codeNotFoundHigh      = 499
	codeValidationLow     = 500
	codeValidationHigh    = 599
	codeExhaustionLow     = 600
	codeExhaustionHigh    = 699
)

// resultCodeMessages refines well-known codes. Lookup is a static table;
// no reflection.
var resultCodeMessages = map[int]string{
	101: "API key missing",
	102: "API key invalid",
	103: "API key revoked",
	201: "license expired",
	202: "license suspended",
	203: "license revoked",
	204: "license cancelled",
	301: "activation limit reached",
	302: "hardware mismatch",
	303: "domain mismatch",
	401: "license key not found",
	402: "product not found",
	501: "malformed license key",
	502: "malformed request payload",
	601: "rate limit exceeded",
	602: "activation quota exhausted",
}

// ErrorForResponse maps a numeric result code from an error response onto the
// typed taxonomy. Unmapped codes fall through to APICodeError so new server
// codes degrade gracefully instead of panicking or vanishing.
func (r *StateResolver) ErrorForResponse(raw map[string]any) error {
	code, ok := resultCode(raw)
	if !ok {
		return fmt.Errorf("%w: response carries no result code", ErrDataValidation)
	}
	message := resultCodeMessages[code]
	if message == "" {
		message = responseMessage(raw)
	}

	switch {
	case code >= codeAPIKeyLow && code <= codeAPIKeyHigh:
		return fmt.Errorf("%w: %s (code %d)", ErrInvalidAPIKey, message, code)
	case code >= codeLicenseStatusLow && code <= codeLicenseStatusHigh:
		return r.statusErrorForCode(code, message, raw)
	case code >= codeActivationLow && code <= codeActivationHigh:
		return r.activationErrorForCode(code, message, raw)
	case code >= codeNotFoundLow && code <= codeNotFoundHigh:
		return fmt.Errorf("%w: %s (code %d)", ErrLicenseNotFound, message, code)
	case code >= codeValidationLow && code <= codeValidationHigh:
		return fmt.Errorf("%w: %s (code %d)", ErrDataValidation, message, code)
	case code >= codeExhaustionLow && code <= codeExhaustionHigh:
		return fmt.Errorf("%w: %s (code %d)", ErrResourceExhausted, message, code)
	default:
		return &APICodeError{Code: code, Message: message}
	}
}

func (r *StateResolver) statusErrorForCode(code int, message string, raw map[string]any) error {
	status := map[int]string{201: "expired", 202: "suspended", 203: "revoked", 204: "cancelled"}[code]
	if status == "" {
		status = "blocked"
	}
	serr := &StatusError{Status: status, Message: message}
	if data, ok := raw["data"].(map[string]any); ok {
		if t, ok := timeField(data, "expires_at"); ok {
			serr.ExpiredAt = t
		}
	}
	return serr
}

func (r *StateResolver) activationErrorForCode(code int, message string, raw map[string]any) error {
	aerr := &ActivationError{Reason: message}
	if data, ok := raw["data"].(map[string]any); ok {
		if n, ok := intField(data, "max_activations"); ok {
			aerr.MaxActivations = int(n)
		}
		if n, ok := intField(data, "current_activations"); ok {
			aerr.CurrentActivations = int(n)
		}
	}
	if code == 302 || code == 303 {
		aerr.MaxActivations = 0
	}
	return aerr
}

// resultCode extracts the numeric code from either envelope layout.
func resultCode(raw map[string]any) (int, bool) {
	if n, ok := intField(raw, "code"); ok {
		return int(n), true
	}
	if resp, ok := raw["response"].(map[string]any); ok {
		if n, ok := intField(resp, "code"); ok {
			return int(n), true
		}
	}
	return 0, false
}

func responseMessage(raw map[string]any) string {
	if msg := stringField(raw, "message"); msg != "" {
		return msg
	}
	if resp, ok := raw["response"].(map[string]any); ok {
		return stringField(resp, "message")
	}
	return ""
}

// IsErrorResponse reports whether a raw response is an error envelope rather
// than license data.
func IsErrorResponse(raw map[string]any) bool {
	if success, ok := boolField(raw, "success"); ok && !success {
		return true
	}
	if code, ok := resultCode(raw); ok && code >= codeAPIKeyLow {
		// Success responses use code 0 or small status codes; anything in the
		// error ranges marks a denial even when success is absent.
		if _, hasData := raw["data"]; !hasData {
			return true
		}
		if code >= codeLicenseStatusLow {
			if data, _ := raw["data"].(map[string]any); data == nil || data["license"] == nil {
				return true
			}
		}
	}
	return false
}

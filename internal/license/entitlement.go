package license

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Status is the resolved entitlement state of a license.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusGrace      Status = "GRACE"
	StatusRestricted Status = "RESTRICTED"
	StatusInvalid    Status = "INVALID"
)

const (
	// ExpiryGracePeriod is how long after valid_until a license keeps
	// operating in GRACE before dropping to RESTRICTED.
	ExpiryGracePeriod = 7 * 24 * time.Hour
	// RevalidationGracePeriod bounds GRACE after a failed revalidation,
	// measured from the last successful verification.
	RevalidationGracePeriod = 72 * time.Hour
)

// Standard capability names derived from license data.
const (
	CapUpdates            = "updates"
	CapTelemetry          = "telemetry"
	CapDownloads          = "downloads"
	CapMaxActivations     = "max_activations"
	CapCurrentActivations = "current_activations"
)

// EntitlementState is an immutable snapshot of what a license entitles its
// holder to do. The state is a pure function of (payload, derivation instant);
// no transition log is kept. The normalized payload is retained verbatim
// because the authority's signature covers its canonical form.
type EntitlementState struct {
	payload        map[string]any
	signature      string
	status         Status
	capabilities   map[string]any
	validFrom      *time.Time
	validUntil     *time.Time
	contextBinding string
	metadata       map[string]any
	issuedAt       time.Time
	lastVerifiedAt time.Time
	derivedAt      time.Time
}

// NewEntitlementState derives a snapshot from a normalized payload at the
// current instant.
func NewEntitlementState(payload map[string]any, signature string) *EntitlementState {
	return NewEntitlementStateAt(payload, signature, time.Now())
}

// NewEntitlementStateAt derives a snapshot at an explicit instant.
func NewEntitlementStateAt(payload map[string]any, signature string, now time.Time) *EntitlementState {
	p := deepCopyMap(payload)

	s := &EntitlementState{
		payload:      p,
		signature:    signature,
		status:       deriveStatus(p, now),
		capabilities: extractCapabilities(p),
		derivedAt:    now,
	}

	if t, ok := timeField(p, "valid_from"); ok {
		s.validFrom = &t
	}
	if t, ok := timeField(p, "valid_until"); ok {
		s.validUntil = &t
	}
	if b, ok := p["context_binding"].(string); ok {
		s.contextBinding = b
	}
	if m, ok := p["metadata"].(map[string]any); ok {
		s.metadata = m
	}
	if t, ok := timeField(p, "issued_at"); ok {
		s.issuedAt = t
	} else {
		s.issuedAt = now
	}
	if t, ok := timeField(p, "last_verified_at"); ok {
		s.lastVerifiedAt = t
	} else {
		s.lastVerifiedAt = now
	}

	return s
}

// deriveStatus implements the ordered state derivation. First match wins.
func deriveStatus(p map[string]any, now time.Time) Status {
	switch strings.ToLower(stringField(p, "status")) {
	case "revoked", "suspended", "cancelled":
		return StatusInvalid
	}

	if from, ok := timeField(p, "valid_from"); ok && now.Before(from) {
		return StatusRestricted
	}

	if until, ok := timeField(p, "valid_until"); ok && now.After(until) {
		if now.Sub(until) < ExpiryGracePeriod {
			return StatusGrace
		}
		return StatusRestricted
	}

	if valid, ok := boolField(p, "valid"); ok && valid {
		return StatusActive
	}

	if failed, ok := boolField(p, "revalidation_failed"); ok && failed {
		if last, ok := timeField(p, "last_verified_at"); ok && now.Sub(last) < RevalidationGracePeriod {
			return StatusGrace
		}
	}

	// Fail-open default, matching authority behavior for payloads that carry
	// no explicit signal. Kept as the single final arm of the derivation.
	return StatusActive
}

// extractCapabilities merges feature maps and derives the standard grants.
func extractCapabilities(p map[string]any) map[string]any {
	caps := make(map[string]any)

	mergeFeatures(caps, p["features"])
	if lic, ok := p["license"].(map[string]any); ok {
		mergeFeatures(caps, lic["features"])
	}

	status := strings.ToLower(stringField(p, "status"))
	valid, validKnown := boolField(p, "valid")

	if _, ok := caps[CapUpdates]; !ok {
		caps[CapUpdates] = true
	}
	if (validKnown && !valid) || status == "revoked" || status == "suspended" {
		caps[CapUpdates] = false
	}

	if _, ok := caps[CapTelemetry]; !ok {
		caps[CapTelemetry] = true
	}

	if _, ok := caps[CapDownloads]; !ok {
		switch status {
		case "active", "assigned", "available":
			caps[CapDownloads] = true
		default:
			caps[CapDownloads] = validKnown && valid
		}
	}

	for _, key := range []string{CapMaxActivations, CapCurrentActivations} {
		if _, ok := caps[key]; ok {
			continue
		}
		if n, ok := intField(p, key); ok {
			caps[key] = n
		}
	}

	return caps
}

func mergeFeatures(caps map[string]any, features any) {
	switch f := features.(type) {
	case map[string]any:
		for k, v := range f {
			caps[k] = normalizeCapabilityValue(v)
		}
	case []any:
		// A bare list of feature names grants each as a boolean.
		for _, item := range f {
			if name, ok := item.(string); ok {
				caps[name] = true
			}
		}
	}
}

func normalizeCapabilityValue(v any) any {
	if n, ok := toInt64(v); ok {
		return n
	}
	return v
}

// State returns the derived entitlement status.
func (s *EntitlementState) State() Status { return s.status }

// IsActive reports an unrestricted ACTIVE state.
func (s *EntitlementState) IsActive() bool { return s.status == StatusActive }

// IsInGrace reports operation under a bounded grace window.
func (s *EntitlementState) IsInGrace() bool { return s.status == StatusGrace }

// AllowsOperation reports whether gated functionality may run: ACTIVE or GRACE.
func (s *EntitlementState) AllowsOperation() bool {
	return s.status == StatusActive || s.status == StatusGrace
}

// IsExpired reports whether the validity window had closed at the instant
// the state was derived, independent of any grace allowance. Using the
// derivation instant keeps the answer consistent with Status.
func (s *EntitlementState) IsExpired() bool {
	return s.validUntil != nil && s.derivedAt.After(*s.validUntil)
}

// HasCapability reports whether a named grant is present and enabled.
// Numeric grants count as enabled when positive.
func (s *EntitlementState) HasCapability(name string) bool {
	v, ok := s.capabilities[name]
	if !ok {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val > 0
	case float64:
		return val > 0
	case json.Number:
		n, err := val.Int64()
		return err == nil && n > 0
	default:
		return v != nil
	}
}

// CapabilityValue returns the raw grant value for a capability.
func (s *EntitlementState) CapabilityValue(name string) (any, bool) {
	v, ok := s.capabilities[name]
	return v, ok
}

// Capabilities returns a copy of all grants.
func (s *EntitlementState) Capabilities() map[string]any {
	out := make(map[string]any, len(s.capabilities))
	for k, v := range s.capabilities {
		out[k] = v
	}
	return out
}

// ValidFrom returns the start of the validity window, if any.
func (s *EntitlementState) ValidFrom() (time.Time, bool) {
	if s.validFrom == nil {
		return time.Time{}, false
	}
	return *s.validFrom, true
}

// ValidUntil returns the end of the validity window, if any.
func (s *EntitlementState) ValidUntil() (time.Time, bool) {
	if s.validUntil == nil {
		return time.Time{}, false
	}
	return *s.validUntil, true
}

// ContextBinding returns the one-way hash of the bound identifier, or "".
func (s *EntitlementState) ContextBinding() string { return s.contextBinding }

// Signature returns the opaque authority signature over the payload.
func (s *EntitlementState) Signature() string { return s.signature }

// IssuedAt returns when the underlying payload was issued.
func (s *EntitlementState) IssuedAt() time.Time { return s.issuedAt }

// LastVerifiedAt returns the last successful verification instant.
func (s *EntitlementState) LastVerifiedAt() time.Time { return s.lastVerifiedAt }

// Metadata returns a copy of the payload metadata map.
func (s *EntitlementState) Metadata() map[string]any {
	return deepCopyMap(s.metadata)
}

// NeedsRevalidation reports whether the snapshot is older than the given
// revalidation interval.
func (s *EntitlementState) NeedsRevalidation(interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	return time.Since(s.lastVerifiedAt) > interval
}

// VerifyContextBinding hashes the raw identifier and compares it to the
// stored binding. The raw value is never stored or compared directly.
// A state without a binding accepts any context.
func (s *EntitlementState) VerifyContextBinding(rawContext string) bool {
	if s.contextBinding == "" {
		return true
	}
	return HashContext(rawContext) == s.contextBinding
}

// HashContext produces the one-way context binding for an identifier.
func HashContext(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ToMap serializes the state for caching: the normalized payload plus the
// signature. FromCache accepts exactly this shape.
func (s *EntitlementState) ToMap() map[string]any {
	out := deepCopyMap(s.payload)
	if s.signature != "" {
		out["signature"] = s.signature
	}
	return out
}

// clientAnnotations are the fields this client attaches to a payload after
// verification. The authority's signature covers the canonical payload
// without them, so both resolve-time and cache-read verification exclude
// exactly this set.
var clientAnnotations = map[string]bool{
	"signature":        true,
	"license_key":      true,
	"last_verified_at": true,
	"context_binding":  true,
	"hardware_id":      true,
	"domain":           true,
}

// signedContent returns the subset of a payload the authority signature
// covers.
func signedContent(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if clientAnnotations[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// FromCache reconstructs a state from its serialized form, re-verifying the
// signature when a verifier is configured. A missing or invalid signature is
// a VerificationError, never a silent miss.
func FromCache(data map[string]any, verifier *SignatureVerifier) (*EntitlementState, error) {
	signature, _ := data["signature"].(string)

	if verifier != nil {
		if signature == "" {
			return nil, &VerificationError{Reason: "cached state has no signature", Err: ErrSignatureMissing}
		}
		canonical, err := CanonicalizeJSON(signedContent(data))
		if err != nil {
			return nil, &VerificationError{Reason: "cached state cannot be canonicalized", Err: err}
		}
		valid, err := verifier.Verify([]byte(canonical), signature)
		if err != nil {
			return nil, &VerificationError{Reason: "cached state signature unreadable", Err: err}
		}
		if !valid {
			return nil, &VerificationError{Reason: "cached state signature mismatch"}
		}
	}

	payload := make(map[string]any, len(data))
	for k, v := range data {
		if k == "signature" {
			continue
		}
		payload[k] = v
	}
	return NewEntitlementState(payload, signature), nil
}

// withStatus returns a copy with an overridden derived status and an extra
// metadata note. The serialized payload is left untouched so an inherited
// signature keeps verifying; the override is a per-call derivation result,
// not persisted state.
func (s *EntitlementState) withStatus(status Status, note string) *EntitlementState {
	clone := *s
	clone.status = status
	meta := deepCopyMap(s.metadata)
	if note != "" {
		meta["state_note"] = note
	}
	clone.metadata = meta
	return &clone
}

// --- payload field helpers ---

func stringField(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func boolField(p map[string]any, key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

func intField(p map[string]any, key string) (int64, bool) {
	return toInt64(p[key])
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// timeField parses a timestamp field: RFC 3339, date-only, or unix seconds.
func timeField(p map[string]any, key string) (time.Time, bool) {
	switch v := p[key].(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0).UTC(), true
		}
	case int64:
		if v > 0 {
			return time.Unix(v, 0).UTC(), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

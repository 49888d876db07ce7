package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizeLicenseKey strips separators and whitespace and upcases a
// user-entered license key so equivalent inputs resolve to one cache key.
func NormalizeLicenseKey(licenseKey string) string {
	cleaned := strings.NewReplacer("-", "", " ", "", "\t", "").Replace(licenseKey)
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

// ValidateLicenseKeyFormat checks a normalized key for basic shape before
// any network or file work happens.
func ValidateLicenseKeyFormat(licenseKey string) error {
	key := NormalizeLicenseKey(licenseKey)
	if len(key) < 8 {
		return fmt.Errorf("%w: key must be at least 8 characters", ErrInvalidKey)
	}
	if len(key) > 64 {
		return fmt.Errorf("%w: key must be at most 64 characters", ErrInvalidKey)
	}
	for _, char := range key {
		if !((char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("%w: key must contain only letters, numbers and underscores", ErrInvalidKey)
		}
	}
	return nil
}

// FormatLicenseKeyWithDashes groups a normalized key into blocks of four
// for display.
func FormatLicenseKeyWithDashes(licenseKey string) string {
	key := NormalizeLicenseKey(licenseKey)
	if len(key) <= 4 {
		return key
	}
	var b strings.Builder
	for i, char := range key {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// MaskLicenseKey returns a log-safe rendering of a license key: the first
// four characters survive, the rest is masked.
func MaskLicenseKey(key string) string {
	if len(key) < 8 {
		return "****"
	}
	if strings.Contains(key, "-") {
		parts := strings.Split(key, "-")
		masked := parts[0]
		for range parts[1:] {
			masked += "-****"
		}
		return masked
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

// HashLicenseKey produces a stable non-reversible identifier for audit
// correlation; the first 16 hex characters are plenty for log grouping.
func HashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(NormalizeLicenseKey(key)))
	return hex.EncodeToString(sum[:])[:16]
}

package license

import (
	"bytes"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Offline license files are a base64-encoded concatenation of RSA-block-sized
// ciphertext chunks. The authority "signs" each chunk by encrypting it with
// its private key; the client "verifies" by decrypting with the public key.
// Any chunk that fails to decrypt aborts the whole parse: a partially
// readable file is treated as tampered, never as partially valid.

// ParseLicenseFile decodes and decrypts an offline license file, returning
// the embedded JSON document.
func ParseLicenseFile(base64Content string, publicKeyPEM []byte) (map[string]any, error) {
	pub, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return parseLicenseContent(base64Content, pub)
}

func parseLicenseContent(base64Content string, pub *rsa.PublicKey) (map[string]any, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Content))
	if err != nil {
		return nil, fmt.Errorf("license file is not valid base64: %w", err)
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: license file is empty", ErrDataValidation)
	}

	// Block size follows the key, not a fixed constant, so 2048- and
	// 4096-bit deployments both parse.
	blockSize := pub.Size()
	if len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of the %d-byte block size",
			ErrDataValidation, len(ciphertext), blockSize)
	}

	var plaintext bytes.Buffer
	for offset := 0; offset < len(ciphertext); offset += blockSize {
		chunk := ciphertext[offset : offset+blockSize]
		decrypted, err := publicDecrypt(pub, chunk)
		if err != nil {
			return nil, &VerificationError{
				Reason: fmt.Sprintf("offline license chunk %d failed to decrypt", offset/blockSize),
				Err:    err,
			}
		}
		plaintext.Write(decrypted)
	}

	decoder := json.NewDecoder(bytes.NewReader(plaintext.Bytes()))
	decoder.UseNumber()
	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, &VerificationError{Reason: "decrypted license is not valid JSON", Err: err}
	}
	return doc, nil
}

// publicDecrypt reverses a private-key encryption: m = c^e mod n, then strips
// PKCS#1 v1.5 block type 1 padding (0x00 0x01 0xFF... 0x00 | data).
func publicDecrypt(pub *rsa.PublicKey, chunk []byte) ([]byte, error) {
	c := new(big.Int).SetBytes(chunk)
	if c.Cmp(pub.N) >= 0 {
		return nil, errors.New("ciphertext block out of range for key modulus")
	}

	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)

	em := m.FillBytes(make([]byte, pub.Size()))
	return stripSignaturePadding(em)
}

// stripSignaturePadding validates and removes PKCS#1 v1.5 type 1 padding.
func stripSignaturePadding(em []byte) ([]byte, error) {
	if len(em) < 11 {
		return nil, errors.New("decrypted block too short for PKCS#1 v1.5 padding")
	}
	if subtle.ConstantTimeByteEq(em[0], 0x00) != 1 || subtle.ConstantTimeByteEq(em[1], 0x01) != 1 {
		return nil, errors.New("invalid PKCS#1 v1.5 block header")
	}

	// Padding is 0xFF bytes terminated by a single 0x00.
	idx := -1
	for i := 2; i < len(em); i++ {
		if em[i] == 0x00 {
			idx = i
			break
		}
		if em[i] != 0xFF {
			return nil, errors.New("invalid PKCS#1 v1.5 padding byte")
		}
	}
	if idx < 0 {
		return nil, errors.New("unterminated PKCS#1 v1.5 padding")
	}
	if idx < 10 {
		return nil, errors.New("PKCS#1 v1.5 padding too short")
	}
	return em[idx+1:], nil
}

// VerifyOfflineBinding checks the decrypted document against the requested
// key and the local context identifier. A mismatch is a hard failure: a file
// bound to another machine or key is a tamper signal, not a cache miss.
func VerifyOfflineBinding(doc map[string]any, licenseKey, identifier string) error {
	embedded := stringField(doc, "license_key")
	if embedded == "" {
		return fmt.Errorf("%w: offline license carries no license_key", ErrDataValidation)
	}
	if embedded != licenseKey {
		return &ActivationError{Reason: "offline license was issued for a different key"}
	}

	if identifier == "" {
		return nil
	}
	for _, key := range []string{"hardware_id", "domain"} {
		if bound := stringField(doc, key); bound != "" {
			if bound != identifier && bound != HashContext(identifier) {
				return &ActivationError{Reason: fmt.Sprintf("offline license is bound to a different %s", key)}
			}
			return nil
		}
	}
	return nil
}

// VerifyOfflineExpiry enforces the expiry embedded in the offline document.
// The offline path allows a configurable leeway (24h by default) to absorb
// clock skew between issuance and the client; the online path stays strict.
func VerifyOfflineExpiry(doc map[string]any, leeway time.Duration, now time.Time) error {
	expires, ok := timeField(doc, "expires_at")
	if !ok {
		expires, ok = timeField(doc, "valid_until")
	}
	if !ok {
		return nil
	}
	if now.After(expires.Add(leeway)) {
		return &StatusError{
			Status:    "expired",
			ExpiredAt: expires,
			Message:   fmt.Sprintf("offline license expired at %s", expires.Format(time.RFC3339)),
		}
	}
	return nil
}

// OfflineCheckPolicy extracts the embedded revalidation policy, if any.
// lastCheckedDate is a Y-M-D date; the interval fields are whole days.
type OfflineCheckPolicy struct {
	LastChecked     time.Time
	CheckInterval   time.Duration
	ForceValidation bool
}

// ParseOfflineCheckPolicy reads the optional revalidation fields from a
// decrypted offline document.
func ParseOfflineCheckPolicy(doc map[string]any) OfflineCheckPolicy {
	policy := OfflineCheckPolicy{}
	if raw := stringField(doc, "lastCheckedDate"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			policy.LastChecked = t
		}
	}
	if days, ok := intField(doc, "licenseCheckInterval"); ok && days > 0 {
		policy.CheckInterval = time.Duration(days) * 24 * time.Hour
	}
	if days, ok := intField(doc, "forceLicenseValidation"); ok && days > 0 {
		policy.ForceValidation = true
		if policy.CheckInterval == 0 {
			policy.CheckInterval = time.Duration(days) * 24 * time.Hour
		}
	}
	return policy
}

// DueForNetworkCheck reports whether the policy requires a network
// revalidation at the given instant.
func (p OfflineCheckPolicy) DueForNetworkCheck(now time.Time) bool {
	if p.CheckInterval == 0 || p.LastChecked.IsZero() {
		return p.ForceValidation && p.LastChecked.IsZero()
	}
	return now.Sub(p.LastChecked) > p.CheckInterval
}

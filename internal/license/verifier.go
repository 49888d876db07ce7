package license

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"

	"entitled/internal/infrastructure"
)

const (
	// MinKeyBits is the smallest RSA modulus accepted for verification.
	MinKeyBits = 2048
	// RecommendedKeyBits triggers a warning when the key is below it.
	RecommendedKeyBits = 4096
)

// SignatureVerifier verifies RSA-SHA256 signatures over canonical JSON.
// Signatures are computed by the authority over the exact canonical form
// produced by CanonicalizeJSON, so both sides must agree on it byte for byte.
type SignatureVerifier struct {
	publicKey *rsa.PublicKey
}

// NewSignatureVerifier parses a PEM-encoded RSA public key (PKIX or PKCS#1).
// Non-RSA keys and keys under 2048 bits are rejected.
func NewSignatureVerifier(pemPublicKey []byte) (*SignatureVerifier, error) {
	pub, err := parseRSAPublicKey(pemPublicKey)
	if err != nil {
		return nil, err
	}

	bits := pub.N.BitLen()
	if bits < MinKeyBits {
		return nil, fmt.Errorf("public key is %d bits, minimum is %d", bits, MinKeyBits)
	}
	if bits < RecommendedKeyBits {
		infrastructure.GetLogger().Warn("license public key below recommended strength",
			slog.String("component", "signature_verifier"),
			slog.Int("key_bits", bits),
			slog.Int("recommended_bits", RecommendedKeyBits),
		)
	}

	return &SignatureVerifier{publicKey: pub}, nil
}

// parseRSAPublicKey accepts PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY")
// PEM blocks.
func parseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found in public key material")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, only RSA keys are supported", parsed)
	}
	return pub, nil
}

// KeyBits returns the modulus size of the configured key.
func (v *SignatureVerifier) KeyBits() int {
	return v.publicKey.N.BitLen()
}

// PublicKey exposes the parsed key for the offline parser, which shares the
// same trust anchor.
func (v *SignatureVerifier) PublicKey() *rsa.PublicKey {
	return v.publicKey
}

// Verify checks an RSA-SHA256 PKCS#1 v1.5 signature. Malformed base64 is an
// error; a well-formed but cryptographically invalid signature returns
// (false, nil) so callers can distinguish tampering from bad input.
func (v *SignatureVerifier) Verify(data []byte, base64Signature string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(base64Signature)
	if err != nil {
		return false, fmt.Errorf("malformed base64 signature: %w", err)
	}

	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		if errors.Is(err, rsa.ErrVerification) {
			return false, nil
		}
		return false, fmt.Errorf("signature verification error: %w", err)
	}
	return true, nil
}

// VerifyJSONResponse extracts the signature field from a payload,
// canonicalizes the remainder, and verifies. A missing signature is
// ErrSignatureMissing; an invalid one returns (false, nil).
func (v *SignatureVerifier) VerifyJSONResponse(ctx context.Context, payload map[string]any) (bool, error) {
	raw, ok := payload["signature"]
	if !ok {
		return false, ErrSignatureMissing
	}
	sig, ok := raw.(string)
	if !ok || sig == "" {
		return false, ErrSignatureMissing
	}

	unsigned := make(map[string]any, len(payload))
	for k, val := range payload {
		if k == "signature" {
			continue
		}
		unsigned[k] = val
	}

	canonical, err := CanonicalizeJSON(unsigned)
	if err != nil {
		return false, fmt.Errorf("canonicalization failed: %w", err)
	}

	valid, err := v.Verify([]byte(canonical), sig)
	if err != nil {
		return false, err
	}
	if !valid {
		infrastructure.LoggerWithContext(ctx).Warn("payload signature rejected",
			slog.String("component", "signature_verifier"),
			slog.Int("payload_fields", len(unsigned)),
		)
	}
	return valid, nil
}

// CanonicalizeJSON renders a value as deterministic JSON: object keys sorted
// recursively, no HTML or slash escaping, compact output. Signatures are
// computed over this exact form.
func CanonicalizeJSON(value any) (string, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeCanonicalString(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case int:
		buf.WriteString(strconv.Itoa(v))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case float64:
		// Whole floats print without an exponent or trailing fraction so the
		// form matches what the authority serializes for integer values.
		if v == float64(int64(v)) {
			buf.WriteString(strconv.FormatInt(int64(v), 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	case *big.Int:
		buf.WriteString(v.String())
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("cannot canonicalize value of type %T", value)
	}
	return nil
}

// writeCanonicalString emits a JSON string without HTML escaping, so "/" and
// unicode pass through unescaped.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

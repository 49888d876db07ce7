package license

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLicenseFile(t *testing.T) {
	priv, pemPub := testKeyPair(t)

	doc := map[string]any{
		"license_key": "TESTKEY12345",
		"product":     "entitled",
		"expires_at":  "2030-01-01",
		"features":    map[string]any{"reporting": true},
		// Long filler forces the document across multiple RSA blocks.
		"notes": strings.Repeat("entitlement ", 60),
	}
	content := makeLicenseFile(t, priv, doc)

	t.Run("round trip", func(t *testing.T) {
		parsed, err := ParseLicenseFile(content, pemPub)
		require.NoError(t, err)
		assert.Equal(t, "TESTKEY12345", parsed["license_key"])
		assert.Equal(t, "entitled", parsed["product"])
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := ParseLicenseFile("!!definitely not base64!!", pemPub)
		assert.Error(t, err)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := ParseLicenseFile("", pemPub)
		assert.ErrorIs(t, err, ErrDataValidation)
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(content)
		require.NoError(t, err)
		truncated := base64.StdEncoding.EncodeToString(raw[:len(raw)-17])
		_, err = ParseLicenseFile(truncated, pemPub)
		assert.ErrorIs(t, err, ErrDataValidation)
	})

	t.Run("tampered chunk fails verification", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(content)
		require.NoError(t, err)
		raw[10] ^= 0xFF
		tampered := base64.StdEncoding.EncodeToString(raw)
		_, err = ParseLicenseFile(tampered, pemPub)
		require.Error(t, err)
		var verr *VerificationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("tampering any chunk aborts the whole parse", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(content)
		require.NoError(t, err)
		require.Greater(t, len(raw), priv.Size(), "document spans multiple chunks")
		// Flip a byte in the last chunk.
		raw[len(raw)-5] ^= 0x01
		tampered := base64.StdEncoding.EncodeToString(raw)
		_, err = ParseLicenseFile(tampered, pemPub)
		var verr *VerificationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestVerifyOfflineBinding(t *testing.T) {
	machine := "machine-fingerprint"

	tests := []struct {
		name    string
		doc     map[string]any
		key     string
		context string
		wantErr bool
	}{
		{
			name:    "matching key, no binding",
			doc:     map[string]any{"license_key": "KEY1TEST5678"},
			key:     "KEY1TEST5678",
			context: machine,
		},
		{
			name:    "wrong key",
			doc:     map[string]any{"license_key": "OTHERKEY1234"},
			key:     "KEY1TEST5678",
			context: machine,
			wantErr: true,
		},
		{
			name:    "no embedded key",
			doc:     map[string]any{},
			key:     "KEY1TEST5678",
			wantErr: true,
		},
		{
			name:    "matching raw hardware binding",
			doc:     map[string]any{"license_key": "KEY1TEST5678", "hardware_id": machine},
			key:     "KEY1TEST5678",
			context: machine,
		},
		{
			name:    "matching hashed hardware binding",
			doc:     map[string]any{"license_key": "KEY1TEST5678", "hardware_id": HashContext(machine)},
			key:     "KEY1TEST5678",
			context: machine,
		},
		{
			name:    "mismatched hardware binding",
			doc:     map[string]any{"license_key": "KEY1TEST5678", "hardware_id": "other-machine"},
			key:     "KEY1TEST5678",
			context: machine,
			wantErr: true,
		},
		{
			name:    "domain binding mismatch",
			doc:     map[string]any{"license_key": "KEY1TEST5678", "domain": "app.example.com"},
			key:     "KEY1TEST5678",
			context: "other.example.com",
			wantErr: true,
		},
		{
			name:    "empty local context skips binding check",
			doc:     map[string]any{"license_key": "KEY1TEST5678", "hardware_id": "whatever"},
			key:     "KEY1TEST5678",
			context: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyOfflineBinding(tt.doc, tt.key, tt.context)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyOfflineExpiry(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	leeway := 24 * time.Hour

	t.Run("future expiry passes", func(t *testing.T) {
		doc := map[string]any{"expires_at": now.Add(time.Hour).Format(time.RFC3339)}
		assert.NoError(t, VerifyOfflineExpiry(doc, leeway, now))
	})

	t.Run("expired within leeway passes", func(t *testing.T) {
		doc := map[string]any{"expires_at": now.Add(-12 * time.Hour).Format(time.RFC3339)}
		assert.NoError(t, VerifyOfflineExpiry(doc, leeway, now))
	})

	t.Run("expired beyond leeway fails", func(t *testing.T) {
		doc := map[string]any{"expires_at": now.Add(-48 * time.Hour).Format(time.RFC3339)}
		err := VerifyOfflineExpiry(doc, leeway, now)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLicenseExpired)
		var serr *StatusError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "expired", serr.Status)
	})

	t.Run("valid_until is honored too", func(t *testing.T) {
		doc := map[string]any{"valid_until": now.Add(-48 * time.Hour).Format(time.RFC3339)}
		assert.ErrorIs(t, VerifyOfflineExpiry(doc, leeway, now), ErrLicenseExpired)
	})

	t.Run("no expiry passes", func(t *testing.T) {
		assert.NoError(t, VerifyOfflineExpiry(map[string]any{}, leeway, now))
	})
}

func TestOfflineCheckPolicy(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("no policy never forces a check", func(t *testing.T) {
		policy := ParseOfflineCheckPolicy(map[string]any{})
		assert.False(t, policy.DueForNetworkCheck(now))
	})

	t.Run("interval not yet elapsed", func(t *testing.T) {
		policy := ParseOfflineCheckPolicy(map[string]any{
			"lastCheckedDate":      "2026-06-08",
			"licenseCheckInterval": float64(7),
		})
		assert.False(t, policy.DueForNetworkCheck(now))
	})

	t.Run("interval elapsed", func(t *testing.T) {
		policy := ParseOfflineCheckPolicy(map[string]any{
			"lastCheckedDate":      "2026-05-01",
			"licenseCheckInterval": float64(7),
		})
		assert.True(t, policy.DueForNetworkCheck(now))
	})

	t.Run("forced validation with no recorded check", func(t *testing.T) {
		policy := ParseOfflineCheckPolicy(map[string]any{
			"forceLicenseValidation": float64(1),
		})
		assert.True(t, policy.DueForNetworkCheck(now))
	})
}

func TestStripSignaturePadding(t *testing.T) {
	t.Run("valid padding", func(t *testing.T) {
		em := append([]byte{0x00, 0x01}, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		em = append(em, 0x00, 'h', 'i')
		out, err := stripSignaturePadding(em)
		require.NoError(t, err)
		assert.Equal(t, []byte("hi"), out)
	})

	t.Run("wrong header", func(t *testing.T) {
		em := append([]byte{0x00, 0x02}, make([]byte, 20)...)
		_, err := stripSignaturePadding(em)
		assert.Error(t, err)
	})

	t.Run("short padding", func(t *testing.T) {
		em := []byte{0x00, 0x01, 0xFF, 0xFF, 0x00, 'x', 'y', 'z', 'a', 'b', 'c', 'd'}
		_, err := stripSignaturePadding(em)
		assert.Error(t, err)
	})

	t.Run("unterminated", func(t *testing.T) {
		em := append([]byte{0x00, 0x01}, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}...)
		_, err := stripSignaturePadding(em)
		assert.Error(t, err)
	})
}

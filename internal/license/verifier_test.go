package license

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) (*SignatureVerifier, *rsa.PrivateKey) {
	t.Helper()
	priv, pemPub := testKeyPair(t)
	v, err := NewSignatureVerifier(pemPub)
	require.NoError(t, err)
	return v, priv
}

func TestNewSignatureVerifier(t *testing.T) {
	t.Run("accepts PKIX PEM", func(t *testing.T) {
		_, pemPub := testKeyPair(t)
		v, err := NewSignatureVerifier(pemPub)
		require.NoError(t, err)
		assert.Equal(t, 2048, v.KeyBits())
	})

	t.Run("accepts PKCS1 PEM", func(t *testing.T) {
		priv, _ := testKeyPair(t)
		der := x509.MarshalPKCS1PublicKey(&priv.PublicKey)
		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der})
		_, err := NewSignatureVerifier(pemBytes)
		assert.NoError(t, err)
	})

	t.Run("rejects non-PEM input", func(t *testing.T) {
		_, err := NewSignatureVerifier([]byte("not a key"))
		assert.Error(t, err)
	})

	t.Run("rejects keys under 2048 bits", func(t *testing.T) {
		weak, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)
		der, err := x509.MarshalPKIXPublicKey(&weak.PublicKey)
		require.NoError(t, err)
		pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

		_, err = NewSignatureVerifier(pemBytes)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "minimum")
	})
}

func TestVerify(t *testing.T) {
	v, priv := newTestVerifier(t)
	data := []byte(`{"license":"data"}`)
	sig := signBytes(t, priv, data)

	t.Run("valid signature", func(t *testing.T) {
		ok, err := v.Verify(data, sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered data fails without error", func(t *testing.T) {
		ok, err := v.Verify([]byte(`{"license":"tampered"}`), sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed base64 is an error", func(t *testing.T) {
		ok, err := v.Verify(data, "!!not base64!!")
		require.Error(t, err)
		assert.False(t, ok)
	})
}

func TestVerifyJSONResponse(t *testing.T) {
	v, priv := newTestVerifier(t)

	payload := map[string]any{
		"license_id": "lic-1",
		"valid":      true,
		"features":   map[string]any{"updates": true},
	}
	canonical, err := CanonicalizeJSON(payload)
	require.NoError(t, err)
	payload["signature"] = signBytes(t, priv, []byte(canonical))

	t.Run("valid", func(t *testing.T) {
		ok, err := v.VerifyJSONResponse(context.Background(), payload)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered field", func(t *testing.T) {
		tampered := map[string]any{}
		for k, val := range payload {
			tampered[k] = val
		}
		tampered["valid"] = false
		ok, err := v.VerifyJSONResponse(context.Background(), tampered)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := v.VerifyJSONResponse(context.Background(), map[string]any{"valid": true})
		assert.ErrorIs(t, err, ErrSignatureMissing)
	})
}

func TestCanonicalizeJSON(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{
			name:  "keys sorted recursively",
			value: map[string]any{"b": 1, "a": map[string]any{"z": true, "y": false}},
			want:  `{"a":{"y":false,"z":true},"b":1}`,
		},
		{
			name:  "no html escaping",
			value: map[string]any{"url": "https://a.example/<b>?x=1&y=2"},
			want:  `{"url":"https://a.example/<b>?x=1&y=2"}`,
		},
		{
			name:  "whole floats render as integers",
			value: map[string]any{"count": float64(42)},
			want:  `{"count":42}`,
		},
		{
			name:  "fractional floats keep precision",
			value: map[string]any{"ratio": 0.5},
			want:  `{"ratio":0.5}`,
		},
		{
			name:  "arrays preserve order",
			value: []any{"b", "a", 3},
			want:  `["b","a",3]`,
		},
		{
			name:  "null and booleans",
			value: map[string]any{"n": nil, "t": true},
			want:  `{"n":null,"t":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizeJSON(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("map iteration order does not matter", func(t *testing.T) {
		a, err := CanonicalizeJSON(map[string]any{"x": 1, "y": 2, "z": 3})
		require.NoError(t, err)
		b, err := CanonicalizeJSON(map[string]any{"z": 3, "y": 2, "x": 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("unsupported type errors", func(t *testing.T) {
		_, err := CanonicalizeJSON(map[string]any{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Shared test key. Generating RSA keys is the slowest part of this suite,
// so one 2048-bit pair serves every test.
var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})

	der, err := x509.MarshalPKIXPublicKey(&testKey.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return testKey, pemBytes
}

// signPayload signs the canonical form of a payload's signed content the way
// the authority does.
func signPayload(t *testing.T, priv *rsa.PrivateKey, payload map[string]any) string {
	t.Helper()
	canonical, err := CanonicalizeJSON(signedContent(payload))
	require.NoError(t, err)

	digest := sha256.Sum256([]byte(canonical))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

// signBytes signs arbitrary bytes for the low-level verifier tests.
func signBytes(t *testing.T, priv *rsa.PrivateKey, data []byte) string {
	t.Helper()
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

// privateEncrypt applies PKCS#1 v1.5 block type 1 padding and raw RSA with
// the private exponent, mirroring how offline license files are produced.
func privateEncrypt(t *testing.T, priv *rsa.PrivateKey, data []byte) []byte {
	t.Helper()
	k := priv.Size()
	require.LessOrEqual(t, len(data), k-11, "chunk too large for key")

	em := make([]byte, k)
	em[0] = 0x00
	em[1] = 0x01
	for i := 2; i < k-len(data)-1; i++ {
		em[i] = 0xFF
	}
	em[k-len(data)-1] = 0x00
	copy(em[k-len(data):], data)

	m := new(big.Int).SetBytes(em)
	c := new(big.Int).Exp(m, priv.D, priv.N)
	return c.FillBytes(make([]byte, k))
}

// makeLicenseFile produces an offline license file: the JSON document split
// into key-sized chunks, each privately encrypted, concatenated and base64'd.
func makeLicenseFile(t *testing.T, priv *rsa.PrivateKey, doc map[string]any) string {
	t.Helper()
	plaintext, err := json.Marshal(doc)
	require.NoError(t, err)

	chunkSize := priv.Size() - 11
	var ciphertext []byte
	for offset := 0; offset < len(plaintext); offset += chunkSize {
		end := offset + chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		ciphertext = append(ciphertext, privateEncrypt(t, priv, plaintext[offset:end])...)
	}
	return base64.StdEncoding.EncodeToString(ciphertext)
}

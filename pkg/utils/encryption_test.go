package utils

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key, err := ParseEncryptionKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	ciphertext, err := Encrypt(key, "ada@example.com")
	require.NoError(t, err)
	require.NotEqual(t, "ada@example.com", ciphertext)

	plaintext, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", plaintext)
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	key := testKey(t)

	a, err := Encrypt(key, "same input")
	require.NoError(t, err)
	b, err := Encrypt(key, "same input")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "nonce reuse would make ciphertexts equal")
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	ciphertext, err := Encrypt(testKey(t), "secret")
	require.NoError(t, err)

	_, err = Decrypt(testKey(t), ciphertext)
	require.Error(t, err)
}

func TestDecryptGarbageFails(t *testing.T) {
	key := testKey(t)

	_, err := Decrypt(key, "not base64 at all !!!")
	require.Error(t, err)

	_, err = Decrypt(key, base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestParseEncryptionKeyRejectsBadInput(t *testing.T) {
	_, err := ParseEncryptionKey("")
	require.Error(t, err)

	_, err = ParseEncryptionKey("!!!not-base64!!!")
	require.Error(t, err)

	// 16 bytes is too short for AES-256.
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, err = ParseEncryptionKey(short)
	require.Error(t, err)
}

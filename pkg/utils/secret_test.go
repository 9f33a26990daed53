package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	ok, err := VerifySecret("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifySecret("wrong secret", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashSecretSaltsDiffer(t *testing.T) {
	a, err := HashSecret("same secret")
	require.NoError(t, err)
	b, err := HashSecret("same secret")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifySecretMalformedHash(t *testing.T) {
	_, err := VerifySecret("anything", "not-a-hash")
	require.Error(t, err)
}

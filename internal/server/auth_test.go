package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	cred := HashPassword("s3cret")
	require.Contains(t, cred, ":")
	assert.True(t, VerifyPassword(cred, "s3cret"))
	assert.False(t, VerifyPassword(cred, "wrong"))
	assert.False(t, VerifyPassword(cred, ""))
}

func TestVerify_DistinctSalts(t *testing.T) {
	a := HashPassword("same")
	b := HashPassword("same")
	assert.NotEqual(t, a, b, "salts must differ")
	assert.True(t, VerifyPassword(a, "same"))
	assert.True(t, VerifyPassword(b, "same"))
}

func TestVerify_LegacyPlaintext(t *testing.T) {
	assert.True(t, VerifyPassword("plaintext", "plaintext"))
	assert.False(t, VerifyPassword("plaintext", "plaintex"))
	assert.False(t, VerifyPassword("plaintext", "plaintextX"))
	assert.False(t, VerifyPassword("", "x"))
	assert.True(t, VerifyPassword("", ""))
}

func TestVerify_MalformedStoredHash(t *testing.T) {
	assert.False(t, VerifyPassword("salt:notahexhash", "anything"))
	assert.False(t, VerifyPassword("salt:", "anything"))
}

func TestHash_Format(t *testing.T) {
	cred := HashPassword("x")
	parts := strings.SplitN(cred, ":", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 32) // 16 salt bytes, hex
	assert.Len(t, parts[1], 64) // sha-256, hex
}

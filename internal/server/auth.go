package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashPassword produces a "salt:hash" credential: hex SHA-256 of salt+password.
func HashPassword(password string) string {
	saltBytes := make([]byte, 16)
	_, _ = rand.Read(saltBytes)
	salt := hex.EncodeToString(saltBytes)
	sum := sha256.Sum256([]byte(salt + password))
	return salt + ":" + hex.EncodeToString(sum[:])
}

// VerifyPassword checks password against a stored credential in constant
// time. "salt:hash" entries use SHA-256; legacy plaintext entries compare
// padded to a common length, also constant-time.
func VerifyPassword(stored, password string) bool {
	if salt, wantHex, ok := strings.Cut(stored, ":"); ok {
		sum := sha256.Sum256([]byte(salt + password))
		gotHex := hex.EncodeToString(sum[:])
		if len(gotHex) != len(wantHex) {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(gotHex), []byte(wantHex)) == 1
	}
	return constantTimeEqualPadded(stored, password)
}

func constantTimeEqualPadded(a, b string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	pa := make([]byte, n)
	pb := make([]byte, n)
	copy(pa, a)
	copy(pb, b)
	same := subtle.ConstantTimeCompare(pa, pb) == 1
	return same && subtle.ConstantTimeEq(int32(len(a)), int32(len(b))) == 1
}

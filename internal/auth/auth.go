// Package auth hashes and verifies Trojan passwords the way the protocol
// requires: the hex-encoded SHA-224 digest of the UTF-8 password, always
// exactly 56 characters, sent as the first bytes of every connection.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashLen is the fixed wire length of a hashed Trojan password.
const HashLen = 56

// Hash returns the hex-encoded SHA-224 digest of password.
func Hash(password string) string {
	sum := sha256.Sum224([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether candidate (as read off the wire) matches the
// known-good hash for this server, in constant time.
func Verify(candidate, knownHash string) bool {
	if len(candidate) != HashLen || len(knownHash) != HashLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(knownHash)) == 1
}

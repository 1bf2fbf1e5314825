// ABOUTME: Derivation of the HS256 signing secret from the operator secret
// ABOUTME: The derived secret is computed on demand and never persisted

package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// SigningSalt is appended to the operator secret before hashing.
const SigningSalt = "b00t-nats-user-jwt-salt"

// DeriveSigningSecret returns hex(SHA256(operatorSecret || SigningSalt)) as the
// HMAC key bytes used to sign and verify agent tokens.
func DeriveSigningSecret(operatorSecret string) []byte {
	sum := sha256.Sum256([]byte(operatorSecret + SigningSalt))
	return []byte(hex.EncodeToString(sum[:]))
}

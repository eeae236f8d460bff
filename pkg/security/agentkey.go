package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashAgentKey hashes a node's out-of-band pre-shared key for storage in
// types.Node.AgentKeyHash. The raw key itself is never persisted.
func HashAgentKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAgentKey reports whether key hashes to the stored hash, in
// constant time.
func VerifyAgentKey(key, storedHash string) bool {
	got := HashAgentKey(key)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// noncePattern matches the wire form handed to clients: 32 bytes of hex with
// a 0x tag, the same shape the on-chain verifier expects for a bytes32.
var noncePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NewNonce draws 32 bytes from the system CSPRNG. Nonces double as replay
// protection and as the correlation key for pending records, so the caller
// must persist the nonce before sharing it with any client.
func NewNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("draw nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// ParseNonce validates and canonicalises a client-supplied nonce.
func ParseNonce(s string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(s)
	if !noncePattern.MatchString(trimmed) {
		return out, fmt.Errorf("invalid nonce %q", s)
	}
	raw, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return out, fmt.Errorf("invalid nonce %q: %w", s, err)
	}
	copy(out[:], raw)
	return out, nil
}

// NormalizeNonce lower-cases a validated nonce for use as a lookup key.
func NormalizeNonce(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// addressPattern accepts a 0x-prefixed 20-byte hex address. The original
// bridge accepted looser inputs, but every downstream consumer (the packed
// signing payloads, the ledger file names) needs exactly 20 bytes.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Address represents a 20-byte Ethereum-style account address.
type Address struct {
	bytes [20]byte
}

func NewAddress(b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes, got %d", len(b))
	}
	var a Address
	copy(a.bytes[:], b)
	return a, nil
}

// ParseAddress decodes a 0x-prefixed hex address. The input is
// case-insensitive; the canonical form used throughout the service is
// lower-case.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if !addressPattern.MatchString(trimmed) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	raw, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return NewAddress(raw)
}

// String renders the canonical lower-case 0x form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a.bytes[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, 20)
	copy(out, a.bytes[:])
	return out
}

// Equal compares two addresses byte-wise.
func (a Address) Equal(other Address) bool {
	return a.bytes == other.bytes
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addr, _ := NewAddress(crypto.PubkeyToAddress(*k.PublicKey).Bytes())
	return addr
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a 0x-optional hex-encoded secp256k1 private key.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &PrivateKey{key}, nil
}

// ChecksumAddress returns the EIP-55 mixed-case rendering, used only for
// display surfaces; internal state and comparisons stay lower-case.
func ChecksumAddress(a Address) string {
	return common.BytesToAddress(a.Bytes()).Hex()
}

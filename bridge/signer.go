package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"runbridge/crypto"
)

// OperationKind selects the packed encoding the on-chain verifier will
// reconstruct. Each kind is a single fixed encoding; there is no fallback
// between kinds, a mismatch is a hard failure.
type OperationKind string

const (
	OpExchange OperationKind = "exchange"
	OpRecharge OperationKind = "recharge"
)

// personalMessagePrefix is the Ethereum convention applied before signing a
// 32-byte digest. The on-chain contract reconstructs the same prefixed hash.
const personalMessagePrefix = "\x19Ethereum Signed Message:\n32"

// rechargeTag is appended to the recharge packing, mirroring the contract's
// abi.encodePacked(..., "recharge").
const rechargeTag = "recharge"

// ErrSelfCheckFailed reports that the address recovered from a freshly
// produced signature did not match the signing key. It means the packed
// encoding drifted from the contract's expectation and must fail closed.
var ErrSelfCheckFailed = errors.New("signature self-check failed: recovered address does not match signer")

// SigningContext carries the service key material explicitly so tests can
// substitute their own keys and operators can rotate without process-global
// state.
type SigningContext struct {
	key    *crypto.PrivateKey
	signer crypto.Address
}

// SignRequest is a fully validated signing input. Amounts are in wei and
// whole game coins respectively; the nonce is the 32-byte correlation key
// already reserved for the record.
type SignRequest struct {
	Kind     OperationKind
	Player   crypto.Address
	TokenWei *big.Int
	Coins    int64
	Nonce    [32]byte
	Contract crypto.Address
}

// SignResult is the authorization handed back to the client.
type SignResult struct {
	Signature string
	Nonce     string
	Signer    string
}

func NewSigningContext(key *crypto.PrivateKey) (*SigningContext, error) {
	if key == nil {
		return nil, errors.New("signing key required")
	}
	return &SigningContext{key: key, signer: key.PubKey().Address()}, nil
}

// SignerAddress returns the address clients and the contract treat as the
// trusted authorizer.
func (c *SigningContext) SignerAddress() crypto.Address {
	return c.signer
}

// Sign builds the packed message for the request kind, hashes it, applies the
// personal-message prefix, signs, and verifies its own output by recovering
// the signer address before returning.
func (c *SigningContext) Sign(req SignRequest) (SignResult, error) {
	if req.TokenWei == nil || req.TokenWei.Sign() <= 0 {
		return SignResult{}, fmt.Errorf("token amount must be positive")
	}
	if req.Coins <= 0 {
		return SignResult{}, fmt.Errorf("game coins must be positive")
	}

	packed, err := packMessage(req)
	if err != nil {
		return SignResult{}, err
	}
	digest := prefixedHash(ethcrypto.Keccak256(packed))

	sig, err := ethcrypto.Sign(digest, c.key.PrivateKey)
	if err != nil {
		return SignResult{}, fmt.Errorf("sign %s message: %w", req.Kind, err)
	}

	recovered, err := recoverAddress(digest, sig)
	if err != nil {
		return SignResult{}, fmt.Errorf("recover signer: %w", err)
	}
	if !recovered.Equal(c.signer) {
		return SignResult{}, ErrSelfCheckFailed
	}

	return SignResult{
		Signature: encodeSignature(sig),
		Nonce:     "0x" + hex.EncodeToString(req.Nonce[:]),
		Signer:    c.signer.String(),
	}, nil
}

// VerifySignature checks a previously issued authorization against the
// context's signer address. Used by tests and the diagnostics surface, never
// as a production fallback.
func (c *SigningContext) VerifySignature(req SignRequest, signature string) (bool, error) {
	packed, err := packMessage(req)
	if err != nil {
		return false, err
	}
	digest := prefixedHash(ethcrypto.Keccak256(packed))
	sig, err := decodeSignature(signature)
	if err != nil {
		return false, err
	}
	recovered, err := recoverAddress(digest, sig)
	if err != nil {
		return false, err
	}
	return recovered.Equal(c.signer), nil
}

// packMessage concatenates the request fields with no padding beyond each
// type's natural width, matching the contract's abi.encodePacked layout.
func packMessage(req SignRequest) ([]byte, error) {
	coins := new(big.Int).SetInt64(req.Coins)
	out := make([]byte, 0, 20+32+32+32+20+len(rechargeTag))
	out = append(out, req.Player.Bytes()...)
	switch req.Kind {
	case OpExchange:
		out = append(out, leftPad32(coins)...)
		out = append(out, leftPad32(req.TokenWei)...)
	case OpRecharge:
		out = append(out, leftPad32(req.TokenWei)...)
		out = append(out, leftPad32(coins)...)
	default:
		return nil, fmt.Errorf("unknown operation kind %q", req.Kind)
	}
	out = append(out, req.Nonce[:]...)
	out = append(out, req.Contract.Bytes()...)
	if req.Kind == OpRecharge {
		out = append(out, []byte(rechargeTag)...)
	}
	return out, nil
}

func prefixedHash(messageHash []byte) []byte {
	return ethcrypto.Keccak256([]byte(personalMessagePrefix), messageHash)
}

func recoverAddress(digest, sig []byte) (crypto.Address, error) {
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.NewAddress(ethcrypto.PubkeyToAddress(*pub).Bytes())
}

// encodeSignature serialises the raw 65-byte (r, s, v) signature as the
// 132-character 0x hex string wallets expect, with v shifted to 27/28.
func encodeSignature(sig []byte) string {
	out := make([]byte, 65)
	copy(out, sig)
	if out[64] < 27 {
		out[64] += 27
	}
	return "0x" + hex.EncodeToString(out)
}

func decodeSignature(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(trimmed) != 130 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d hex chars", len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	return raw, nil
}

func leftPad32(v *big.Int) []byte {
	out := make([]byte, 32)
	raw := v.Bytes()
	copy(out[32-len(raw):], raw)
	return out
}

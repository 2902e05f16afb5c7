package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Codec mints and checks the tamper-evident verification codes attached to
// client-reported game results. The code binds {wallet, coins, timestamp} to
// the shared secret; altering any field after minting invalidates it. This is
// tamper evidence, not confidentiality: anyone holding the secret can mint,
// so Generate stays server-side.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Payload is the transient verification envelope. It is never persisted.
type Payload struct {
	Code      string `json:"code"`
	Wallet    string `json:"wallet"`
	Coins     int64  `json:"coins"`
	Timestamp int64  `json:"timestamp"`
}

var (
	ErrCodeMalformed     = errors.New("verification code malformed")
	ErrChecksumMismatch  = errors.New("verification checksum mismatch")
	ErrSignatureMismatch = errors.New("verification hmac mismatch")
)

func NewCodec(secret string) (*Codec, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("verification secret required")
	}
	return &Codec{secret: []byte(trimmed), now: time.Now}, nil
}

// WithClock overrides the timestamp source, for tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Generate mints a payload for the given wallet and coin delta at the current
// time. The wallet is canonicalised to lower-case before hashing so Generate
// and Verify agree regardless of input casing.
func (c *Codec) Generate(wallet string, coins int64) Payload {
	ts := c.now().UnixMilli()
	lower := strings.ToLower(strings.TrimSpace(wallet))
	return Payload{
		Code:      c.deriveCode(lower, coins, ts),
		Wallet:    lower,
		Coins:     coins,
		Timestamp: ts,
	}
}

// Verify re-derives the code from the claimed fields and rejects on any
// mismatch of the checksum prefix or the recomputed HMAC.
func (c *Codec) Verify(p Payload) error {
	prefix, obfuscated, found := strings.Cut(p.Code, ":")
	if !found || prefix == "" || obfuscated == "" {
		return ErrCodeMalformed
	}
	checksum := sha256.Sum256([]byte(obfuscated))
	if hex.EncodeToString(checksum[:])[:8] != prefix {
		return ErrChecksumMismatch
	}

	claimed, err := c.deobfuscate(obfuscated)
	if err != nil {
		return ErrCodeMalformed
	}
	expected := c.hmacHex(strings.ToLower(p.Wallet), p.Coins, p.Timestamp)
	if !hmac.Equal([]byte(claimed), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// deriveCode runs the full producer pipeline: HMAC, XOR obfuscation, base64,
// checksum prefix.
func (c *Codec) deriveCode(wallet string, coins, ts int64) string {
	obfuscated := c.obfuscate(c.hmacHex(wallet, coins, ts))
	checksum := sha256.Sum256([]byte(obfuscated))
	return hex.EncodeToString(checksum[:])[:8] + ":" + obfuscated
}

// hmacHex computes the keyed digest over the combined factors. The digest
// input layout is fixed by the legacy client implementation and must not
// change: a JSON object with wallet, coins, time in that order, then the
// colon-joined factor string.
func (c *Codec) hmacHex(wallet string, coins, ts int64) string {
	digest := struct {
		Wallet string `json:"wallet"`
		Coins  int64  `json:"coins"`
		Time   int64  `json:"time"`
	}{Wallet: wallet, Coins: coins, Time: ts}
	encoded, _ := json.Marshal(digest)
	initial := sha256.Sum256(encoded)

	timeFactor := (ts / 1000) % 10000
	coinFactor := (coins * 17) % 10000
	walletFactor := ""
	if len(wallet) >= 10 {
		walletFactor = wallet[2:10]
	}

	combined := fmt.Sprintf("%s:%d:%d:%s", hex.EncodeToString(initial[:]), timeFactor, coinFactor, walletFactor)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(combined))
	return hex.EncodeToString(mac.Sum(nil))
}

// obfuscate XORs every byte against the cyclic secret schedule and encodes
// the result as base64.
func (c *Codec) obfuscate(data string) string {
	raw := []byte(data)
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ c.secret[i%len(c.secret)]
	}
	return base64.StdEncoding.EncodeToString(out)
}

func (c *Codec) deobfuscate(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ c.secret[i%len(c.secret)]
	}
	return string(out), nil
}

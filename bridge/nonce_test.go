package bridge

import (
	"strings"
	"testing"
)

func TestNewNonceFormat(t *testing.T) {
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("new nonce: %v", err)
	}
	if len(nonce) != 66 || !strings.HasPrefix(nonce, "0x") {
		t.Fatalf("nonce must be 66-char 0x hex, got %q", nonce)
	}
	if _, err := ParseNonce(nonce); err != nil {
		t.Fatalf("generated nonce must parse: %v", err)
	}
}

func TestNewNonceUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		nonce, err := NewNonce()
		if err != nil {
			t.Fatalf("new nonce: %v", err)
		}
		if _, dup := seen[nonce]; dup {
			t.Fatalf("duplicate nonce %s", nonce)
		}
		seen[nonce] = struct{}{}
	}
}

func TestParseNonceRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"0x",
		"0x1234",
		strings.Repeat("a", 66),
		"0x" + strings.Repeat("g", 64),
	} {
		if _, err := ParseNonce(raw); err == nil {
			t.Fatalf("expected rejection for %q", raw)
		}
	}
}

func TestNormalizeNonce(t *testing.T) {
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("new nonce: %v", err)
	}
	upper := "0x" + strings.ToUpper(nonce[2:])
	if NormalizeNonce(upper) != nonce {
		t.Fatalf("normalize(%q) != %q", upper, nonce)
	}
}

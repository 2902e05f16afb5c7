package bridge

import (
	"fmt"
	"math/big"
	"strings"
)

// tokenDecimals matches the bridged ERC-20 contract.
const tokenDecimals = 18

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)

// ParseTokenAmount converts a decimal token amount ("1", "0.5") into wei.
// The signing payload packs the wei value, so the conversion must be exact:
// more than 18 fractional digits is rejected rather than rounded.
func ParseTokenAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("token amount required")
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("token amount must be positive")
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	// big.Int.SetString tolerates sign prefixes, so each part is checked for
	// bare digits first to keep inputs like "+3" or "1.+5" out.
	if !isDigits(whole) {
		return nil, fmt.Errorf("invalid token amount %q", s)
	}
	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token amount %q", s)
	}
	wei := new(big.Int).Mul(wholeInt, weiPerToken)
	if hasFrac {
		if frac == "" || len(frac) > tokenDecimals || !isDigits(frac) {
			return nil, fmt.Errorf("invalid token amount %q", s)
		}
		fracInt, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token amount %q", s)
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals-len(frac))), nil)
		wei.Add(wei, fracInt.Mul(fracInt, scale))
	}
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("token amount must be positive")
	}
	return wei, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatTokenAmount renders a wei value back into a decimal token string with
// trailing zeros trimmed.
func FormatTokenAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	quo, rem := new(big.Int).QuoRem(wei, weiPerToken, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%018s", rem.String()), "0")
	return quo.String() + "." + frac
}

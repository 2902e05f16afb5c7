package bridge

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTokenAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"1.5", "1500000000000000000"},
		{"0.000000000000000001", "1"},
		{"100", "100000000000000000000"},
		{" 2 ", "2000000000000000000"},
	}
	for _, tc := range cases {
		wei, err := ParseTokenAmount(tc.in)
		require.NoError(t, err, "parse %q", tc.in)
		require.Equal(t, tc.want, wei.String(), "parse %q", tc.in)
	}
}

func TestParseTokenAmountRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"0",
		"-1",
		"0.0",
		"abc",
		"1.",
		"1.0000000000000000001",
		"1,5",
		"+3",
		"1.+5",
		"1.-5",
		"0x10",
		"1e18",
	} {
		_, err := ParseTokenAmount(raw)
		require.Error(t, err, "input %q", raw)
	}
}

func TestFormatTokenAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
		{"100000000000000000000", "100"},
	}
	for _, tc := range cases {
		wei, ok := new(big.Int).SetString(tc.in, 10)
		require.True(t, ok)
		require.Equal(t, tc.want, FormatTokenAmount(wei))
	}
	require.Equal(t, "0", FormatTokenAmount(nil))
}

func TestAmountRoundTrip(t *testing.T) {
	for _, raw := range []string{"1", "0.5", "1.5", "42", "0.000000000000000001"} {
		wei, err := ParseTokenAmount(raw)
		require.NoError(t, err)
		back, err := ParseTokenAmount(FormatTokenAmount(wei))
		require.NoError(t, err)
		require.Zero(t, back.Cmp(wei), "round trip changed %q", raw)
	}
}

package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	n, err := ParseAmount("10000")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), n.Int64())
}

func TestParseAmountZero(t *testing.T) {
	n, err := ParseAmount("0")
	require.NoError(t, err)
	assert.Zero(t, n.Sign())
}

func TestParseAmountBeyondUint64(t *testing.T) {
	// uint256 territory: larger than any machine word.
	s := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	n, err := ParseAmount(s)
	require.NoError(t, err)
	assert.Equal(t, s, n.String())
}

func TestParseAmountRejects(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"fraction":   "1.5",
		"trailing":   "1.0",
		"negative":   "-5",
		"exponent":   "1e3",
		"hex":        "0x10",
		"word":       "ten",
		"whitespace": " 10",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAmount(in)
			assert.Error(t, err)
		})
	}
}

func TestParseUnixSeconds(t *testing.T) {
	n, err := ParseUnixSeconds("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), n.Int64())

	_, err = ParseUnixSeconds("soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timestamp")
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.01", FormatAmount(big.NewInt(10000), 6))
	assert.Equal(t, "10000", FormatAmount(big.NewInt(10000), 0))
	assert.Equal(t, "1", FormatAmount(big.NewInt(1_000_000), 6))
	assert.Equal(t, "0.000001", FormatAmount(big.NewInt(1), 6))
}

package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInvalidAmount = errors.New("invalid amount")

func TestParseDecimalAmount_ValidAmounts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
	}{
		{"1.5 with 9 decimals", "1.5", 9, "1500000000"},
		{"0.1 with 6 decimals", "0.1", 6, "100000"},
		{"100 no decimal", "100", 9, "100000000000"},
		{".5 no integer", ".5", 9, "500000000"},
		{"0 value", "0", 9, "0"},
		{"many decimals truncated", "1.1234567891234", 9, "1123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDecimalAmount(tt.amount, tt.decimals, errInvalidAmount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseDecimalAmount_InvalidAmounts(t *testing.T) {
	t.Parallel()
	for _, amount := range []string{"", "-1", "1.2.3", "abc", "1.abc", "abc.1", " 1.5"} {
		_, err := ParseDecimalAmount(amount, SOLDecimals, errInvalidAmount)
		require.ErrorIs(t, err, errInvalidAmount, amount)
	}
}

func TestFormatDecimalAmount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0", FormatDecimalAmount(nil, 9))
	assert.Equal(t, "1.5", FormatDecimalAmount(big.NewInt(1_500_000_000), 9))
	assert.Equal(t, "0.000000001", FormatDecimalAmount(big.NewInt(1), 9))
	assert.Equal(t, "2.0", FormatDecimalAmount(big.NewInt(2_000_000_000), 9))
}

func TestParseSOLAndFormatLamports(t *testing.T) {
	t.Parallel()
	lamports, err := ParseSOL("0.25", errInvalidAmount)
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000_000), lamports)
	assert.Equal(t, "0.25", FormatLamports(lamports))

	_, err = ParseSOL("99999999999999999999", errInvalidAmount)
	require.ErrorIs(t, err, errInvalidAmount)
}

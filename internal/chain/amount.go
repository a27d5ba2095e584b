package chain

import (
	"math/big"
	"strings"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// SOLDecimals is the number of decimal places of the SOL unit.
const SOLDecimals = 9

// ParseSOL parses a decimal SOL amount into lamports.
func ParseSOL(amount string, invalidAmountErr error) (uint64, error) {
	v, err := ParseDecimalAmount(amount, SOLDecimals, invalidAmountErr)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, invalidAmountErr
	}
	return v.Uint64(), nil
}

// FormatLamports formats a lamport amount as a SOL decimal string.
func FormatLamports(lamports uint64) string {
	return FormatDecimalAmount(new(big.Int).SetUint64(lamports), SOLDecimals)
}

// ParseDecimalAmount parses a decimal amount string to big.Int with the given decimal places.
// For example, "1.5" with 9 decimals returns 1500000000.
//
//nolint:gocognit,gocyclo // Decimal parsing requires sequential validation steps
func ParseDecimalAmount(amount string, decimalPlaces int, invalidAmountErr error) (*big.Int, error) {
	if amount == "" || strings.HasPrefix(amount, "-") {
		return nil, invalidAmountErr
	}

	intPart, decPart, hasDot := strings.Cut(amount, ".")
	if hasDot && strings.Contains(decPart, ".") {
		return nil, invalidAmountErr
	}

	if intPart == "" {
		intPart = "0"
	}
	intVal, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return nil, invalidAmountErr
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimalPlaces)), nil)
	result := new(big.Int).Mul(intVal, multiplier)

	if decPart == "" {
		return result, nil
	}

	for _, c := range decPart {
		if c < '0' || c > '9' {
			return nil, invalidAmountErr
		}
	}

	// Pad or truncate to the unit precision
	if len(decPart) < decimalPlaces {
		decPart += strings.Repeat("0", decimalPlaces-len(decPart))
	}
	decPart = decPart[:decimalPlaces]

	decVal, ok := new(big.Int).SetString(decPart, 10)
	if !ok {
		return nil, invalidAmountErr
	}

	return result.Add(result, decVal), nil
}

// FormatDecimalAmount converts a big.Int to a human-readable string with the given decimal places.
// Trailing zeros after the decimal point are removed.
func FormatDecimalAmount(amount *big.Int, decimalPlaces int) string {
	if amount == nil {
		return "0"
	}

	str := amount.String()
	if len(str) <= decimalPlaces {
		str = strings.Repeat("0", decimalPlaces-len(str)+1) + str
	}

	decimalPos := len(str) - decimalPlaces
	result := str[:decimalPos] + "." + str[decimalPos:]

	for len(result) > 1 && result[len(result)-1] == '0' && result[len(result)-2] != '.' {
		result = result[:len(result)-1]
	}

	return result
}

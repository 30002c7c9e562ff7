// Package amount converts between the 256-bit raw integer representation of
// on-chain token amounts and their human-readable decimal form.
package amount

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// MaxDecimals bounds the token decimals this package will format or parse.
// 77 is the largest decimals value for which a uint256 raw amount can still
// carry meaningful precision (2^256 has 78 decimal digits).
const MaxDecimals = 77

// FormatUnits renders raw (smallest on-chain unit) as a decimal string with
// the given number of fractional digits, trimming trailing zeros the way
// wallets and explorers conventionally display token balances.
func FormatUnits(raw *uint256.Int, decimals uint8) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("amount: raw value is nil")
	}
	if decimals > MaxDecimals {
		return "", fmt.Errorf("amount: decimals %d exceeds maximum %d", decimals, MaxDecimals)
	}
	digits := raw.Dec()
	if decimals == 0 {
		return digits, nil
	}
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	split := len(digits) - int(decimals)
	whole := digits[:split]
	frac := strings.TrimRight(digits[split:], "0")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	if frac == "" {
		return whole, nil
	}
	return whole + "." + frac, nil
}

// ParseUnits converts a decimal string into its raw (smallest on-chain unit)
// integer form, scaling by decimals. It rejects negative values, more
// fractional digits than decimals allows, and malformed input.
func ParseUnits(value string, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("amount: decimals %d exceeds maximum %d", decimals, MaxDecimals)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("amount: empty value")
	}
	if strings.HasPrefix(value, "-") {
		return nil, fmt.Errorf("amount: negative amounts are not supported")
	}
	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac {
		if len(frac) > int(decimals) {
			return nil, fmt.Errorf("amount: %s has more fractional digits than %d decimals", value, decimals)
		}
		frac = frac + strings.Repeat("0", int(decimals)-len(frac))
	} else {
		frac = strings.Repeat("0", int(decimals))
	}
	digits := whole + frac
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	raw, overflow := uint256.FromDecimal(digits)
	if overflow != nil {
		return nil, fmt.Errorf("amount: %s overflows uint256: %w", value, overflow)
	}
	return raw, nil
}

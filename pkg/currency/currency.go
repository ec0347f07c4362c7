// Package currency handles ISO 4217 minor-unit arithmetic for provider
// adapters. Amounts travel through the system as int64 minor units; each
// adapter converts to the representation its provider expects.
package currency

import (
	"fmt"
	"strconv"
	"strings"
)

// exponents lists currencies whose minor-unit exponent differs from 2.
var exponents = map[string]int{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "IDR": 0, "ISK": 0, "JPY": 0,
	"KMF": 0, "KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0,
	"XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Exponent returns the number of minor-unit digits for a currency code.
func Exponent(code string) int {
	if exp, ok := exponents[Normalize(code)]; ok {
		return exp
	}
	return 2
}

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code looks like an ISO 4217 alpha code.
func Valid(code string) bool {
	code = Normalize(code)
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// DecimalString renders minor units as a major-unit decimal string
// ("2999" USD -> "29.99", "500" JPY -> "500").
func DecimalString(minor int64, code string) string {
	exp := Exponent(code)
	if exp == 0 {
		return strconv.FormatInt(minor, 10)
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	div := int64(1)
	for i := 0; i < exp; i++ {
		div *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, minor/div, exp, minor%div)
}

// ParseDecimal converts a major-unit decimal string into minor units.
// Fractions beyond the currency exponent are rejected rather than rounded.
func ParseDecimal(value string, code string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	exp := Exponent(code)

	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}

	whole, frac := value, ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole, frac = value[:idx], value[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > exp {
		return 0, fmt.Errorf("amount %q has more than %d decimal places for %s", value, exp, code)
	}
	for len(frac) < exp {
		frac += "0"
	}

	wholePart, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	minor := wholePart
	for i := 0; i < exp; i++ {
		minor *= 10
	}
	if frac != "" {
		fracPart, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", value, err)
		}
		minor += fracPart
	}
	if negative {
		minor = -minor
	}
	return minor, nil
}

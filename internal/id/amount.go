package id

import (
	"fmt"
	"math/big"
	"strings"

	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

// ParseAmount converts a human decimal amount ("1.5") into base units
// for the token. Raw base-unit input is accepted with a "raw:" prefix.
func ParseAmount(input string, token model.Token) (*big.Int, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, engerr.New(engerr.CodeUsage, "amount is required")
	}

	if rest, ok := strings.CutPrefix(raw, "raw:"); ok {
		value, ok := new(big.Int).SetString(strings.TrimSpace(rest), 10)
		if !ok {
			return nil, engerr.New(engerr.CodeUsage, fmt.Sprintf("invalid raw amount: %s", input))
		}
		if value.Sign() <= 0 {
			return nil, engerr.New(engerr.CodeUsage, "amount must be positive")
		}
		return value, nil
	}

	value, err := decimalToBaseUnits(raw, token.Decimals)
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return nil, engerr.New(engerr.CodeUsage, "amount must be positive")
	}
	return value, nil
}

// FormatAmount renders base units as a decimal string with trailing
// zeros trimmed. The inverse of ParseAmount for display purposes.
func FormatAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	d := decimals
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-d]
	frac := strings.TrimRight(digits[len(digits)-d:], "0")

	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if negative {
		out = "-" + out
	}
	return out
}

func decimalToBaseUnits(raw string, decimals int) (*big.Int, error) {
	whole, frac := raw, ""
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		whole, frac = raw[:i], raw[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, engerr.New(engerr.CodeUsage, fmt.Sprintf("invalid amount: %s", raw))
	}
	if len(frac) > decimals {
		return nil, engerr.New(engerr.CodeUsage, fmt.Sprintf("amount %s has more than %d decimal places", raw, decimals))
	}
	frac += strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, engerr.New(engerr.CodeUsage, fmt.Sprintf("invalid amount: %s", raw))
	}
	return value, nil
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

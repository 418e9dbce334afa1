package types

import (
	"fmt"
	"math/big"
	"strings"
)

// weiPerEther is 10^18, the smallest-unit scale for the native asset.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const maxEtherDecimals = 18

// ParseEther converts a human-readable decimal ETH string (e.g. "0.001")
// into an integer wei amount. This is the single boundary where decimal
// strings become integers; everything downstream carries *big.Int wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount cannot be negative: %s", s)
	}

	whole := s
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole = s[:idx]
		frac = s[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > maxEtherDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, maxEtherDecimals)
	}

	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	result := new(big.Int).Mul(wholeInt, weiPerEther)

	if frac != "" {
		// Pad the fractional part to 18 digits so "0.1" becomes 10^17.
		padded := frac + strings.Repeat("0", maxEtherDecimals-len(frac))
		fracInt, ok := new(big.Int).SetString(padded, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount: %s", s)
		}
		result.Add(result, fracInt)
	}

	return result, nil
}

// FormatEther converts an integer wei amount into a decimal ETH string,
// trimming trailing zeros ("1000000000000000" -> "0.001").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(wei)
	if wei.Sign() < 0 {
		sign = "-"
	}

	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(abs, weiPerEther, frac)

	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := fmt.Sprintf("%018s", frac.String())
	fracStr = strings.TrimRight(fracStr, "0")
	return sign + whole.String() + "." + fracStr
}

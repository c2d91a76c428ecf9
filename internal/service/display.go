package service

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// display renders WAD-scaled amounts as human-readable decimal strings,
// rounded to the configured number of fractional digits. Nil values render
// as "0".
func (s *PreviewService) display(amounts map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(amounts))
	for name, v := range amounts {
		out[name] = FormatWad(v, s.cfg.Display.Decimals)
	}
	return out
}

// FormatWad converts a WAD (1e18 fixed-point) integer into a decimal string
// with the given number of fractional digits.
func FormatWad(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).Round(decimals).String()
}

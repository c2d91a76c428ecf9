// Package mathfp implements the scaled-decimal integer arithmetic used by the
// on-chain settlement contracts. Monetary quantities and prices are WAD
// (10^18) fixed-point integers; margin ratios use a 10^4 basis-point scale.
// Every function reproduces the contract's rounding direction exactly so that
// simulated results never diverge from what executes on-chain.
package mathfp

import (
	"math/big"

	ethmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/perpsim/internal/derr"
)

// Rounding selects the rounding direction for a descaling division.
type Rounding int

const (
	// RoundDown truncates toward negative infinity for non-negative results
	// (floor).
	RoundDown Rounding = iota
	// RoundUp rounds away from zero for non-negative results (ceil).
	RoundUp
	// RoundNearest rounds half away from zero.
	RoundNearest
)

var (
	// Wad is the 10^18 unit scale.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// HalfWad is Wad/2, the round-to-nearest threshold.
	HalfWad = new(big.Int).Rsh(Wad, 1)

	// TwoWad is 2*Wad.
	TwoWad = new(big.Int).Lsh(Wad, 1)

	// Q96 and Q192 are the 2^96 and 2^192 shifts of the sqrt-price encoding.
	Q96  = ethmath.BigPow(2, 96)
	Q192 = ethmath.BigPow(2, 192)

	one = big.NewInt(1)
	two = big.NewInt(2)
)

// RatioBase is the basis-point unit scale used for margin ratios.
const RatioBase = 10_000

// ratioToWadFactor converts the 10^4 ratio scale to the 10^18 WAD scale.
var ratioToWadFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(14), nil)

// RatioToWad converts a basis-point ratio (10^4 scale) to WAD scale.
func RatioToWad(bps int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(bps), ratioToWadFactor)
}

// MulDiv computes a*b/denominator with full-width intermediate precision and
// the requested rounding. The product a*b never overflows because it is
// carried in an arbitrary-precision integer. A zero denominator is an
// arithmetic error.
func MulDiv(a, b, denominator *big.Int, mode Rounding) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, derr.NewCalculationError(derr.CodeZeroDenominator, map[string]any{
			"a": a.String(), "b": b.String(),
		})
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, denominator, new(big.Int))
	if rem.Sign() == 0 {
		return quo, nil
	}
	switch mode {
	case RoundUp:
		if (prod.Sign() < 0) != (denominator.Sign() < 0) {
			quo.Sub(quo, one)
		} else {
			quo.Add(quo, one)
		}
	case RoundNearest:
		// Round half away from zero.
		doubled := new(big.Int).Lsh(rem.Abs(rem), 1)
		if doubled.CmpAbs(denominator) >= 0 {
			if (prod.Sign() < 0) != (denominator.Sign() < 0) {
				quo.Sub(quo, one)
			} else {
				quo.Add(quo, one)
			}
		}
	}
	return quo, nil
}

// mulDivWad descales a*b by WAD with the given rounding. The WAD denominator
// is never zero, so the error from MulDiv cannot occur.
func mulDivWad(a, b *big.Int, mode Rounding) *big.Int {
	out, _ := MulDiv(a, b, Wad, mode)
	return out
}

// WMul multiplies two WAD numbers, rounding to nearest.
func WMul(a, b *big.Int) *big.Int { return mulDivWad(a, b, RoundNearest) }

// WMulUp multiplies two WAD numbers, rounding the descaled result up.
func WMulUp(a, b *big.Int) *big.Int { return mulDivWad(a, b, RoundUp) }

// WMulDown multiplies two WAD numbers, rounding the descaled result down.
func WMulDown(a, b *big.Int) *big.Int { return mulDivWad(a, b, RoundDown) }

// WDiv divides two WAD numbers, rounding to nearest.
func WDiv(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, Wad, b, RoundNearest)
}

// WDivUp divides two WAD numbers, rounding up.
func WDivUp(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, Wad, b, RoundUp)
}

// WDivDown divides two WAD numbers, rounding down.
func WDivDown(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, Wad, b, RoundDown)
}

// WMulInt multiplies two signed WAD numbers, truncating the descaled result
// toward zero. This matches the two's-complement signed division semantics of
// the contract: the magnitude is floored regardless of sign.
func WMulInt(a, b *big.Int) *big.Int {
	prod := new(big.Int).Mul(a, b)
	return prod.Quo(prod, Wad)
}

// WDivInt divides two signed WAD numbers, truncating toward zero.
func WDivInt(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, derr.NewCalculationError(derr.CodeZeroDenominator, map[string]any{
			"a": a.String(),
		})
	}
	scaled := new(big.Int).Mul(a, Wad)
	return scaled.Quo(scaled, b), nil
}

// Abs returns |x| as a fresh integer.
func Abs(x *big.Int) *big.Int {
	return new(big.Int).Abs(x)
}

// Neg returns -x as a fresh integer.
func Neg(x *big.Int) *big.Int {
	return new(big.Int).Neg(x)
}

// Min returns the smaller of a and b (no aliasing with the inputs).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b (no aliasing with the inputs).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ClampZero returns x if positive, otherwise 0.
func ClampZero(x *big.Int) *big.Int {
	if x.Sign() > 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int)
}

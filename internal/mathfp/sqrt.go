package mathfp

import (
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/derr"
)

// Sqrt returns the floor integer square root of y, exact for perfect squares.
// The iteration is Newton's method seeded by a most-significant-bit estimate,
// matching the contract's bit-halving algorithm: the seed 2^ceil(bitlen/2) is
// always an over-estimate, so the sequence decreases monotonically onto the
// floor root. Negative input is an arithmetic error.
func Sqrt(y *big.Int) (*big.Int, error) {
	if y.Sign() < 0 {
		return nil, derr.NewCalculationError(derr.CodeSqrtOfNegative, map[string]any{
			"value": y.String(),
		})
	}
	if y.Sign() == 0 {
		return new(big.Int), nil
	}
	if y.Cmp(two) <= 0 {
		return big.NewInt(1), nil
	}
	// Seed: halve the bit length, rounding up, so z0^2 >= y.
	z := new(big.Int).Lsh(one, uint(y.BitLen()+1)/2)
	x := new(big.Int)
	for {
		// x = (y/z + z) / 2
		x.Quo(y, z)
		x.Add(x, z)
		x.Rsh(x, 1)
		if x.Cmp(z) >= 0 {
			return z, nil
		}
		z, x = x, z
	}
}

// BitLength returns the number of bits needed to represent x (0 for zero).
func BitLength(x *big.Int) int {
	return x.BitLen()
}

// MostSignificantBit returns the index of the highest set bit of x, or -1 for
// zero. Used by the tick ladder to locate the leading bit of a ratio.
func MostSignificantBit(x *big.Int) int {
	return x.BitLen() - 1
}

// maxSafeShift bounds the machine-width shift helpers. Shifting an ordinary
// (53-bit mantissa) quantity by more than 52 loses integer precision.
const maxSafeShift = 52

// ShiftLeft multiplies x by 2^n for a machine-width value. A negative n or
// n > 52 is a precision error.
func ShiftLeft(x int64, n int) (int64, error) {
	if err := checkShift(n); err != nil {
		return 0, err
	}
	return x << uint(n), nil
}

// ShiftRight divides x by 2^n for a machine-width value, truncating toward
// negative infinity. A negative n or n > 52 is a precision error.
func ShiftRight(x int64, n int) (int64, error) {
	if err := checkShift(n); err != nil {
		return 0, err
	}
	return x >> uint(n), nil
}

func checkShift(n int) error {
	if n < 0 {
		return derr.NewCalculationError(derr.CodeNegativeShift, map[string]any{"shift": n})
	}
	if n > maxSafeShift {
		return derr.NewCalculationError(derr.CodeShiftOverflow, map[string]any{"shift": n})
	}
	return nil
}

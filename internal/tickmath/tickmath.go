// Package tickmath converts between the discrete integer price index ("tick"),
// the 2^96-scaled square-root price used internally by the AMM, and the linear
// WAD price. price(tick) = 1.0001^tick. The ladder of Q128.128 multipliers
// reproduces the contract bit for bit; round-trips hold across the whole tick
// domain.
package tickmath

import (
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
)

const (
	// MinTick and MaxTick bound the tick domain.
	MinTick = -322517
	MaxTick = 443636
)

var (
	// MinSqrtX96 is tickToSqrtX96(MinTick).
	MinSqrtX96, _ = new(big.Int).SetString("7867958450021363558555", 10)
	// MaxSqrtX96 is tickToSqrtX96(MaxTick).
	MaxSqrtX96, _ = new(big.Int).SetString("340275971719517849884101479065584693834", 10)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	oddTickSeed = mustHex("fffcb933bd6fad37aa2d162d1a594001")
	evenSeed    = mustHex("100000000000000000000000000000000")

	// Q128.128 multipliers for each tick bit, 0x2 through 0x80000.
	ladder = []*big.Int{
		mustHex("fff97272373d413259a46990580e213a"),
		mustHex("fff2e50f5f656932ef12357cf3c7fdcc"),
		mustHex("ffe5caca7e10e4e61c3624eaa0941cd0"),
		mustHex("ffcb9843d60f6159c9db58835c926644"),
		mustHex("ff973b41fa98c081472e6896dfb254c0"),
		mustHex("ff2ea16466c96a3843ec78b326b52861"),
		mustHex("fe5dee046a99a2a811c461f1969c3053"),
		mustHex("fcbe86c7900a88aedcffc83b479aa3a4"),
		mustHex("f987a7253ac413176f2b074cf7815e54"),
		mustHex("f3392b0822b70005940c7a398e4b70f3"),
		mustHex("e7159475a2c29b7443b29c7fa6e889d9"),
		mustHex("d097f3bdfd2022b8845ad8f792aa5825"),
		mustHex("a9f746462d870fdf8a65dc1f90e061e5"),
		mustHex("70d869a156d2a1b890bb3df62baf32f7"),
		mustHex("31be135f97d08fd981231505542fcfa6"),
		mustHex("9aa508b5b7a84e1c677de54f3e99bc9"),
		mustHex("5d6af8dedb81196699c329225ee604"),
		mustHex("2216e584f5fa1ea926041bedfe98"),
		mustHex("48a170391f7dc42444e8fa2"),
	}

	logScale      = mustDec("255738958999603826347141")
	logLowOffset  = mustDec("3402992956809132418596140100660247210")
	logHighOffset = mustDec("291339464771989622907027621153398088495")
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("tickmath: bad hex constant " + s)
	}
	return v
}

func mustDec(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("tickmath: bad decimal constant " + s)
	}
	return v
}

func tickRangeErr(tick int) error {
	return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
		"tick": tick, "min": MinTick, "max": MaxTick,
	})
}

// ClampTick saturates tick to [MinTick, MaxTick]. Callers use it only where
// saturation is explicitly documented; every other path rejects out-of-range
// ticks instead.
func ClampTick(tick int) int {
	if tick < MinTick {
		return MinTick
	}
	if tick > MaxTick {
		return MaxTick
	}
	return tick
}

// TickToSqrtX96 returns sqrt(1.0001^tick) in Q64.96 fixed point.
func TickToSqrtX96(tick int) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, tickRangeErr(tick)
	}
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}
	ratio := new(big.Int)
	if absTick&1 != 0 {
		ratio.Set(oddTickSeed)
	} else {
		ratio.Set(evenSeed)
	}
	for i, mul := range ladder {
		if absTick&(1<<(uint(i)+1)) != 0 {
			ratio.Mul(ratio, mul)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Quo(maxUint256, ratio)
	}
	// Q128.128 -> Q64.96, rounding up.
	rem := new(big.Int).And(ratio, mustHex("ffffffff"))
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio, nil
}

// SqrtX96ToTick returns the largest tick whose sqrt price is <= sqrtX96. It is
// the floor inverse of TickToSqrtX96 via a base-2 fixed-point logarithm.
func SqrtX96ToTick(sqrtX96 *big.Int) (int, error) {
	if sqrtX96.Cmp(MinSqrtX96) < 0 || sqrtX96.Cmp(MaxSqrtX96) > 0 {
		return 0, derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"sqrtX96": sqrtX96.String(),
		})
	}
	ratio := new(big.Int).Lsh(sqrtX96, 32)
	msb := mathfp.MostSignificantBit(ratio)

	r := new(big.Int)
	if msb >= 128 {
		r.Rsh(ratio, uint(msb-127))
	} else {
		r.Lsh(ratio, uint(127-msb))
	}
	log2 := new(big.Int).Lsh(big.NewInt(int64(msb-128)), 64)

	f := new(big.Int)
	for i := 63; i >= 50; i-- {
		r.Mul(r, r)
		r.Rsh(r, 127)
		f.Rsh(r, 128)
		if f.Sign() != 0 {
			log2.Or(log2, new(big.Int).Lsh(f, uint(i)))
			r.Rsh(r, 1)
		}
	}

	logSqrt := new(big.Int).Mul(log2, logScale)
	tickLow := int(new(big.Int).Rsh(new(big.Int).Sub(logSqrt, logLowOffset), 128).Int64())
	tickHigh := int(new(big.Int).Rsh(new(big.Int).Add(logSqrt, logHighOffset), 128).Int64())
	if tickLow == tickHigh {
		return tickLow, nil
	}
	atHigh, err := TickToSqrtX96(ClampTick(tickHigh))
	if err != nil {
		return 0, err
	}
	if tickHigh <= MaxTick && atHigh.Cmp(sqrtX96) <= 0 {
		return tickHigh, nil
	}
	return tickLow, nil
}

// SqrtX96ToWad converts a square-root price to a linear WAD price, rounding
// up: wad = ceil(s^2 * 1e18 / 2^192).
func SqrtX96ToWad(sqrtX96 *big.Int) *big.Int {
	sq := new(big.Int).Mul(sqrtX96, sqrtX96)
	wad, _ := mathfp.MulDiv(sq, mathfp.Wad, mathfp.Q192, mathfp.RoundUp)
	return wad
}

// TickToWad computes 1.0001^tick in WAD scale. Strictly increasing in tick.
func TickToWad(tick int) (*big.Int, error) {
	s, err := TickToSqrtX96(tick)
	if err != nil {
		return nil, err
	}
	return SqrtX96ToWad(s), nil
}

// WadToTick is the floor inverse of TickToWad: the largest tick t with
// TickToWad(t) <= wad.
func WadToTick(wad *big.Int) (int, error) {
	if wad.Sign() <= 0 {
		return 0, derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"wad": wad.String(),
		})
	}
	scaled := new(big.Int).Lsh(wad, 192)
	scaled.Quo(scaled, mathfp.Wad)
	s, err := mathfp.Sqrt(scaled)
	if err != nil {
		return 0, err
	}
	if s.Cmp(MinSqrtX96) < 0 {
		s = new(big.Int).Set(MinSqrtX96)
	}
	if s.Cmp(MaxSqrtX96) > 0 {
		s = new(big.Int).Set(MaxSqrtX96)
	}
	return SqrtX96ToTick(s)
}

package mathfp

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpsim/internal/derr"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer literal: " + s)
	}
	return v
}

// eqBig compares big.Ints by value; reflect-based equality is unreliable for
// zero values with different internal representations.
func eqBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	assert.Equal(t, want.String(), got.String())
}

func TestWMulRounding(t *testing.T) {
	a := bi("1234567890123456789")
	b := bi("987654321098765432")

	t.Run("nearest", func(t *testing.T) {
		eqBig(t, bi("1219326311370217952"), WMul(a, b))
	})

	t.Run("up", func(t *testing.T) {
		eqBig(t, bi("1219326311370217953"), WMulUp(a, b))
	})

	t.Run("down", func(t *testing.T) {
		eqBig(t, bi("1219326311370217952"), WMulDown(a, b))
	})

	t.Run("exact product skips rounding", func(t *testing.T) {
		two := bi("2000000000000000000")
		three := bi("3000000000000000000")
		six := bi("6000000000000000000")
		eqBig(t, six, WMulDown(two, three))
		eqBig(t, six, WMul(two, three))
		eqBig(t, six, WMulUp(two, three))
	})

	t.Run("down <= nearest <= up", func(t *testing.T) {
		cases := [][2]*big.Int{
			{bi("1"), bi("1")},
			{bi("999999999999999999"), bi("3")},
			{bi("123456789"), bi("987654321")},
			{a, b},
		}
		for _, c := range cases {
			down, near, up := WMulDown(c[0], c[1]), WMul(c[0], c[1]), WMulUp(c[0], c[1])
			assert.LessOrEqual(t, down.Cmp(near), 0, "down > nearest for %s * %s", c[0], c[1])
			assert.LessOrEqual(t, near.Cmp(up), 0, "nearest > up for %s * %s", c[0], c[1])
			diff := new(big.Int).Sub(up, down)
			assert.LessOrEqual(t, diff.Int64(), int64(1))
		}
	})
}

func TestWDiv(t *testing.T) {
	t.Run("up vs down", func(t *testing.T) {
		a, b := bi("10"), bi("3000000000000000000")
		down, err := WDivDown(a, b)
		require.NoError(t, err)
		up, err := WDivUp(a, b)
		require.NoError(t, err)
		eqBig(t, big.NewInt(3), down)
		eqBig(t, big.NewInt(4), up)
	})

	t.Run("nearest rounds half away from zero", func(t *testing.T) {
		// 1 / 2 WAD-scaled = 0.5 => rounds to 1.
		got, err := WDiv(big.NewInt(1), bi("2000000000000000000"))
		require.NoError(t, err)
		eqBig(t, big.NewInt(1), got)
	})

	t.Run("zero denominator", func(t *testing.T) {
		_, err := WDiv(Wad, new(big.Int))
		require.Error(t, err)
		assert.Equal(t, derr.CodeZeroDenominator, derr.CodeOf(err))
		assert.True(t, derr.IsCalculation(err))
	})
}

func TestMulDiv(t *testing.T) {
	t.Run("zero denominator", func(t *testing.T) {
		_, err := MulDiv(big.NewInt(1), big.NewInt(1), new(big.Int), RoundDown)
		require.Error(t, err)
		assert.Equal(t, derr.CodeZeroDenominator, derr.CodeOf(err))
	})

	t.Run("negative round up goes away from zero", func(t *testing.T) {
		// -7/2 = -3.5: RoundUp moves away from zero to -4.
		got, err := MulDiv(big.NewInt(-7), big.NewInt(1), big.NewInt(2), RoundUp)
		require.NoError(t, err)
		eqBig(t, big.NewInt(-4), got)
	})

	t.Run("negative round down truncates toward zero", func(t *testing.T) {
		got, err := MulDiv(big.NewInt(-7), big.NewInt(1), big.NewInt(2), RoundDown)
		require.NoError(t, err)
		eqBig(t, big.NewInt(-3), got)
	})

	t.Run("nearest half away from zero", func(t *testing.T) {
		got, err := MulDiv(big.NewInt(-5), big.NewInt(1), big.NewInt(2), RoundNearest)
		require.NoError(t, err)
		eqBig(t, big.NewInt(-3), got)

		got, err = MulDiv(big.NewInt(5), big.NewInt(1), big.NewInt(2), RoundNearest)
		require.NoError(t, err)
		eqBig(t, big.NewInt(3), got)
	})
}

func TestWMulIntSigns(t *testing.T) {
	a := bi("1500000000000000001") // 1.5 + 1 ulp
	b := bi("1000000000000000000")

	cases := []struct {
		name string
		x, y *big.Int
		want *big.Int
	}{
		{"pos pos", a, b, bi("1500000000000000001")},
		{"neg pos", new(big.Int).Neg(a), b, bi("-1500000000000000001")},
		{"pos neg", a, new(big.Int).Neg(b), bi("-1500000000000000001")},
		{"neg neg", new(big.Int).Neg(a), new(big.Int).Neg(b), bi("1500000000000000001")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			eqBig(t, c.want, WMulInt(c.x, c.y))
		})
	}

	t.Run("truncates toward zero", func(t *testing.T) {
		// -3 * 0.5 truncated = -1, not -2.
		eqBig(t, big.NewInt(-1), WMulInt(big.NewInt(-3), HalfWad))
	})
}

func TestWDivInt(t *testing.T) {
	t.Run("zero denominator", func(t *testing.T) {
		_, err := WDivInt(Wad, new(big.Int))
		require.Error(t, err)
		assert.Equal(t, derr.CodeZeroDenominator, derr.CodeOf(err))
	})

	t.Run("negative truncation", func(t *testing.T) {
		got, err := WDivInt(big.NewInt(-1), bi("3000000000000000000"))
		require.NoError(t, err)
		eqBig(t, big.NewInt(0), got)
	})
}

func TestRatioToWad(t *testing.T) {
	eqBig(t, Wad, RatioToWad(RatioBase))
	eqBig(t, bi("100000000000000000"), RatioToWad(1000))
	eqBig(t, bi("10000000000000000000"), RatioToWad(100_000))
}

func TestHelpers(t *testing.T) {
	t.Run("abs and neg allocate", func(t *testing.T) {
		x := big.NewInt(-5)
		eqBig(t, big.NewInt(5), Abs(x))
		eqBig(t, big.NewInt(-5), x)
		eqBig(t, big.NewInt(5), Neg(x))
	})

	t.Run("min max", func(t *testing.T) {
		a, b := big.NewInt(1), big.NewInt(2)
		eqBig(t, big.NewInt(1), Min(a, b))
		eqBig(t, big.NewInt(2), Max(a, b))
		// Returned values must not alias the inputs.
		Min(a, b).SetInt64(99)
		eqBig(t, big.NewInt(1), a)
	})

	t.Run("clamp zero", func(t *testing.T) {
		eqBig(t, big.NewInt(0), ClampZero(big.NewInt(-7)))
		eqBig(t, big.NewInt(0), ClampZero(new(big.Int)))
		eqBig(t, big.NewInt(7), ClampZero(big.NewInt(7)))
	})
}

package tickmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer literal: " + s)
	}
	return v
}

func eqBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	assert.Equal(t, want.String(), got.String())
}

func TestTickToSqrtX96(t *testing.T) {
	cases := []struct {
		tick int
		want *big.Int
	}{
		{0, bi("79228162514264337593543950336")}, // 2^96
		{-12345, bi("42739035517269358503607398648")},
		{100, bi("79625275426524748796330556128")},
		{-100, bi("78833030112140176575862854579")},
		{MinTick, MinSqrtX96},
		{MaxTick, MaxSqrtX96},
	}
	for _, c := range cases {
		got, err := TickToSqrtX96(c.tick)
		require.NoError(t, err, "tick %d", c.tick)
		eqBig(t, c.want, got)
	}

	t.Run("out of range", func(t *testing.T) {
		for _, tick := range []int{MinTick - 1, MaxTick + 1} {
			_, err := TickToSqrtX96(tick)
			require.Error(t, err)
			assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
		}
	})

	t.Run("strictly increasing", func(t *testing.T) {
		ticks := []int{MinTick, -100000, -12345, -100, -1, 0, 1, 100, 12345, 100000, MaxTick}
		prev, err := TickToSqrtX96(ticks[0])
		require.NoError(t, err)
		for _, tick := range ticks[1:] {
			cur, err := TickToSqrtX96(tick)
			require.NoError(t, err)
			assert.Greater(t, cur.Cmp(prev), 0, "sqrt price must grow with tick (at %d)", tick)
			prev = cur
		}
	})
}

func TestSqrtX96ToTick(t *testing.T) {
	t.Run("floor inverse of tickToSqrtX96", func(t *testing.T) {
		ticks := []int{MinTick, -322516, -100000, -12345, -101, -100, -1, 0, 1, 99, 100, 12345, 443635, MaxTick}
		for _, tick := range ticks {
			s, err := TickToSqrtX96(tick)
			require.NoError(t, err)
			got, err := SqrtX96ToTick(s)
			require.NoError(t, err)
			assert.Equal(t, tick, got, "round trip at tick %d", tick)
		}
	})

	t.Run("one below the next tick still floors", func(t *testing.T) {
		s, err := TickToSqrtX96(101)
		require.NoError(t, err)
		got, err := SqrtX96ToTick(new(big.Int).Sub(s, big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, 100, got)
	})

	t.Run("out of range sqrt", func(t *testing.T) {
		_, err := SqrtX96ToTick(new(big.Int).Sub(MinSqrtX96, big.NewInt(1)))
		require.Error(t, err)
		_, err = SqrtX96ToTick(new(big.Int).Add(MaxSqrtX96, big.NewInt(1)))
		require.Error(t, err)
	})
}

func TestTickToWad(t *testing.T) {
	cases := []struct {
		tick int
		want *big.Int
	}{
		{0, mathfp.Wad},
		{-12345, bi("290998176220237461")},
		{100, bi("1010049662092876569")},
		{-100, bi("990050328741209482")},
	}
	for _, c := range cases {
		got, err := TickToWad(c.tick)
		require.NoError(t, err, "tick %d", c.tick)
		eqBig(t, c.want, got)
	}

	t.Run("out of range", func(t *testing.T) {
		_, err := TickToWad(MaxTick + 1)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
	})
}

func TestWadToTick(t *testing.T) {
	t.Run("floor inverse of tickToWad", func(t *testing.T) {
		ticks := []int{MinTick, -100000, -12345, -100, -1, 0, 1, 100, 12345, 100000, MaxTick}
		for _, tick := range ticks {
			wad, err := TickToWad(tick)
			require.NoError(t, err)
			got, err := WadToTick(wad)
			require.NoError(t, err)
			assert.Equal(t, tick, got, "round trip at tick %d", tick)
		}
	})

	t.Run("price between ticks floors", func(t *testing.T) {
		lo, err := TickToWad(100)
		require.NoError(t, err)
		hi, err := TickToWad(101)
		require.NoError(t, err)
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		got, err := WadToTick(mid)
		require.NoError(t, err)
		assert.Equal(t, 100, got)
	})

	t.Run("non-positive price", func(t *testing.T) {
		_, err := WadToTick(new(big.Int))
		require.Error(t, err)
		_, err = WadToTick(big.NewInt(-1))
		require.Error(t, err)
	})
}

func TestSqrtX96ToWad(t *testing.T) {
	eqBig(t, mathfp.Wad, SqrtX96ToWad(bi("79228162514264337593543950336")))
	// Rounds up: one above 2^96 squares to just over WAD.
	got := SqrtX96ToWad(bi("79228162514264337593543950337"))
	assert.Equal(t, 1, got.Cmp(mathfp.Wad))
}

func TestClampTick(t *testing.T) {
	assert.Equal(t, MinTick, ClampTick(MinTick-10))
	assert.Equal(t, MaxTick, ClampTick(MaxTick+10))
	assert.Equal(t, 42, ClampTick(42))
}

package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

func testSettingParams() SettingParams {
	return SettingParams{
		Symbol:                    "ETH-USDC",
		QuoteDecimals:             18,
		TradingFeeBps:             10,
		ProtocolFeeBps:            5,
		InitialMarginRatioBps:     1000,
		MaintenanceMarginRatioBps: 500,
		MinMarginAmount:           bi("100000000000000000"),
		Condition:                 ConditionNormal,
		FundingInterval:           3600,
		PearlSpacing:              1,
		OrderSpacing:              10,
		RangeSpacing:              10,
	}
}

func newTestSetting(t *testing.T) InstrumentSetting {
	t.Helper()
	s, err := NewInstrumentSetting(testSettingParams())
	require.NoError(t, err)
	return s
}

func TestConditionString(t *testing.T) {
	assert.Equal(t, "normal", ConditionNormal.String())
	assert.Equal(t, "frozen", ConditionFrozen.String())
	assert.Equal(t, "resolved", ConditionResolved.String())
	assert.Equal(t, "unknown", Condition(99).String())
}

func TestNewInstrumentSetting(t *testing.T) {
	t.Run("derived thresholds", func(t *testing.T) {
		s := newTestSetting(t)
		eqBig(t, bi("100000000000000000"), s.IMRWad())
		eqBig(t, bi("50000000000000000"), s.MMRWad())
		// 0.1 margin at 10% IMR supports 1 of value; orders need 2x, ranges 10x.
		eqBig(t, wad(1), s.MinTradeValue())
		eqBig(t, wad(2), s.MinOrderValue())
		eqBig(t, wad(10), s.MinRangeValue())
	})

	t.Run("scales with the margin floor", func(t *testing.T) {
		params := testSettingParams()
		params.MinMarginAmount = wad(100)
		s, err := NewInstrumentSetting(params)
		require.NoError(t, err)
		eqBig(t, wad(1000), s.MinTradeValue())
		eqBig(t, wad(2000), s.MinOrderValue())
		eqBig(t, wad(10000), s.MinRangeValue())
	})

	t.Run("rejects bad params", func(t *testing.T) {
		mutations := map[string]func(*SettingParams){
			"zero imr":            func(p *SettingParams) { p.InitialMarginRatioBps = 0 },
			"negative mmr":        func(p *SettingParams) { p.MaintenanceMarginRatioBps = -1 },
			"zero order spacing":  func(p *SettingParams) { p.OrderSpacing = 0 },
			"zero pearl spacing":  func(p *SettingParams) { p.PearlSpacing = 0 },
			"zero range spacing":  func(p *SettingParams) { p.RangeSpacing = 0 },
			"nil min margin":      func(p *SettingParams) { p.MinMarginAmount = nil },
			"negative min margin": func(p *SettingParams) { p.MinMarginAmount = big.NewInt(-1) },
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				params := testSettingParams()
				mutate(&params)
				_, err := NewInstrumentSetting(params)
				assert.Error(t, err)
			})
		}
	})
}

func TestTickAlignment(t *testing.T) {
	s := newTestSetting(t)

	t.Run("nearest", func(t *testing.T) {
		assert.Equal(t, 10, s.AlignOrderTick(14))
		assert.Equal(t, 20, s.AlignOrderTick(15))
		assert.Equal(t, -10, s.AlignOrderTick(-15))
		assert.Equal(t, -20, s.AlignOrderTick(-16))
		assert.Equal(t, 0, s.AlignOrderTick(0))
	})

	t.Run("strictly below", func(t *testing.T) {
		assert.Equal(t, -10, s.AlignTickStrictlyBelow(0))
		assert.Equal(t, -10, s.AlignTickStrictlyBelow(5))
		assert.Equal(t, 0, s.AlignTickStrictlyBelow(10))
		assert.Equal(t, 0, s.AlignTickStrictlyBelow(11))
	})

	t.Run("strictly above", func(t *testing.T) {
		assert.Equal(t, 10, s.AlignTickStrictlyAbove(0))
		assert.Equal(t, 20, s.AlignTickStrictlyAbove(5))
		assert.Equal(t, 20, s.AlignTickStrictlyAbove(10))
	})
}

func TestGetFeasibleLimitOrderTickRange(t *testing.T) {
	s := newTestSetting(t)
	mark := new(big.Int).Set(mathfp.Wad)

	t.Run("long side", func(t *testing.T) {
		rng, ok, err := s.GetFeasibleLimitOrderTickRange(true, 0, mark)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, -2230, rng.Lower)
		assert.Equal(t, -10, rng.Upper)
	})

	t.Run("short side", func(t *testing.T) {
		rng, ok, err := s.GetFeasibleLimitOrderTickRange(false, 0, mark)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 10, rng.Lower)
		assert.Equal(t, 1820, rng.Upper)
	})

	t.Run("amm tick below the deviation window leaves no room", func(t *testing.T) {
		_, ok, err := s.GetFeasibleLimitOrderTickRange(true, -2300, mark)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("full-width window falls back to the global lower bound", func(t *testing.T) {
		// At 50% initial margin the 2x window is 100% of mark, so the buy-side
		// price floor vanishes and only the tick domain constrains.
		params := testSettingParams()
		params.InitialMarginRatioBps = 5000
		wide, err := NewInstrumentSetting(params)
		require.NoError(t, err)

		rng, ok, err := wide.GetFeasibleLimitOrderTickRange(true, 0, mark)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, -322510, rng.Lower)
		assert.Equal(t, -10, rng.Upper)
		assert.GreaterOrEqual(t, rng.Lower, tickmath.MinTick)
	})

	t.Run("spacing wider than the window leaves no aligned tick", func(t *testing.T) {
		// The 2x window spans roughly +-2230 ticks around mark; a 10000-tick
		// spacing has no multiple inside it on either side.
		params := testSettingParams()
		params.OrderSpacing = 10_000
		coarse, err := NewInstrumentSetting(params)
		require.NoError(t, err)

		for _, long := range []bool{true, false} {
			_, ok, err := coarse.GetFeasibleLimitOrderTickRange(long, 0, mark)
			require.NoError(t, err)
			assert.False(t, ok)
		}
	})

	t.Run("every returned bound is itself valid", func(t *testing.T) {
		for _, long := range []bool{true, false} {
			rng, ok, err := s.GetFeasibleLimitOrderTickRange(long, 0, mark)
			require.NoError(t, err)
			require.True(t, ok)
			assert.NoError(t, s.IsTickValidForLimitOrder(rng.Lower, long, 0, mark))
			assert.NoError(t, s.IsTickValidForLimitOrder(rng.Upper, long, 0, mark))
		}
	})
}

func TestIsTickValidForLimitOrder(t *testing.T) {
	s := newTestSetting(t)
	mark := new(big.Int).Set(mathfp.Wad)

	t.Run("accepts ticks on the correct side", func(t *testing.T) {
		assert.NoError(t, s.IsTickValidForLimitOrder(-10, true, 0, mark))
		assert.NoError(t, s.IsTickValidForLimitOrder(10, false, 0, mark))
	})

	t.Run("wrong side of the amm tick", func(t *testing.T) {
		err := s.IsTickValidForLimitOrder(0, true, 0, mark)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))

		err = s.IsTickValidForLimitOrder(0, false, 0, mark)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
	})

	t.Run("misaligned", func(t *testing.T) {
		err := s.IsTickValidForLimitOrder(-15, true, 0, mark)
		require.Error(t, err)
		assert.Equal(t, derr.CodeMisalignedTick, derr.CodeOf(err))
	})

	t.Run("outside global bounds", func(t *testing.T) {
		err := s.IsTickValidForLimitOrder(tickmath.MinTick-10, true, 0, mark)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
	})

	t.Run("deviates beyond twice the initial margin ratio", func(t *testing.T) {
		// tick -3000 prices near 0.74, a 26% discount against a 20% window.
		err := s.IsTickValidForLimitOrder(-3000, true, 0, mark)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
	})
}

func TestIsRangeTickPairValid(t *testing.T) {
	s := newTestSetting(t)

	assert.NoError(t, s.IsRangeTickPairValid(-100, 100))

	t.Run("unordered", func(t *testing.T) {
		err := s.IsRangeTickPairValid(100, -100)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))

		err = s.IsRangeTickPairValid(100, 100)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
	})

	t.Run("outside global bounds", func(t *testing.T) {
		err := s.IsRangeTickPairValid(tickmath.MinTick-10, 100)
		require.Error(t, err)
		assert.Equal(t, derr.CodeTickOutOfRange, derr.CodeOf(err))
	})

	t.Run("misaligned", func(t *testing.T) {
		err := s.IsRangeTickPairValid(-105, 100)
		require.Error(t, err)
		assert.Equal(t, derr.CodeMisalignedTick, derr.CodeOf(err))
	})
}

package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

// Condition is the administrative state of an instrument.
type Condition int

const (
	ConditionNormal Condition = iota
	ConditionFrozen
	ConditionResolved
)

func (c Condition) String() string {
	switch c {
	case ConditionNormal:
		return "normal"
	case ConditionFrozen:
		return "frozen"
	case ConditionResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// SettingParams is the raw per-market configuration an InstrumentSetting is
// built from. It is what the fetch collaborator reads off chain.
type SettingParams struct {
	Symbol string
	Base   common.Address
	Quote  common.Address
	Market common.Address

	QuoteDecimals  uint8
	TradingFeeBps  int64
	ProtocolFeeBps int64

	InitialMarginRatioBps     int64
	MaintenanceMarginRatioBps int64
	MinMarginAmount           *big.Int

	Condition   Condition
	PlacePaused bool

	FundingInterval int64 // seconds

	PearlSpacing int
	OrderSpacing int
	RangeSpacing int
}

// InstrumentSetting is the immutable per-market static configuration with its
// derived thresholds cached. It is rebuilt whenever the underlying setting,
// condition or spacing changes; a stale cache is never patched in place.
type InstrumentSetting struct {
	SettingParams

	imrWad *big.Int
	mmrWad *big.Int

	minTradeValue *big.Int
	minOrderValue *big.Int
	minRangeValue *big.Int
}

// NewInstrumentSetting validates params and computes the derived thresholds:
// minTradeValue = minMarginAmount / IMR, minOrderValue = 2x, minRangeValue =
// 10x.
func NewInstrumentSetting(params SettingParams) (InstrumentSetting, error) {
	if params.InitialMarginRatioBps <= 0 || params.MaintenanceMarginRatioBps <= 0 {
		return InstrumentSetting{}, fmt.Errorf("domain: instrument %s: non-positive margin ratio", params.Symbol)
	}
	if params.OrderSpacing <= 0 || params.PearlSpacing <= 0 || params.RangeSpacing <= 0 {
		return InstrumentSetting{}, fmt.Errorf("domain: instrument %s: non-positive tick spacing", params.Symbol)
	}
	if params.MinMarginAmount == nil || params.MinMarginAmount.Sign() < 0 {
		return InstrumentSetting{}, fmt.Errorf("domain: instrument %s: bad min margin amount", params.Symbol)
	}
	s := InstrumentSetting{
		SettingParams: params,
		imrWad:        mathfp.RatioToWad(params.InitialMarginRatioBps),
		mmrWad:        mathfp.RatioToWad(params.MaintenanceMarginRatioBps),
	}
	minTrade, err := mathfp.WDivUp(params.MinMarginAmount, s.imrWad)
	if err != nil {
		return InstrumentSetting{}, err
	}
	s.minTradeValue = minTrade
	s.minOrderValue = new(big.Int).Lsh(minTrade, 1)
	s.minRangeValue = new(big.Int).Mul(minTrade, big.NewInt(10))
	return s, nil
}

// IMRWad is the initial margin ratio in WAD.
func (s InstrumentSetting) IMRWad() *big.Int { return s.imrWad }

// MMRWad is the maintenance margin ratio in WAD.
func (s InstrumentSetting) MMRWad() *big.Int { return s.mmrWad }

// MinTradeValue is the smallest tradable quote value.
func (s InstrumentSetting) MinTradeValue() *big.Int { return s.minTradeValue }

// MinOrderValue is the smallest limit-order quote value (2x the trade floor).
func (s InstrumentSetting) MinOrderValue() *big.Int { return s.minOrderValue }

// MinRangeValue is the smallest range quote value (10x the trade floor).
func (s InstrumentSetting) MinRangeValue() *big.Int { return s.minRangeValue }

// floorDiv is integer division rounding toward negative infinity, needed for
// negative ticks.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// AlignOrderTick rounds tick to the nearest order-spacing multiple (half
// rounds toward positive infinity).
func (s InstrumentSetting) AlignOrderTick(tick int) int {
	return floorDiv(tick+s.OrderSpacing/2, s.OrderSpacing) * s.OrderSpacing
}

// AlignTickStrictlyBelow returns the greatest order-spacing multiple that is
// strictly below ref and at least one spacing away from it.
func (s InstrumentSetting) AlignTickStrictlyBelow(ref int) int {
	return floorDiv(ref-s.OrderSpacing, s.OrderSpacing) * s.OrderSpacing
}

// AlignTickStrictlyAbove returns the smallest order-spacing multiple that is
// strictly above ref and at least one spacing away from it.
func (s InstrumentSetting) AlignTickStrictlyAbove(ref int) int {
	return -floorDiv(-(ref + s.OrderSpacing), s.OrderSpacing) * s.OrderSpacing
}

// TickRange is an inclusive, spacing-aligned tick interval.
type TickRange struct {
	Lower int
	Upper int
}

// GetFeasibleLimitOrderTickRange intersects three constraints on a resting
// order's tick: side-correct ordering versus the AMM tick, a maximum price
// deviation of 2*IMR from the mark price, and the global tick bounds. It
// returns the aligned inclusive range, or ok == false when no aligned tick
// satisfies all three.
func (s InstrumentSetting) GetFeasibleLimitOrderTickRange(long bool, ammTick int, markPrice *big.Int) (TickRange, bool, error) {
	window := new(big.Int).Lsh(s.imrWad, 1)

	if long {
		// Buy orders rest below the AMM tick, no lower than mark*(1-2*imr).
		// A non-positive floor (window >= 100%) admits every price, so only
		// the global lower bound constrains.
		lower := -floorDiv(-tickmath.MinTick, s.OrderSpacing) * s.OrderSpacing
		floorPrice := mathfp.WMulUp(markPrice, new(big.Int).Sub(mathfp.Wad, window))
		if floorPrice.Sign() > 0 {
			lowTick, err := tickmath.WadToTick(floorPrice)
			if err != nil {
				return TickRange{}, false, err
			}
			// WadToTick floors; bump when its price actually sits below the window.
			atLow, err := tickmath.TickToWad(lowTick)
			if err != nil {
				return TickRange{}, false, err
			}
			if atLow.Cmp(floorPrice) < 0 {
				lowTick++
			}
			if aligned := -floorDiv(-lowTick, s.OrderSpacing) * s.OrderSpacing; aligned > lower {
				lower = aligned
			}
		}
		upper := s.AlignTickStrictlyBelow(ammTick)
		if lower > upper || upper > tickmath.MaxTick {
			return TickRange{}, false, nil
		}
		return TickRange{Lower: lower, Upper: upper}, true, nil
	}

	// Sell orders rest above the AMM tick, no higher than mark*(1+2*imr).
	capPrice := mathfp.WMulDown(markPrice, new(big.Int).Add(mathfp.Wad, window))
	highTick, err := tickmath.WadToTick(capPrice)
	if err != nil {
		return TickRange{}, false, err
	}
	lower := s.AlignTickStrictlyAbove(ammTick)
	upper := floorDiv(highTick, s.OrderSpacing) * s.OrderSpacing // align down
	if upper > tickmath.MaxTick {
		upper = floorDiv(tickmath.MaxTick, s.OrderSpacing) * s.OrderSpacing
	}
	if lower > upper || lower < tickmath.MinTick {
		return TickRange{}, false, nil
	}
	return TickRange{Lower: lower, Upper: upper}, true, nil
}

// IsTickValidForLimitOrder applies the same constraints as
// GetFeasibleLimitOrderTickRange to a single candidate tick and reports the
// first violated one.
func (s InstrumentSetting) IsTickValidForLimitOrder(tick int, long bool, ammTick int, markPrice *big.Int) error {
	if tick < tickmath.MinTick || tick > tickmath.MaxTick {
		return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"tick": tick, "reason": "tick outside global bounds",
		})
	}
	if tick%s.OrderSpacing != 0 {
		return derr.NewValidationError(derr.CodeMisalignedTick, map[string]any{
			"tick": tick, "spacing": s.OrderSpacing,
			"reason": "tick not aligned to order spacing",
		})
	}
	if long && tick > ammTick-s.OrderSpacing {
		return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"tick": tick, "ammTick": ammTick,
			"reason": "buy order must rest at least one spacing below the amm tick",
		})
	}
	if !long && tick < ammTick+s.OrderSpacing {
		return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"tick": tick, "ammTick": ammTick,
			"reason": "sell order must rest at least one spacing above the amm tick",
		})
	}
	price, err := tickmath.TickToWad(tick)
	if err != nil {
		return err
	}
	window := new(big.Int).Lsh(s.imrWad, 1)
	deviation := new(big.Int).Sub(price, markPrice)
	deviation.Abs(deviation)
	if deviation.Cmp(mathfp.WMulDown(markPrice, window)) > 0 {
		return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"tick": tick, "price": price.String(), "mark": markPrice.String(),
			"reason": "order price deviates more than 2x the initial margin ratio from mark",
		})
	}
	return nil
}

// IsRangeTickPairValid checks a liquidity range's ticks: aligned to the range
// spacing, ordered, and inside the global bounds.
func (s InstrumentSetting) IsRangeTickPairValid(tickLower, tickUpper int) error {
	if tickLower >= tickUpper {
		return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"tickLower": tickLower, "tickUpper": tickUpper,
			"reason": "lower tick must be below upper tick",
		})
	}
	if tickLower < tickmath.MinTick || tickUpper > tickmath.MaxTick {
		return derr.NewValidationError(derr.CodeTickOutOfRange, map[string]any{
			"tickLower": tickLower, "tickUpper": tickUpper,
			"reason": "range outside global bounds",
		})
	}
	if tickLower%s.RangeSpacing != 0 || tickUpper%s.RangeSpacing != 0 {
		return derr.NewValidationError(derr.CodeMisalignedTick, map[string]any{
			"tickLower": tickLower, "tickUpper": tickUpper, "spacing": s.RangeSpacing,
			"reason": "range ticks not aligned to range spacing",
		})
	}
	return nil
}

package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
)

// PriceData bundles the external price observations of one snapshot.
type PriceData struct {
	Mark      *big.Int
	Spot      *big.Int
	Benchmark *big.Int
}

// QuoteState is the trader's quote-token funding picture: margin already in
// the vault (reserve), wallet balance, and the spender allowance granted to
// the market.
type QuoteState struct {
	Reserve       *big.Int
	WalletBalance *big.Int
	Allowance     *big.Int
}

// Quotation is the market's answer to a size query: the entry notional and
// fee the trade would settle at, and the post-trade price. Present on a
// snapshot only when a trade size was queried.
type Quotation struct {
	Size          *big.Int
	EntryNotional *big.Int
	Fee           *big.Int
	PostTick      int
	SqrtPostPX96  *big.Int
	Benchmark     *big.Int
}

// Portfolio is the trader's footprint at one market: the cross position, the
// resting orders and ranges by identity key, and the partial-fill ledger
// (taken base amount per order key).
type Portfolio struct {
	Position   Position
	Orders     map[uint64]Order
	Ranges     map[uint64]Range
	OrderTaken map[uint64]*big.Int
}

// Taken returns the filled amount recorded for an order key, zero when none.
func (p Portfolio) Taken(key uint64) *big.Int {
	if t, ok := p.OrderTaken[key]; ok && t != nil {
		return t
	}
	return new(big.Int)
}

// HasOrderAtTick reports whether any resting order occupies the given tick.
func (p Portfolio) HasOrderAtTick(tick int) bool {
	for _, o := range p.Orders {
		if o.Tick == tick {
			return true
		}
	}
	return false
}

// PairSnapshot is the aggregate root: one observation of (instrument, expiry,
// trader, block) combining market state, prices, the trader's portfolio and
// quote funding, an optional quotation, and the instrument setting. All
// modification goes through With, which always rebuilds the InstrumentSetting
// from its raw params so a stale derived cache can never leak.
type PairSnapshot struct {
	Setting   InstrumentSetting
	Amm       *Amm
	Price     PriceData
	Portfolio Portfolio
	Quote     QuoteState
	Quotation *Quotation

	Trader      common.Address
	BlockNumber uint64
}

// SnapshotOverrides carries the fields With replaces. Nil fields keep the
// current value.
type SnapshotOverrides struct {
	Params    *SettingParams
	Amm       *Amm
	Price     *PriceData
	Portfolio *Portfolio
	Quote     *QuoteState
	Quotation *Quotation
}

// NewPairSnapshot builds a snapshot, deriving the InstrumentSetting from raw
// params.
func NewPairSnapshot(params SettingParams, amm *Amm, price PriceData, portfolio Portfolio, quote QuoteState, trader common.Address, block uint64) (PairSnapshot, error) {
	setting, err := NewInstrumentSetting(params)
	if err != nil {
		return PairSnapshot{}, err
	}
	return PairSnapshot{
		Setting:     setting,
		Amm:         amm,
		Price:       price,
		Portfolio:   portfolio,
		Quote:       quote,
		Trader:      trader,
		BlockNumber: block,
	}, nil
}

// With returns a copy of the snapshot with the overrides applied. The
// InstrumentSetting is always recomputed from the (possibly overridden) raw
// params rather than cached.
func (s PairSnapshot) With(ov SnapshotOverrides) (PairSnapshot, error) {
	out := s
	params := s.Setting.SettingParams
	if ov.Params != nil {
		params = *ov.Params
	}
	setting, err := NewInstrumentSetting(params)
	if err != nil {
		return PairSnapshot{}, err
	}
	out.Setting = setting
	if ov.Amm != nil {
		out.Amm = ov.Amm
	}
	if ov.Price != nil {
		out.Price = *ov.Price
	}
	if ov.Portfolio != nil {
		out.Portfolio = *ov.Portfolio
	}
	if ov.Quote != nil {
		out.Quote = *ov.Quote
	}
	if ov.Quotation != nil {
		out.Quotation = ov.Quotation
	}
	return out, nil
}

// IsTradable reports whether trades can execute: the instrument must be in
// normal condition and the AMM trading or settling.
func (s PairSnapshot) IsTradable() bool {
	return s.Setting.Condition == ConditionNormal &&
		(s.Amm.Status == StatusTrading || s.Amm.Status == StatusSettling)
}

// IsAddLiquidityAllowed additionally permits a dormant AMM, so the first
// liquidity provision can bootstrap the market.
func (s PairSnapshot) IsAddLiquidityAllowed() bool {
	return s.Setting.Condition == ConditionNormal &&
		(s.Amm.Status == StatusDormant || s.Amm.Status == StatusTrading || s.Amm.Status == StatusSettling)
}

// IsOrderPlacementTradable adds the placement pause flag on top of
// IsTradable.
func (s PairSnapshot) IsOrderPlacementTradable() bool {
	return s.IsTradable() && !s.Setting.PlacePaused
}

// GateError explains a failed tradability gate: an abnormal instrument
// condition takes precedence over the AMM lifecycle status.
func (s PairSnapshot) GateError() error {
	if s.Setting.Condition != ConditionNormal {
		return derr.NewSimulationError(derr.CodeWrongCondition, map[string]any{
			"condition": s.Setting.Condition.String(),
		})
	}
	return derr.NewSimulationError(derr.CodeNotTradable, map[string]any{
		"status": s.Amm.Status.String(),
	})
}

// ValidatePlaceParam runs the full pre-flight for a resting order: non-zero
// size, order-placement tradability, tick feasibility (including no existing
// order at the tick), fair/mark deviation within IMR, margin at least the
// max-leverage minimum, and order value above the floor.
func (s PairSnapshot) ValidatePlaceParam(tick int, size, margin, maxLeverageWad *big.Int) error {
	if size.Sign() == 0 {
		return derr.NewValidationError(derr.CodeZeroSize, nil)
	}
	if !s.IsOrderPlacementTradable() {
		if s.IsTradable() && s.Setting.PlacePaused {
			return derr.NewSimulationError(derr.CodePlacementPaused, nil)
		}
		return s.GateError()
	}
	long := size.Sign() > 0
	if err := s.Setting.IsTickValidForLimitOrder(tick, long, s.Amm.Tick, s.Price.Mark); err != nil {
		return err
	}
	if s.Portfolio.HasOrderAtTick(tick) {
		return derr.NewValidationError(derr.CodeOrderExists, map[string]any{"tick": tick})
	}

	fair := s.Amm.FairPrice()
	deviation := new(big.Int).Sub(fair, s.Price.Mark)
	deviation.Abs(deviation)
	if deviation.Cmp(mathfp.WMulUp(s.Price.Mark, s.Setting.IMRWad())) > 0 {
		return derr.NewSimulationError(derr.CodePriceDeviated, map[string]any{
			"fair": fair.String(), "mark": s.Price.Mark.String(),
		})
	}

	order, err := NewOrder(margin, size, tick, 0)
	if err != nil {
		return err
	}
	minMargin, err := order.MarginForLeverage(s.Price.Mark, maxLeverageWad, 0)
	if err != nil {
		return err
	}
	if margin.Cmp(minMargin) < 0 {
		return derr.NewValidationError(derr.CodeInsufficientMargin, map[string]any{
			"margin": margin.String(), "min": minMargin.String(),
		})
	}
	if order.Value().Cmp(s.Setting.MinOrderValue()) < 0 {
		return derr.NewValidationError(derr.CodeBelowMinValue, map[string]any{
			"value": order.Value().String(), "min": s.Setting.MinOrderValue().String(),
		})
	}
	return nil
}

// ValidateTradeContext gates a market trade on the benchmark deviation rule:
// when the fair price already deviates from benchmark beyond the maintenance
// margin tolerance, only trades that move the price back toward benchmark are
// allowed. A position newly opened from flat must also meet the minimum trade
// value. The check is direction-sensitive by design.
func (s PairSnapshot) ValidateTradeContext(tradeSize *big.Int) error {
	if tradeSize.Sign() == 0 {
		return derr.NewValidationError(derr.CodeZeroSize, nil)
	}
	if !s.IsTradable() {
		return s.GateError()
	}

	benchmark := s.Price.Benchmark
	fair := s.Amm.FairPrice()
	deviation := new(big.Int).Sub(fair, benchmark)
	tolerance := mathfp.WMulUp(benchmark, s.Setting.MMRWad())
	if mathfp.Abs(deviation).Cmp(tolerance) > 0 {
		// Deviated market: a buy pushes fair up, a sell pushes it down.
		increases := (deviation.Sign() > 0) == (tradeSize.Sign() > 0)
		if increases {
			return derr.NewSimulationError(derr.CodePriceDeviated, map[string]any{
				"fair": fair.String(), "benchmark": benchmark.String(),
			})
		}
	}

	if s.Portfolio.Position.IsFlat() {
		value := mathfp.WMul(s.Price.Mark, mathfp.Abs(tradeSize))
		if value.Cmp(s.Setting.MinTradeValue()) < 0 {
			return derr.NewValidationError(derr.CodeBelowMinValue, map[string]any{
				"value": value.String(), "min": s.Setting.MinTradeValue().String(),
			})
		}
	}
	return nil
}

// MarginCheck reports how far the trader's funding falls short of a margin
// requirement. By construction at most one gap is nonzero: when the combined
// reserve and wallet balance cover the requirement only an allowance
// shortfall (if any) is reported; otherwise the margin shortfall is reported
// and the allowance gap is zero.
type MarginCheck struct {
	AllowanceGap *big.Int
	MarginGap    *big.Int
}

// CheckMargin evaluates the required vault margin against reserve, wallet
// balance and allowance.
func (s PairSnapshot) CheckMargin(required *big.Int) MarginCheck {
	zero := func() *big.Int { return new(big.Int) }
	if required.Sign() <= 0 || required.Cmp(s.Quote.Reserve) <= 0 {
		return MarginCheck{AllowanceGap: zero(), MarginGap: zero()}
	}
	topUp := new(big.Int).Sub(required, s.Quote.Reserve)
	total := new(big.Int).Add(s.Quote.Reserve, s.Quote.WalletBalance)
	if total.Cmp(required) >= 0 {
		gap := new(big.Int).Sub(topUp, s.Quote.Allowance)
		return MarginCheck{AllowanceGap: mathfp.ClampZero(gap), MarginGap: zero()}
	}
	return MarginCheck{AllowanceGap: zero(), MarginGap: new(big.Int).Sub(required, total)}
}

// UpdateAmmFundingIndex returns a copy of the snapshot whose AMM funding
// indices are accrued to the caller-supplied timestamp. The wall clock is
// never read internally, keeping simulation reproducible.
func (s PairSnapshot) UpdateAmmFundingIndex(timestamp int64) PairSnapshot {
	out := s
	out.Amm = s.Amm.WithFundingAccrued(s.Setting.FundingInterval, s.Price.Mark, timestamp)
	return out
}

package domain

import (
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

// Position is a margin account at one market: signed margin balance, signed
// base size (0 = flat) and the quote entry notional with the funding and
// social-loss index checkpoints taken at entry. Invariant: size == 0 implies
// entryNotional == 0. A position has no identity beyond its field values;
// "destruction" is replacement by a newly computed value.
type Position struct {
	Balance              *big.Int
	Size                 *big.Int
	EntryNotional        *big.Int
	EntrySocialLossIndex *big.Int
	EntryFundingIndex    *big.Int
}

// EmptyPosition returns a flat position with zero balance.
func EmptyPosition() Position {
	return Position{
		Balance:              new(big.Int),
		Size:                 new(big.Int),
		EntryNotional:        new(big.Int),
		EntrySocialLossIndex: new(big.Int),
		EntryFundingIndex:    new(big.Int),
	}
}

// IsFlat reports whether the position has no exposure.
func (p Position) IsFlat() bool { return p.Size.Sign() == 0 }

// IsLong reports whether the position size is positive.
func (p Position) IsLong() bool { return p.Size.Sign() > 0 }

// sideFundingIndex returns the AMM funding index for the given side.
func sideFundingIndex(amm *Amm, long bool) *big.Int {
	if long {
		return amm.LongFundingIndex
	}
	return amm.ShortFundingIndex
}

func sideSocialLossIndex(amm *Amm, long bool) *big.Int {
	if long {
		return amm.LongSocialLossIndex
	}
	return amm.ShortSocialLossIndex
}

// FundingFee is the size-weighted funding index delta accrued since entry,
// signed: positive is a credit to the position. Zero for non-perpetual
// markets and flat positions.
func (p Position) FundingFee(amm *Amm) *big.Int {
	if !amm.IsPerpetual() || p.IsFlat() {
		return new(big.Int)
	}
	delta := new(big.Int).Sub(sideFundingIndex(amm, p.IsLong()), p.EntryFundingIndex)
	return mathfp.WMulInt(delta, mathfp.Abs(p.Size))
}

// SocialLoss is the size-weighted social-loss index delta since entry,
// rounded up. Always a non-negative charge against the position.
func (p Position) SocialLoss(amm *Amm) *big.Int {
	if p.IsFlat() {
		return new(big.Int)
	}
	delta := new(big.Int).Sub(sideSocialLossIndex(amm, p.IsLong()), p.EntrySocialLossIndex)
	if delta.Sign() <= 0 {
		return new(big.Int)
	}
	return mathfp.WMulUp(delta, mathfp.Abs(p.Size))
}

// PricePnl is the unrealized price P&L at the given WAD price: notional minus
// entry notional for longs, mirrored for shorts.
func (p Position) PricePnl(price *big.Int) *big.Int {
	if p.IsFlat() {
		return new(big.Int)
	}
	notional := mathfp.WMul(price, mathfp.Abs(p.Size))
	if p.IsLong() {
		return notional.Sub(notional, p.EntryNotional)
	}
	return new(big.Int).Sub(p.EntryNotional, notional)
}

// Pnl is the full unrealized P&L: price P&L plus funding credit minus social
// loss.
func (p Position) Pnl(amm *Amm, price *big.Int) *big.Int {
	pnl := p.PricePnl(price)
	pnl.Add(pnl, p.FundingFee(amm))
	pnl.Sub(pnl, p.SocialLoss(amm))
	return pnl
}

// Equity is balance plus unrealized P&L. With increase set (adding to an
// existing position in the same direction) only unrealized loss counts:
// unrealized profit cannot inflate the margin available for position growth.
func (p Position) Equity(amm *Amm, price *big.Int, increase bool) *big.Int {
	pnl := p.Pnl(amm, price)
	if increase && pnl.Sign() > 0 {
		pnl.SetInt64(0)
	}
	return pnl.Add(pnl, p.Balance)
}

// Leverage is notional divided by equity in WAD, 0 for a flat position or
// non-positive equity.
func (p Position) Leverage(amm *Amm, price *big.Int) *big.Int {
	if p.IsFlat() {
		return new(big.Int)
	}
	equity := p.Equity(amm, price, false)
	if equity.Sign() <= 0 {
		return new(big.Int)
	}
	notional := mathfp.WMul(price, mathfp.Abs(p.Size))
	lev, _ := mathfp.WDivDown(notional, equity)
	return lev
}

// MaxWithdrawable is the margin that can be removed while keeping the
// position initial-margin safe at the given price: balance plus unrealized
// loss (profit capped at zero) minus the IMR requirement, floored at zero.
func (p Position) MaxWithdrawable(amm *Amm, imrBps int64, price *big.Int) *big.Int {
	avail := new(big.Int).Set(p.Balance)
	pnl := p.Pnl(amm, price)
	if pnl.Sign() < 0 {
		avail.Add(avail, pnl)
	}
	if !p.IsFlat() {
		notional := mathfp.WMul(price, mathfp.Abs(p.Size))
		avail.Sub(avail, mathfp.WMulUp(mathfp.RatioToWad(imrBps), notional))
	}
	return mathfp.ClampZero(avail)
}

// IsIMRSafe reports whether equity covers the initial margin requirement. The
// increase qualifier applies the Equity increase rule.
func (p Position) IsIMRSafe(amm *Amm, price *big.Int, imrBps int64, increase bool) bool {
	return p.isMarginSafe(amm, price, imrBps, increase)
}

// IsMMRSafe reports whether equity covers the maintenance margin requirement.
func (p Position) IsMMRSafe(amm *Amm, price *big.Int, mmrBps int64) bool {
	return p.isMarginSafe(amm, price, mmrBps, false)
}

func (p Position) isMarginSafe(amm *Amm, price *big.Int, ratioBps int64, increase bool) bool {
	if p.IsFlat() {
		return p.Balance.Sign() >= 0
	}
	notional := mathfp.WMul(price, mathfp.Abs(p.Size))
	required := mathfp.WMulUp(mathfp.RatioToWad(ratioBps), notional)
	return p.Equity(amm, price, increase).Cmp(required) >= 0
}

// LiquidationPrice solves equity(price) == mmr * notional(price) for price.
// Longs are liquidated by falling prices, shorts by rising ones; the two
// sides use mirrored numerators and opposite rounding so the reported price
// is always the conservative one. Returns 0 for a flat position or when the
// numerator is non-positive (no liquidation risk in that direction).
func (p Position) LiquidationPrice(amm *Amm, mmrBps int64) *big.Int {
	if p.IsFlat() {
		return new(big.Int)
	}
	mmr := mathfp.RatioToWad(mmrBps)
	absSize := mathfp.Abs(p.Size)
	funding := p.FundingFee(amm)
	socialLoss := p.SocialLoss(amm)

	if p.IsLong() {
		// balance + size*p - entryNotional + funding - socialLoss = mmr*size*p
		num := new(big.Int).Set(p.EntryNotional)
		num.Add(num, socialLoss)
		num.Sub(num, funding)
		num.Sub(num, p.Balance)
		if num.Sign() <= 0 {
			return new(big.Int)
		}
		denom := mathfp.WMulDown(absSize, new(big.Int).Sub(mathfp.Wad, mmr))
		if denom.Sign() <= 0 {
			return new(big.Int)
		}
		price, _ := mathfp.WDivUp(num, denom)
		return price
	}

	// balance + entryNotional - |size|*p + funding - socialLoss = mmr*|size|*p
	num := new(big.Int).Set(p.Balance)
	num.Add(num, p.EntryNotional)
	num.Add(num, funding)
	num.Sub(num, socialLoss)
	if num.Sign() <= 0 {
		return new(big.Int)
	}
	denom := mathfp.WMulUp(absSize, new(big.Int).Add(mathfp.Wad, mmr))
	price, _ := mathfp.WDivDown(num, denom)
	return price
}

// MarginForTargetLeverage computes the margin to deposit (positive) or
// withdraw (negative) so that leverage equals target after the hypothetical
// trade. Trade loss is taken conservatively against the worst-case limit-tick
// price versus mark. A full close is special-cased: the result is the
// non-negative amount needed to cover trade loss plus fee beyond current
// equity (remaining margin is swept by settlement, never withdrawn here).
func (p Position) MarginForTargetLeverage(amm *Amm, markPrice, tradeSize *big.Int, limitTick int, quotation *Quotation, targetLeverageWad *big.Int) (*big.Int, error) {
	if targetLeverageWad == nil || targetLeverageWad.Sign() <= 0 {
		return nil, derr.NewValidationError(derr.CodeBadLeverage, map[string]any{
			"leverage": stringOrNil(targetLeverageWad),
		})
	}
	if quotation == nil {
		return nil, derr.NewSimulationError(derr.CodeMissingQuotation, nil)
	}
	worstPrice, err := tickmath.TickToWad(limitTick)
	if err != nil {
		return nil, err
	}

	// Conservative slippage loss: buying above mark or selling below mark.
	diff := new(big.Int).Sub(worstPrice, markPrice)
	if tradeSize.Sign() < 0 {
		diff.Neg(diff)
	}
	tradeLoss := new(big.Int)
	if diff.Sign() > 0 {
		tradeLoss = mathfp.WMulUp(diff, mathfp.Abs(tradeSize))
	}

	postSize := new(big.Int).Add(p.Size, tradeSize)
	increase := !p.IsFlat() && p.Size.Sign() == tradeSize.Sign()
	equity := p.Equity(amm, markPrice, increase)

	if postSize.Sign() == 0 {
		required := new(big.Int).Add(tradeLoss, quotation.Fee)
		required.Sub(required, equity)
		return mathfp.ClampZero(required), nil
	}

	postNotional := mathfp.WMul(markPrice, mathfp.Abs(postSize))
	needed, err := mathfp.WDivUp(postNotional, targetLeverageWad)
	if err != nil {
		return nil, err
	}
	projected := new(big.Int).Sub(equity, tradeLoss)
	projected.Sub(projected, quotation.Fee)
	return needed.Sub(needed, projected), nil
}

// CombineResult is the outcome of merging two positions: the merged position,
// the magnitude of offsetting size that was closed, and the P&L realized into
// the merged balance by the merge.
type CombineResult struct {
	Position   Position
	ClosedSize *big.Int
	Realized   *big.Int
}

// Combine merges two positions of the same account against one AMM
// observation. Funding and social loss are realized into each side's balance
// first (resetting the entry checkpoints), then sizes net against each other:
// same-direction sizes add notionals, opposite sizes close min(|a|,|b|) with
// both entry notionals reduced proportionally and the closed P&L equal to
// short-side closed notional minus long-side closed notional.
func Combine(amm *Amm, a, b Position) CombineResult {
	realized := new(big.Int)

	a = realizeCheckpoint(amm, a, realized)
	b = realizeCheckpoint(amm, b, realized)

	if a.IsFlat() || b.IsFlat() {
		survivor, other := a, b
		if a.IsFlat() {
			survivor, other = b, a
		}
		merged := clonePosition(survivor)
		merged.Balance.Add(merged.Balance, other.Balance)
		return CombineResult{Position: merged, ClosedSize: new(big.Int), Realized: realized}
	}

	if a.Size.Sign() == b.Size.Sign() {
		merged := clonePosition(a)
		merged.Balance.Add(merged.Balance, b.Balance)
		merged.Size.Add(merged.Size, b.Size)
		merged.EntryNotional.Add(merged.EntryNotional, b.EntryNotional)
		return CombineResult{Position: merged, ClosedSize: new(big.Int), Realized: realized}
	}

	long, short := a, b
	if a.Size.Sign() < 0 {
		long, short = b, a
	}
	longAbs := mathfp.Abs(long.Size)
	shortAbs := mathfp.Abs(short.Size)
	closed := mathfp.Min(longAbs, shortAbs)

	longClosedNotional, _ := mathfp.MulDiv(long.EntryNotional, closed, longAbs, mathfp.RoundDown)
	shortClosedNotional, _ := mathfp.MulDiv(short.EntryNotional, closed, shortAbs, mathfp.RoundDown)
	closePnl := new(big.Int).Sub(shortClosedNotional, longClosedNotional)
	realized.Add(realized, closePnl)

	netSize := new(big.Int).Add(long.Size, short.Size)
	merged := Position{
		Balance:       new(big.Int).Add(long.Balance, short.Balance),
		Size:          netSize,
		EntryNotional: new(big.Int),
	}
	merged.Balance.Add(merged.Balance, closePnl)

	if netSize.Sign() > 0 {
		merged.EntryNotional.Sub(long.EntryNotional, longClosedNotional)
	} else if netSize.Sign() < 0 {
		merged.EntryNotional.Sub(short.EntryNotional, shortClosedNotional)
	}
	survivorLong := netSize.Sign() >= 0
	merged.EntrySocialLossIndex = new(big.Int).Set(sideSocialLossIndex(amm, survivorLong))
	merged.EntryFundingIndex = new(big.Int).Set(sideFundingIndex(amm, survivorLong))

	return CombineResult{Position: merged, ClosedSize: closed, Realized: realized}
}

// realizeCheckpoint settles accrued funding and social loss into the balance
// and resets the entry indices to the AMM's current ones.
func realizeCheckpoint(amm *Amm, p Position, realized *big.Int) Position {
	out := clonePosition(p)
	if out.IsFlat() {
		return out
	}
	if amm.IsPerpetual() {
		fee := out.FundingFee(amm)
		out.Balance.Add(out.Balance, fee)
		realized.Add(realized, fee)
		out.EntryFundingIndex = new(big.Int).Set(sideFundingIndex(amm, out.IsLong()))
	}
	loss := out.SocialLoss(amm)
	if loss.Sign() > 0 {
		out.Balance.Sub(out.Balance, loss)
		realized.Sub(realized, loss)
	}
	out.EntrySocialLossIndex = new(big.Int).Set(sideSocialLossIndex(amm, out.IsLong()))
	return out
}

func clonePosition(p Position) Position {
	return Position{
		Balance:              new(big.Int).Set(p.Balance),
		Size:                 new(big.Int).Set(p.Size),
		EntryNotional:        new(big.Int).Set(p.EntryNotional),
		EntrySocialLossIndex: new(big.Int).Set(p.EntrySocialLossIndex),
		EntryFundingIndex:    new(big.Int).Set(p.EntryFundingIndex),
	}
}

func stringOrNil(x *big.Int) string {
	if x == nil {
		return "nil"
	}
	return x.String()
}

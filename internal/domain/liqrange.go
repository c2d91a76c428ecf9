package domain

import (
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

// Range is a concentrated-liquidity provision between two ticks: signed
// liquidity, the margin balance backing it, the sqrt price and fee index
// checkpointed at entry. Identity is pack(tickLower, tickUpper).
type Range struct {
	Liquidity     *big.Int
	Balance       *big.Int
	SqrtEntryPX96 *big.Int
	EntryFeeIndex *big.Int
	TickLower     int
	TickUpper     int
}

// PackRangeKey encodes (tickLower, tickUpper) into the 48-bit range identity.
func PackRangeKey(tickLower, tickUpper int) uint64 {
	return uint64(uint32(tickLower)&tickMask)<<orderTickBits | uint64(uint32(tickUpper)&tickMask)
}

// UnpackRangeKey decodes a 48-bit range key back into (tickLower, tickUpper).
func UnpackRangeKey(key uint64) (int, int, error) {
	if key >= 1<<orderKeyBits {
		return 0, 0, derr.NewValidationError(derr.CodeInvalidKey, map[string]any{
			"key": key,
		})
	}
	lower := int(key >> orderTickBits)
	if lower&tickSignBit != 0 {
		lower -= 1 << orderTickBits
	}
	upper := int(key & tickMask)
	if upper&tickSignBit != 0 {
		upper -= 1 << orderTickBits
	}
	return lower, upper, nil
}

// GetDeltaBase is the base-asset amount between two sqrt prices for the given
// liquidity magnitude: L * (sqrtB - sqrtA) * 2^96 / (sqrtA * sqrtB), with the
// requested rounding. sqrtA must be the smaller price.
func GetDeltaBase(sqrtA, sqrtB, liquidity *big.Int, mode mathfp.Rounding) (*big.Int, error) {
	num := new(big.Int).Lsh(liquidity, 96)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	denom := new(big.Int).Mul(sqrtA, sqrtB)
	return mathfp.MulDiv(num, diff, denom, mode)
}

// GetDeltaQuote is the quote-asset amount between two sqrt prices:
// L * (sqrtB - sqrtA) / 2^96, with the requested rounding.
func GetDeltaQuote(sqrtA, sqrtB, liquidity *big.Int, mode mathfp.Rounding) (*big.Int, error) {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	return mathfp.MulDiv(liquidity, diff, mathfp.Q96, mode)
}

// GetDeltaBaseAutoRound applies the sign convention of liquidity changes:
// additions (positive liquidity) round up, removals round down, always
// biasing in the protocol's favor. The returned amount is unsigned.
func GetDeltaBaseAutoRound(sqrtA, sqrtB, liquidity *big.Int) (*big.Int, error) {
	mode := mathfp.RoundUp
	if liquidity.Sign() < 0 {
		mode = mathfp.RoundDown
	}
	return GetDeltaBase(sqrtA, sqrtB, mathfp.Abs(liquidity), mode)
}

// GetDeltaQuoteAutoRound is GetDeltaBaseAutoRound for the quote amount.
func GetDeltaQuoteAutoRound(sqrtA, sqrtB, liquidity *big.Int) (*big.Int, error) {
	mode := mathfp.RoundUp
	if liquidity.Sign() < 0 {
		mode = mathfp.RoundDown
	}
	return GetDeltaQuote(sqrtA, sqrtB, mathfp.Abs(liquidity), mode)
}

// amounts returns the (base, quote) the range would pay out at the given sqrt
// price, with the three positional sub-cases: price below the range (all
// base), inside it (split), above it (all quote).
func (r Range) amounts(sqrtPX96, sqrtLower, sqrtUpper *big.Int) (*big.Int, *big.Int, error) {
	liq := mathfp.Abs(r.Liquidity)
	switch {
	case sqrtPX96.Cmp(sqrtLower) <= 0:
		base, err := GetDeltaBase(sqrtLower, sqrtUpper, liq, mathfp.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		return base, new(big.Int), nil
	case sqrtPX96.Cmp(sqrtUpper) >= 0:
		quote, err := GetDeltaQuote(sqrtLower, sqrtUpper, liq, mathfp.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		return new(big.Int), quote, nil
	default:
		base, err := GetDeltaBase(sqrtPX96, sqrtUpper, liq, mathfp.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		quote, err := GetDeltaQuote(sqrtLower, sqrtPX96, liq, mathfp.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		return base, quote, nil
	}
}

// ToPosition converts the range into the equivalent Position as of the AMM's
// current price. The size is the base-amount drift since entry; the P&L is
// that drift marked at the fair price plus the quote-amount differential plus
// the accrued fee-index delta. One indivisible unit is subtracted from the
// computed balance as a conservative floor, mirroring the contract.
func (r Range) ToPosition(amm *Amm) (Position, error) {
	sqrtLower, err := tickmath.TickToSqrtX96(r.TickLower)
	if err != nil {
		return Position{}, err
	}
	sqrtUpper, err := tickmath.TickToSqrtX96(r.TickUpper)
	if err != nil {
		return Position{}, err
	}

	base, quote, err := r.amounts(amm.SqrtPX96, sqrtLower, sqrtUpper)
	if err != nil {
		return Position{}, err
	}
	entryBase, entryQuote, err := r.amounts(r.SqrtEntryPX96, sqrtLower, sqrtUpper)
	if err != nil {
		return Position{}, err
	}

	fair := amm.FairPrice()
	size := new(big.Int).Sub(base, entryBase)

	feeDelta := new(big.Int).Sub(amm.FeeIndex, r.EntryFeeIndex)
	fee := mathfp.WMulDown(feeDelta, mathfp.Abs(r.Liquidity))

	pnl := mathfp.WMulInt(fair, size)
	pnl.Add(pnl, quote)
	pnl.Sub(pnl, entryQuote)
	pnl.Add(pnl, fee)

	balance := new(big.Int).Add(r.Balance, pnl)
	balance.Sub(balance, big.NewInt(1))

	entryNotional := new(big.Int)
	if size.Sign() != 0 {
		entryNotional = mathfp.WMul(fair, mathfp.Abs(size))
	}
	long := size.Sign() >= 0
	return Position{
		Balance:              balance,
		Size:                 size,
		EntryNotional:        entryNotional,
		EntrySocialLossIndex: new(big.Int).Set(sideSocialLossIndex(amm, long)),
		EntryFundingIndex:    new(big.Int).Set(sideFundingIndex(amm, long)),
	}, nil
}

// CalcLiquidityFromMarginByUpper returns the liquidity affordable with the
// given margin under the upper-boundary constraint: the margin must cover the
// worst-case loss of the accumulated short plus its initial margin when price
// reaches the upper tick.
func CalcLiquidityFromMarginByUpper(margin, sqrtEntryPX96, sqrtUpperPX96, imrWad *big.Int) (*big.Int, error) {
	return liquidityFromBoundary(margin, sqrtEntryPX96, sqrtUpperPX96, sqrtEntryPX96, imrWad)
}

// CalcLiquidityFromMarginByLower is the lower-boundary mirror of
// CalcLiquidityFromMarginByUpper.
func CalcLiquidityFromMarginByLower(margin, sqrtEntryPX96, sqrtLowerPX96, imrWad *big.Int) (*big.Int, error) {
	return liquidityFromBoundary(margin, sqrtLowerPX96, sqrtEntryPX96, sqrtEntryPX96, imrWad)
}

// liquidityFromBoundary solves
//
//	margin = L * (sqrtHi - sqrtLo) * (sqrtHi - sqrtLo + imr*sqrtBoundary) / (sqrtEntry * 2^96)
//
// for L, where sqrtBoundary is the boundary further from entry. Both
// boundary constraints reduce to this shape; see the derivation notes.
func liquidityFromBoundary(margin, sqrtLo, sqrtHi, sqrtEntry, imrWad *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(sqrtHi, sqrtLo)
	if diff.Sign() <= 0 {
		return nil, derr.NewCalculationError(derr.CodeZeroDenominator, map[string]any{
			"sqrtLo": sqrtLo.String(), "sqrtHi": sqrtHi.String(),
		})
	}
	boundary := sqrtLo
	if sqrtEntry.Cmp(sqrtLo) == 0 {
		boundary = sqrtHi
	}
	term := new(big.Int).Add(diff, mathfp.WMulUp(imrWad, boundary))
	denom := new(big.Int).Mul(diff, term)
	num := new(big.Int).Mul(margin, sqrtEntry)
	num.Lsh(num, 96)
	return mathfp.MulDiv(num, big.NewInt(1), denom, mathfp.RoundDown)
}

// EntryDelta is the opening state implied by a margin budget: the binding
// liquidity and the base/quote amounts committed at entry.
type EntryDelta struct {
	Liquidity  *big.Int
	DeltaBase  *big.Int
	DeltaQuote *big.Int
}

// CalcEntryDelta computes the liquidity implied by each boundary's geometric
// constraint for the given margin and takes the minimum, so the margin
// requirement holds at both boundaries simultaneously, then derives the
// base/quote amounts committed around the entry price.
func CalcEntryDelta(margin, sqrtEntryPX96 *big.Int, tickLower, tickUpper int, imrWad *big.Int) (EntryDelta, error) {
	sqrtLower, err := tickmath.TickToSqrtX96(tickLower)
	if err != nil {
		return EntryDelta{}, err
	}
	sqrtUpper, err := tickmath.TickToSqrtX96(tickUpper)
	if err != nil {
		return EntryDelta{}, err
	}
	byUpper, err := CalcLiquidityFromMarginByUpper(margin, sqrtEntryPX96, sqrtUpper, imrWad)
	if err != nil {
		return EntryDelta{}, err
	}
	byLower, err := CalcLiquidityFromMarginByLower(margin, sqrtEntryPX96, sqrtLower, imrWad)
	if err != nil {
		return EntryDelta{}, err
	}
	liquidity := mathfp.Min(byUpper, byLower)

	base, err := GetDeltaBase(sqrtEntryPX96, sqrtUpper, liquidity, mathfp.RoundUp)
	if err != nil {
		return EntryDelta{}, err
	}
	quote, err := GetDeltaQuote(sqrtLower, sqrtEntryPX96, liquidity, mathfp.RoundUp)
	if err != nil {
		return EntryDelta{}, err
	}
	return EntryDelta{Liquidity: liquidity, DeltaBase: base, DeltaQuote: quote}, nil
}

// CalcBoost is the capital-efficiency multiplier of a symmetric range
// [p/alpha, p*alpha] versus a fully collateralized provision. alpha is WAD >
// 1; alpha == 1 is degenerate and rejected.
func CalcBoost(alphaWad *big.Int, imrBps int64) (*big.Int, error) {
	return CalcAsymmetricBoost(alphaWad, alphaWad, imrBps)
}

// CalcAsymmetricBoost generalizes CalcBoost to a range [p/alphaLower,
// p*alphaUpper]. An alpha below 1 is invalid input; both alphas equal to 1
// describe an empty range, whose boost constraint degenerates. The boost is
// the provided value over the binding boundary margin (see DESIGN notes for
// the derivation).
func CalcAsymmetricBoost(alphaLowerWad, alphaUpperWad *big.Int, imrBps int64) (*big.Int, error) {
	if alphaLowerWad.Cmp(mathfp.Wad) < 0 || alphaUpperWad.Cmp(mathfp.Wad) < 0 {
		return nil, derr.NewValidationError(derr.CodeBadAlpha, map[string]any{
			"alphaLower": alphaLowerWad.String(),
			"alphaUpper": alphaUpperWad.String(),
		})
	}
	if alphaLowerWad.Cmp(mathfp.Wad) == 0 && alphaUpperWad.Cmp(mathfp.Wad) == 0 {
		return nil, degenerateBoost(alphaLowerWad, alphaUpperWad)
	}
	imr := mathfp.RatioToWad(imrBps)

	sl, err := sqrtWad(alphaLowerWad)
	if err != nil {
		return nil, err
	}
	su, err := sqrtWad(alphaUpperWad)
	if err != nil {
		return nil, err
	}

	// value = 2 - 1/sl - 1/su
	invSl, _ := mathfp.WDivUp(mathfp.Wad, sl)
	invSu, _ := mathfp.WDivUp(mathfp.Wad, su)
	value := new(big.Int).Set(mathfp.TwoWad)
	value.Sub(value, invSl)
	value.Sub(value, invSu)
	if value.Sign() <= 0 {
		return nil, degenerateBoost(alphaLowerWad, alphaUpperWad)
	}

	// upper boundary: (su-1) * (su-1 + imr*su)
	suM1 := new(big.Int).Sub(su, mathfp.Wad)
	upper := mathfp.WMulUp(suM1, new(big.Int).Add(suM1, mathfp.WMulUp(imr, su)))

	// lower boundary: (sl-1) * (sl-1 + imr) / sl^2
	slM1 := new(big.Int).Sub(sl, mathfp.Wad)
	lower := mathfp.WMulUp(slM1, new(big.Int).Add(slM1, imr))
	slSq := mathfp.WMulDown(sl, sl)
	lower, err = mathfp.WDivUp(lower, slSq)
	if err != nil {
		return nil, err
	}

	binding := mathfp.Max(upper, lower)
	if binding.Sign() <= 0 {
		return nil, degenerateBoost(alphaLowerWad, alphaUpperWad)
	}
	return mathfp.WDivDown(value, binding)
}

// sqrtWad is the WAD square root: sqrt(x * WAD).
func sqrtWad(x *big.Int) (*big.Int, error) {
	return mathfp.Sqrt(new(big.Int).Mul(x, mathfp.Wad))
}

func degenerateBoost(alphaLower, alphaUpper *big.Int) error {
	return derr.NewCalculationError(derr.CodeDegenerateBoost, map[string]any{
		"alphaLower": alphaLower.String(),
		"alphaUpper": alphaUpper.String(),
	})
}

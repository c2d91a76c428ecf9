// Package domain holds the value objects of the settlement simulator: market
// state, positions, resting orders, liquidity ranges, instrument settings and
// the pair snapshot aggregate. Every type is an immutable value; "mutating"
// operations return a fresh copy so the engine stays pure and safe to use
// concurrently.
package domain

import (
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

// Status is the lifecycle state of an AMM.
type Status int

const (
	StatusDormant Status = iota
	StatusTrading
	StatusSettling
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusDormant:
		return "dormant"
	case StatusTrading:
		return "trading"
	case StatusSettling:
		return "settling"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// PerpExpiry marks a perpetual market; any other expiry is a dated future.
const PerpExpiry uint32 = 0xffffffff

// Amm is an immutable snapshot of one market's on-chain state. Derived
// updates (funding accrual) produce a new copy; nothing mutates in place.
type Amm struct {
	Expiry    uint32
	Timestamp int64 // unix seconds of the observation

	Tick     int
	SqrtPX96 *big.Int

	Liquidity  *big.Int
	TotalLong  *big.Int
	TotalShort *big.Int

	FeeIndex             *big.Int
	LongSocialLossIndex  *big.Int
	ShortSocialLossIndex *big.Int
	LongFundingIndex     *big.Int
	ShortFundingIndex    *big.Int

	InsuranceFund   *big.Int
	SettlementPrice *big.Int
	Status          Status
}

// IsPerpetual reports whether this market accrues funding.
func (a *Amm) IsPerpetual() bool { return a.Expiry == PerpExpiry }

// OpenInterest is the total open base size across both sides.
func (a *Amm) OpenInterest() *big.Int {
	return new(big.Int).Add(a.TotalLong, a.TotalShort)
}

// FairPrice is the AMM's current price in WAD, derived from the sqrt price.
func (a *Amm) FairPrice() *big.Int {
	return tickmath.SqrtX96ToWad(a.SqrtPX96)
}

// clone copies every field into a fresh Amm so index updates never alias the
// source snapshot.
func (a *Amm) clone() *Amm {
	c := *a
	c.SqrtPX96 = new(big.Int).Set(a.SqrtPX96)
	c.Liquidity = new(big.Int).Set(a.Liquidity)
	c.TotalLong = new(big.Int).Set(a.TotalLong)
	c.TotalShort = new(big.Int).Set(a.TotalShort)
	c.FeeIndex = new(big.Int).Set(a.FeeIndex)
	c.LongSocialLossIndex = new(big.Int).Set(a.LongSocialLossIndex)
	c.ShortSocialLossIndex = new(big.Int).Set(a.ShortSocialLossIndex)
	c.LongFundingIndex = new(big.Int).Set(a.LongFundingIndex)
	c.ShortFundingIndex = new(big.Int).Set(a.ShortFundingIndex)
	c.InsuranceFund = new(big.Int).Set(a.InsuranceFund)
	if a.SettlementPrice != nil {
		c.SettlementPrice = new(big.Int).Set(a.SettlementPrice)
	}
	return &c
}

// WithFundingAccrued returns a copy of the AMM with funding indices advanced
// to timestamp. Funding is proportional to elapsed time and the deviation
// between fair and mark price: the side trading above mark pays. The credit is
// scaled by the open-interest ratio so total funding is conserved; when the
// receiving side has no open interest the flow goes to the insurance fund.
// No-op for non-perpetual markets and non-positive elapsed time.
func (a *Amm) WithFundingAccrued(fundingInterval int64, markPrice *big.Int, timestamp int64) *Amm {
	if !a.IsPerpetual() || timestamp <= a.Timestamp || fundingInterval <= 0 {
		return a
	}
	next := a.clone()
	next.Timestamp = timestamp

	fair := a.FairPrice()
	deviation := new(big.Int).Sub(fair, markPrice)
	if deviation.Sign() == 0 {
		return next
	}

	elapsed := timestamp - a.Timestamp
	// Per-unit debit over the elapsed fraction of a funding interval.
	unit, _ := mathfp.MulDiv(mathfp.Abs(deviation), big.NewInt(elapsed), big.NewInt(fundingInterval), mathfp.RoundDown)
	if unit.Sign() == 0 {
		return next
	}

	longPays := deviation.Sign() > 0
	var payerOI, receiverOI *big.Int
	if longPays {
		payerOI, receiverOI = a.TotalLong, a.TotalShort
	} else {
		payerOI, receiverOI = a.TotalShort, a.TotalLong
	}
	if payerOI.Sign() == 0 {
		return next
	}

	if receiverOI.Sign() == 0 {
		next.InsuranceFund.Add(next.InsuranceFund, mathfp.WMulDown(unit, payerOI))
		if longPays {
			next.LongFundingIndex.Sub(next.LongFundingIndex, unit)
		} else {
			next.ShortFundingIndex.Sub(next.ShortFundingIndex, unit)
		}
		return next
	}

	credit, _ := mathfp.MulDiv(unit, payerOI, receiverOI, mathfp.RoundDown)
	if longPays {
		next.LongFundingIndex.Sub(next.LongFundingIndex, unit)
		next.ShortFundingIndex.Add(next.ShortFundingIndex, credit)
	} else {
		next.ShortFundingIndex.Sub(next.ShortFundingIndex, unit)
		next.LongFundingIndex.Add(next.LongFundingIndex, credit)
	}
	return next
}

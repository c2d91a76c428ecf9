package domain

import (
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

const (
	orderKeyBits  = 48
	orderTickBits = 24
	tickMask      = (1 << orderTickBits) - 1
	nonceMask     = (1 << orderTickBits) - 1
	tickSignBit   = 1 << (orderTickBits - 1)
)

// Order is a resting limit order: reserved margin, signed size, the tick it
// rests at and a per-trader nonce. The target price is derived from the tick
// once at construction.
type Order struct {
	Balance *big.Int
	Size    *big.Int
	Tick    int
	Nonce   uint32

	// TargetPrice is tickToWad(Tick), cached eagerly.
	TargetPrice *big.Int
}

// NewOrder builds an Order and caches its target price. The tick must lie in
// the global tick domain.
func NewOrder(balance, size *big.Int, tick int, nonce uint32) (Order, error) {
	price, err := tickmath.TickToWad(tick)
	if err != nil {
		return Order{}, err
	}
	return Order{
		Balance:     new(big.Int).Set(balance),
		Size:        new(big.Int).Set(size),
		Tick:        tick,
		Nonce:       nonce,
		TargetPrice: price,
	}, nil
}

// Value is the order's quote notional at its target price.
func (o Order) Value() *big.Int {
	return mathfp.WMul(o.TargetPrice, mathfp.Abs(o.Size))
}

// Leverage is order value over reserved margin. The target price is used for
// an untouched order; once partially filled (taken != 0) the mark price
// governs, since the remainder is marked to market.
func (o Order) Leverage(markPrice, taken *big.Int) *big.Int {
	if o.Balance.Sign() <= 0 || o.Size.Sign() == 0 {
		return new(big.Int)
	}
	price := o.TargetPrice
	if taken != nil && taken.Sign() != 0 {
		price = markPrice
	}
	notional := mathfp.WMul(price, mathfp.Abs(o.Size))
	lev, _ := mathfp.WDivDown(notional, o.Balance)
	return lev
}

// MarginForLeverage is the margin to reserve for the order at the given
// target leverage. The price is max(targetPrice, markPrice): the conservative
// choice guarantees the reserved margin also satisfies the initial margin
// ratio whenever leverage <= maxLeverage. The base margin rounds up, and the
// optional basis-point buffer is applied with ceiling rounding.
func (o Order) MarginForLeverage(markPrice, leverageWad *big.Int, bufferBps int64) (*big.Int, error) {
	if leverageWad == nil || leverageWad.Sign() <= 0 {
		return nil, derr.NewValidationError(derr.CodeBadLeverage, map[string]any{
			"leverage": stringOrNil(leverageWad),
		})
	}
	price := mathfp.Max(o.TargetPrice, markPrice)
	notional := mathfp.WMulUp(price, mathfp.Abs(o.Size))
	margin, err := mathfp.WDivUp(notional, leverageWad)
	if err != nil {
		return nil, err
	}
	if bufferBps > 0 {
		margin, _ = mathfp.MulDiv(margin, big.NewInt(mathfp.RatioBase+bufferBps), big.NewInt(mathfp.RatioBase), mathfp.RoundUp)
	}
	return margin, nil
}

// PackOrderKey encodes (tick, nonce) into the 48-bit order identity used by
// the contract: the tick's 24-bit two's complement in the high bits, the
// nonce in the low 24.
func PackOrderKey(tick int, nonce uint32) uint64 {
	return uint64(uint32(tick)&tickMask)<<orderTickBits | uint64(nonce&nonceMask)
}

// UnpackOrderKey decodes a 48-bit order key back into (tick, nonce). Keys
// beyond the 48-bit range are invalid.
func UnpackOrderKey(key uint64) (int, uint32, error) {
	if key >= 1<<orderKeyBits {
		return 0, 0, derr.NewValidationError(derr.CodeInvalidKey, map[string]any{
			"key": key,
		})
	}
	raw := key >> orderTickBits
	tick := int(raw)
	if raw&tickSignBit != 0 {
		tick -= 1 << orderTickBits
	}
	return tick, uint32(key & nonceMask), nil
}

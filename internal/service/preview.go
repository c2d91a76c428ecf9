// Package service exposes the preview layer: pure what-if evaluations of
// trades, resting orders and liquidity ranges against a pair snapshot.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpsim/internal/config"
	"github.com/alanyoungcy/perpsim/internal/derr"
	"github.com/alanyoungcy/perpsim/internal/domain"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/tickmath"
)

// PreviewService evaluates hypothetical account actions against an immutable
// PairSnapshot. It never mutates its inputs and never consults the wall
// clock; every preview is a deterministic function of the snapshot and the
// request.
type PreviewService struct {
	cfg    config.Config
	logger *slog.Logger
}

// NewPreviewService creates a PreviewService.
func NewPreviewService(cfg config.Config, logger *slog.Logger) *PreviewService {
	return &PreviewService{cfg: cfg, logger: logger}
}

// TradeRequest asks what a market trade of Size would do to the trader's
// position at the target leverage. Timestamp accrues funding before the
// preview runs.
type TradeRequest struct {
	Size              *big.Int
	TargetLeverageWad *big.Int
	Timestamp         int64
}

// TradePreview is the result of PreviewTrade.
type TradePreview struct {
	ID               string
	RequiredMargin   *big.Int
	Check            domain.MarginCheck
	Position         domain.Position
	ClosedSize       *big.Int
	Realized         *big.Int
	Leverage         *big.Int
	LiquidationPrice *big.Int
	LimitTick        int
	Display          map[string]string
}

// PreviewTrade validates the trade against the snapshot, accrues funding to
// the request timestamp, derives the margin required to land at the target
// leverage given the snapshot's quotation, and returns the post-trade
// position with its leverage and liquidation price. The slippage bound from
// config sets the worst acceptable execution price.
func (s *PreviewService) PreviewTrade(ctx context.Context, snap domain.PairSnapshot, req TradeRequest) (*TradePreview, error) {
	snap = snap.UpdateAmmFundingIndex(req.Timestamp)

	if err := snap.ValidateTradeContext(req.Size); err != nil {
		return nil, fmt.Errorf("preview_service: trade context: %w", err)
	}
	quotation := snap.Quotation
	if quotation == nil {
		if s.cfg.Engine.StrictMode {
			return nil, derr.NewSimulationError(derr.CodeMissingQuotation, nil)
		}
		quotation = s.syntheticQuotation(ctx, snap, req.Size)
	}

	limitTick, err := s.limitTickFor(quotation, req.Size)
	if err != nil {
		return nil, fmt.Errorf("preview_service: limit tick: %w", err)
	}

	pos := snap.Portfolio.Position
	required, err := pos.MarginForTargetLeverage(snap.Amm, snap.Price.Mark, req.Size, limitTick, quotation, req.TargetLeverageWad)
	if err != nil {
		return nil, fmt.Errorf("preview_service: margin for leverage: %w", err)
	}
	check := snap.CheckMargin(required)
	if err := s.enforceMarginCheck(check); err != nil {
		return nil, fmt.Errorf("preview_service: margin check: %w", err)
	}

	// The hypothetical position checkpoints at the AMM's current indices for
	// its side; merging must not realize funding or social loss the trader
	// never carried.
	fundingIdx, lossIdx := snap.Amm.ShortFundingIndex, snap.Amm.ShortSocialLossIndex
	if req.Size.Sign() > 0 {
		fundingIdx, lossIdx = snap.Amm.LongFundingIndex, snap.Amm.LongSocialLossIndex
	}
	traded := domain.Position{
		Balance:              new(big.Int).Sub(required, quotation.Fee),
		Size:                 new(big.Int).Set(req.Size),
		EntryNotional:        new(big.Int).Set(quotation.EntryNotional),
		EntrySocialLossIndex: new(big.Int).Set(lossIdx),
		EntryFundingIndex:    new(big.Int).Set(fundingIdx),
	}
	combined := domain.Combine(snap.Amm, pos, traded)

	post := combined.Position
	leverage := post.Leverage(snap.Amm, snap.Price.Mark)
	liqPrice := post.LiquidationPrice(snap.Amm, s.mmrBps(snap))

	out := &TradePreview{
		ID:               uuid.New().String(),
		RequiredMargin:   required,
		Check:            check,
		Position:         post,
		ClosedSize:       combined.ClosedSize,
		Realized:         combined.Realized,
		Leverage:         leverage,
		LiquidationPrice: liqPrice,
		LimitTick:        limitTick,
		Display: s.display(map[string]*big.Int{
			"required_margin":   required,
			"leverage":          leverage,
			"liquidation_price": liqPrice,
			"realized":          combined.Realized,
		}),
	}

	s.logger.DebugContext(ctx, "preview_service: trade preview",
		slog.String("id", out.ID),
		slog.String("size", req.Size.String()),
		slog.String("required_margin", required.String()),
		slog.Int("limit_tick", limitTick),
	)
	return out, nil
}

// limitTickFor widens the quoted post-trade price by the configured slippage
// in the adverse direction: up for buys, down for sells.
func (s *PreviewService) limitTickFor(q *Quotation, size *big.Int) (int, error) {
	post := tickmath.SqrtX96ToWad(q.SqrtPostPX96)
	slip := mathfp.RatioToWad(s.cfg.Engine.SlippageBps)
	var worst *big.Int
	if size.Sign() > 0 {
		worst = mathfp.WMulUp(post, new(big.Int).Add(mathfp.Wad, slip))
	} else {
		worst = mathfp.WMulDown(post, new(big.Int).Sub(mathfp.Wad, slip))
	}
	return tickmath.WadToTick(worst)
}

// syntheticQuotation is the degraded stand-in when the snapshot carries no
// quoted execution: a zero-impact fill at the mark price with the nominal
// fee. The warning marks the preview as indicative only.
func (s *PreviewService) syntheticQuotation(ctx context.Context, snap domain.PairSnapshot, size *big.Int) *Quotation {
	s.logger.WarnContext(ctx, "preview_service: snapshot carries no quotation, assuming zero-impact fill",
		slog.String("size", size.String()),
	)
	notional := mathfp.WMulUp(snap.Price.Mark, new(big.Int).Abs(size))
	feeRate := mathfp.RatioToWad(snap.Setting.TradingFeeBps + snap.Setting.ProtocolFeeBps)
	return &Quotation{
		Size:          new(big.Int).Set(size),
		EntryNotional: notional,
		Fee:           mathfp.WMulUp(notional, feeRate),
		PostTick:      snap.Amm.Tick,
		SqrtPostPX96:  new(big.Int).Set(snap.Amm.SqrtPX96),
		Benchmark:     new(big.Int).Set(snap.Price.Mark),
	}
}

// enforceMarginCheck turns funding gaps into hard errors under strict mode.
// Outside strict mode gaps are only reported in the preview output.
func (s *PreviewService) enforceMarginCheck(check domain.MarginCheck) error {
	if !s.cfg.Engine.StrictMode {
		return nil
	}
	if check.MarginGap.Sign() > 0 {
		return derr.NewValidationError(derr.CodeInsufficientMargin, map[string]any{
			"gap": check.MarginGap.String(),
		})
	}
	if check.AllowanceGap.Sign() > 0 {
		return derr.NewValidationError(derr.CodeInsufficientAllowance, map[string]any{
			"gap": check.AllowanceGap.String(),
		})
	}
	return nil
}

// Quotation aliases the domain type so batch requests can embed one without
// importing domain twice at call sites.
type Quotation = domain.Quotation

// OrderRequest asks whether a resting limit order is placeable and what
// margin it needs.
type OrderRequest struct {
	Tick      int
	Size      *big.Int
	Margin    *big.Int
	Timestamp int64
}

// OrderPreview is the result of PreviewPlaceOrder.
type OrderPreview struct {
	ID             string
	Order          domain.Order
	Key            uint64
	MinMargin      *big.Int
	Check          domain.MarginCheck
	FeasibleTicks  domain.TickRange
	FeasibleExists bool
	Display        map[string]string
}

// PreviewPlaceOrder runs the full placement validation and reports the
// buffered minimum margin alongside the funding gaps. The feasible tick range
// for the order's side is returned so callers can re-anchor a rejected tick.
func (s *PreviewService) PreviewPlaceOrder(ctx context.Context, snap domain.PairSnapshot, req OrderRequest) (*OrderPreview, error) {
	snap = snap.UpdateAmmFundingIndex(req.Timestamp)

	maxLeverage := mathfp.RatioToWad(s.cfg.Engine.MaxLeverageBps)
	if err := snap.ValidatePlaceParam(req.Tick, req.Size, req.Margin, maxLeverage); err != nil {
		return nil, fmt.Errorf("preview_service: place param: %w", err)
	}

	order, err := domain.NewOrder(req.Margin, req.Size, req.Tick, 0)
	if err != nil {
		return nil, fmt.Errorf("preview_service: build order: %w", err)
	}
	minMargin, err := order.MarginForLeverage(snap.Price.Mark, maxLeverage, s.cfg.Engine.MarginBufferBps)
	if err != nil {
		return nil, fmt.Errorf("preview_service: min margin: %w", err)
	}
	check := snap.CheckMargin(req.Margin)
	if err := s.enforceMarginCheck(check); err != nil {
		return nil, fmt.Errorf("preview_service: margin check: %w", err)
	}

	long := req.Size.Sign() > 0
	feasible, ok, err := snap.Setting.GetFeasibleLimitOrderTickRange(long, snap.Amm.Tick, snap.Price.Mark)
	if err != nil {
		return nil, fmt.Errorf("preview_service: feasible range: %w", err)
	}

	out := &OrderPreview{
		ID:             uuid.New().String(),
		Order:          order,
		Key:            domain.PackOrderKey(req.Tick, 0),
		MinMargin:      minMargin,
		Check:          check,
		FeasibleTicks:  feasible,
		FeasibleExists: ok,
		Display: s.display(map[string]*big.Int{
			"margin":       req.Margin,
			"min_margin":   minMargin,
			"order_value":  order.Value(),
			"target_price": order.TargetPrice,
		}),
	}

	s.logger.DebugContext(ctx, "preview_service: order preview",
		slog.String("id", out.ID),
		slog.Int("tick", req.Tick),
		slog.String("min_margin", minMargin.String()),
	)
	return out, nil
}

// AddLiquidityRequest asks what liquidity a margin amount buys over a tick
// range.
type AddLiquidityRequest struct {
	Margin    *big.Int
	TickLower int
	TickUpper int
	Timestamp int64
}

// AddLiquidityPreview is the result of PreviewAddLiquidity.
type AddLiquidityPreview struct {
	ID      string
	Entry   domain.EntryDelta
	Range   domain.Range
	Key     uint64
	Boost   *big.Int
	Check   domain.MarginCheck
	Display map[string]string
}

// PreviewAddLiquidity checks the range pair, the provision gate and the
// minimum range value, then sizes the liquidity the margin supports at both
// boundaries and reports the capital-efficiency boost of the range.
func (s *PreviewService) PreviewAddLiquidity(ctx context.Context, snap domain.PairSnapshot, req AddLiquidityRequest) (*AddLiquidityPreview, error) {
	snap = snap.UpdateAmmFundingIndex(req.Timestamp)

	if !snap.IsAddLiquidityAllowed() {
		return nil, fmt.Errorf("preview_service: liquidity gate: %w", snap.GateError())
	}
	if err := snap.Setting.IsRangeTickPairValid(req.TickLower, req.TickUpper); err != nil {
		return nil, fmt.Errorf("preview_service: range ticks: %w", err)
	}
	if req.Margin.Cmp(snap.Setting.MinRangeValue()) < 0 {
		return nil, derr.NewValidationError(derr.CodeBelowMinValue, map[string]any{
			"value": req.Margin.String(), "min": snap.Setting.MinRangeValue().String(),
		})
	}

	entry, err := domain.CalcEntryDelta(req.Margin, snap.Amm.SqrtPX96, req.TickLower, req.TickUpper, snap.Setting.IMRWad())
	if err != nil {
		return nil, fmt.Errorf("preview_service: entry delta: %w", err)
	}
	boost, err := s.rangeBoost(snap, req.TickLower, req.TickUpper)
	if err != nil {
		return nil, fmt.Errorf("preview_service: boost: %w", err)
	}

	rng := domain.Range{
		Liquidity:     entry.Liquidity,
		Balance:       new(big.Int).Set(req.Margin),
		SqrtEntryPX96: new(big.Int).Set(snap.Amm.SqrtPX96),
		EntryFeeIndex: new(big.Int).Set(snap.Amm.FeeIndex),
		TickLower:     req.TickLower,
		TickUpper:     req.TickUpper,
	}
	check := snap.CheckMargin(req.Margin)
	if err := s.enforceMarginCheck(check); err != nil {
		return nil, fmt.Errorf("preview_service: margin check: %w", err)
	}

	out := &AddLiquidityPreview{
		ID:    uuid.New().String(),
		Entry: entry,
		Range: rng,
		Key:   domain.PackRangeKey(req.TickLower, req.TickUpper),
		Boost: boost,
		Check: check,
		Display: s.display(map[string]*big.Int{
			"margin":      req.Margin,
			"liquidity":   entry.Liquidity,
			"delta_base":  entry.DeltaBase,
			"delta_quote": entry.DeltaQuote,
			"boost":       boost,
		}),
	}

	s.logger.DebugContext(ctx, "preview_service: add liquidity preview",
		slog.String("id", out.ID),
		slog.Int("tick_lower", req.TickLower),
		slog.Int("tick_upper", req.TickUpper),
		slog.String("liquidity", entry.Liquidity.String()),
	)
	return out, nil
}

// rangeBoost expresses both boundaries as price ratios against the entry and
// feeds them to the asymmetric boost calculation.
func (s *PreviewService) rangeBoost(snap domain.PairSnapshot, tickLower, tickUpper int) (*big.Int, error) {
	entry := tickmath.SqrtX96ToWad(snap.Amm.SqrtPX96)
	lowerPrice, err := tickmath.TickToWad(tickLower)
	if err != nil {
		return nil, err
	}
	upperPrice, err := tickmath.TickToWad(tickUpper)
	if err != nil {
		return nil, err
	}
	alphaLower, err := mathfp.WDivUp(entry, lowerPrice)
	if err != nil {
		return nil, err
	}
	alphaUpper, err := mathfp.WDivUp(upperPrice, entry)
	if err != nil {
		return nil, err
	}
	return domain.CalcAsymmetricBoost(alphaLower, alphaUpper, snap.Setting.InitialMarginRatioBps)
}

// RemoveLiquidityRequest identifies the range to withdraw by its packed key.
type RemoveLiquidityRequest struct {
	Key       uint64
	Timestamp int64
}

// RemoveLiquidityPreview is the result of PreviewRemoveLiquidity.
type RemoveLiquidityPreview struct {
	ID               string
	Removed          domain.Position
	Position         domain.Position
	ClosedSize       *big.Int
	Realized         *big.Int
	LiquidationPrice *big.Int
	Display          map[string]string
}

// PreviewRemoveLiquidity converts the identified range into the position the
// burn would produce at the current AMM state and merges it into the
// trader's existing position.
func (s *PreviewService) PreviewRemoveLiquidity(ctx context.Context, snap domain.PairSnapshot, req RemoveLiquidityRequest) (*RemoveLiquidityPreview, error) {
	snap = snap.UpdateAmmFundingIndex(req.Timestamp)

	rng, ok := snap.Portfolio.Ranges[req.Key]
	if !ok {
		return nil, derr.NewValidationError(derr.CodeInvalidKey, map[string]any{"key": req.Key})
	}
	removed, err := rng.ToPosition(snap.Amm)
	if err != nil {
		return nil, fmt.Errorf("preview_service: range to position: %w", err)
	}
	combined := domain.Combine(snap.Amm, snap.Portfolio.Position, removed)

	liqPrice := combined.Position.LiquidationPrice(snap.Amm, s.mmrBps(snap))

	out := &RemoveLiquidityPreview{
		ID:               uuid.New().String(),
		Removed:          removed,
		Position:         combined.Position,
		ClosedSize:       combined.ClosedSize,
		Realized:         combined.Realized,
		LiquidationPrice: liqPrice,
		Display: s.display(map[string]*big.Int{
			"removed_balance":   removed.Balance,
			"removed_size":      removed.Size,
			"realized":          combined.Realized,
			"liquidation_price": liqPrice,
		}),
	}

	s.logger.DebugContext(ctx, "preview_service: remove liquidity preview",
		slog.String("id", out.ID),
		slog.Uint64("key", req.Key),
	)
	return out, nil
}

// BatchRequest bundles independent previews to evaluate against the same
// snapshot. Nil entries are skipped.
type BatchRequest struct {
	Trade           *TradeRequest
	Order           *OrderRequest
	AddLiquidity    *AddLiquidityRequest
	RemoveLiquidity *RemoveLiquidityRequest
}

// BatchPreview collects the results of a BatchRequest, one field per
// non-nil request.
type BatchPreview struct {
	Trade           *TradePreview
	Order           *OrderPreview
	AddLiquidity    *AddLiquidityPreview
	RemoveLiquidity *RemoveLiquidityPreview
}

// PreviewBatch evaluates the bundled previews concurrently. Each preview
// receives its own copy of the snapshot value, so the shared big.Int state is
// only ever read. The first error cancels the remaining previews.
func (s *PreviewService) PreviewBatch(ctx context.Context, snap domain.PairSnapshot, req BatchRequest) (*BatchPreview, error) {
	var out BatchPreview
	g, ctx := errgroup.WithContext(ctx)

	if req.Trade != nil {
		r := *req.Trade
		g.Go(func() error {
			p, err := s.PreviewTrade(ctx, snap, r)
			if err != nil {
				return err
			}
			out.Trade = p
			return nil
		})
	}
	if req.Order != nil {
		r := *req.Order
		g.Go(func() error {
			p, err := s.PreviewPlaceOrder(ctx, snap, r)
			if err != nil {
				return err
			}
			out.Order = p
			return nil
		})
	}
	if req.AddLiquidity != nil {
		r := *req.AddLiquidity
		g.Go(func() error {
			p, err := s.PreviewAddLiquidity(ctx, snap, r)
			if err != nil {
				return err
			}
			out.AddLiquidity = p
			return nil
		})
	}
	if req.RemoveLiquidity != nil {
		r := *req.RemoveLiquidity
		g.Go(func() error {
			p, err := s.PreviewRemoveLiquidity(ctx, snap, r)
			if err != nil {
				return err
			}
			out.RemoveLiquidity = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PreviewService) mmrBps(snap domain.PairSnapshot) int64 {
	return snap.Setting.MaintenanceMarginRatioBps
}

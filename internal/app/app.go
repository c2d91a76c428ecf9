// Package app provides the top-level lifecycle for the perpsim CLI. It loads
// a pair snapshot from disk, builds the requested preview, runs it through
// the preview service, and writes the result to stdout as JSON.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/perpsim/internal/config"
	"github.com/alanyoungcy/perpsim/internal/mathfp"
	"github.com/alanyoungcy/perpsim/internal/service"
)

// Options selects what the CLI run previews. Exactly one action is chosen by
// Action; the remaining fields parameterize it.
type Options struct {
	// Action is one of "trade", "order", "add-liquidity", "remove-liquidity".
	Action string
	// SnapshotPath is the JSON snapshot file to evaluate against.
	SnapshotPath string
	// Size is the signed base size for trade and order actions, WAD, as a
	// decimal string.
	Size string
	// Margin is the margin amount for order and add-liquidity actions, WAD.
	Margin string
	// LeverageBps is the target leverage for trade actions in basis points.
	LeverageBps int64
	// Tick is the order tick for order actions.
	Tick int
	// TickLower and TickUpper bound add-liquidity actions.
	TickLower int
	TickUpper int
	// Key identifies the range for remove-liquidity actions.
	Key uint64
	// Timestamp accrues funding to this time before previewing.
	Timestamp int64
}

// App owns the configuration, logger and preview service for one CLI run.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	preview *service.PreviewService
	out     io.Writer
}

// New creates an App writing results to out.
func New(cfg *config.Config, logger *slog.Logger, out io.Writer) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		preview: service.NewPreviewService(*cfg, logger),
		out:     out,
	}
}

// Run loads the snapshot, dispatches the requested preview and prints the
// result. It returns the first error encountered; validation failures from
// the domain come back unwrapped enough for errors.As inspection.
func (a *App) Run(ctx context.Context, opts Options) error {
	snap, err := LoadSnapshot(opts.SnapshotPath)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "snapshot loaded",
		slog.String("path", opts.SnapshotPath),
		slog.String("symbol", snap.Setting.Symbol),
		slog.Uint64("block", snap.BlockNumber),
	)

	var result any
	switch opts.Action {
	case "trade":
		size, err := parseWad("size", opts.Size)
		if err != nil {
			return err
		}
		result, err = a.preview.PreviewTrade(ctx, snap, service.TradeRequest{
			Size:              size,
			TargetLeverageWad: mathfp.RatioToWad(opts.LeverageBps),
			Timestamp:         opts.Timestamp,
		})
		if err != nil {
			return err
		}
	case "order":
		size, err := parseWad("size", opts.Size)
		if err != nil {
			return err
		}
		margin, err := parseWad("margin", opts.Margin)
		if err != nil {
			return err
		}
		result, err = a.preview.PreviewPlaceOrder(ctx, snap, service.OrderRequest{
			Tick:      opts.Tick,
			Size:      size,
			Margin:    margin,
			Timestamp: opts.Timestamp,
		})
		if err != nil {
			return err
		}
	case "add-liquidity":
		margin, err := parseWad("margin", opts.Margin)
		if err != nil {
			return err
		}
		result, err = a.preview.PreviewAddLiquidity(ctx, snap, service.AddLiquidityRequest{
			Margin:    margin,
			TickLower: opts.TickLower,
			TickUpper: opts.TickUpper,
			Timestamp: opts.Timestamp,
		})
		if err != nil {
			return err
		}
	case "remove-liquidity":
		result, err = a.preview.PreviewRemoveLiquidity(ctx, snap, service.RemoveLiquidityRequest{
			Key:       opts.Key,
			Timestamp: opts.Timestamp,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("app: unsupported action %q", opts.Action)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("app: encode result: %w", err)
	}
	return nil
}

func parseWad(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("app: %s is required", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("app: %s: invalid integer %q", field, s)
	}
	return v, nil
}

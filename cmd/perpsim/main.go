// Command perpsim evaluates what-if previews of perpetual-market actions
// against a pair snapshot file. It loads configuration, validates it, and
// runs the requested preview.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/perpsim/internal/app"
	"github.com/alanyoungcy/perpsim/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	snapshotPath := flag.String("snapshot", "snapshot.json", "path to pair snapshot JSON file")
	action := flag.String("action", "trade", "preview action: trade, order, add-liquidity, remove-liquidity")
	size := flag.String("size", "", "signed base size in WAD (trade, order)")
	margin := flag.String("margin", "", "margin amount in WAD (order, add-liquidity)")
	leverageBps := flag.Int64("leverage-bps", 10_000, "target leverage in basis points (trade)")
	tick := flag.Int("tick", 0, "order tick (order)")
	tickLower := flag.Int("tick-lower", 0, "range lower tick (add-liquidity)")
	tickUpper := flag.Int("tick-upper", 0, "range upper tick (add-liquidity)")
	key := flag.Uint64("key", 0, "packed range key (remove-liquidity)")
	timestamp := flag.Int64("timestamp", 0, "funding accrual timestamp, unix seconds (default: now)")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ts := *timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	application := app.New(cfg, logger, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		Action:       *action,
		SnapshotPath: *snapshotPath,
		Size:         *size,
		Margin:       *margin,
		LeverageBps:  *leverageBps,
		Tick:         *tick,
		TickLower:    *tickLower,
		TickUpper:    *tickUpper,
		Key:          *key,
		Timestamp:    ts,
	}
	if err := application.Run(ctx, opts); err != nil {
		logger.Error("preview failed",
			slog.String("action", *action),
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

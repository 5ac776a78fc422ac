package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/rangebot/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	status := flag.Bool("status", false, "print endpoint and instance status and exit")
	offline := flag.Bool("offline", false, "skip RPC endpoints, fully simulated market")
	pool := flag.String("pool", "", "pool address to run against (paper mode reads its live ticks)")
	principal := flag.String("principal", "1000", "principal in human units of the quote token")
	rangePct := flag.Float64("range-pct", 5, "± price range around the current tick, in percent")
	swapSlippage := flag.Float64("swap-slippage", 0.5, "max slippage for exchange swaps, percent")
	lpSlippage := flag.Float64("lp-slippage", 1.0, "max slippage for liquidity operations, percent")
	autoExit := flag.Bool("auto-exit", true, "exit the position after the out-of-range timeout")
	exitTimeout := flag.Duration("exit-timeout", 10*time.Minute, "out-of-range duration before auto exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *status {
		if err := runStatus(ctx, cfg); err != nil {
			slog.Error("status failed", "err", err)
			os.Exit(1)
		}
		return
	}

	opts := runOptions{
		offline:      *offline,
		pool:         *pool,
		principal:    *principal,
		rangePct:     *rangePct,
		swapSlippage: *swapSlippage,
		lpSlippage:   *lpSlippage,
		autoExit:     *autoExit,
		exitTimeout:  *exitTimeout,
	}

	slog.Info("rangebot starting",
		"config", *configPath,
		"offline", opts.offline,
		"pool", opts.pool,
		"principal", opts.principal,
		"range_pct", opts.rangePct,
	)

	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("rangebot exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("rangebot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

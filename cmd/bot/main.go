// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/solana-autotrader/internal/config"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "export" {
		if err := runExport(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	tui := flag.Bool("tui", false, "show the status screen instead of console logs")
	flag.Parse()

	loader, err := config.NewLoader(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := loader.Current()

	ring := logger.NewRing(500)
	log, err := logger.New(logConfig(cfg, !*tui), ring.Core(zapcore.InfoLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting autotrader",
		zap.String("config", *configPath),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("dry_run", cfg.Dex.DryRun))

	app := fx.New(
		fx.Supply(loader, cfg, ring, log, runOptions{TUI: *tui}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx").WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))}
		}),
		infraModule(),
		tradingModule(),
		fx.Invoke(registerLifecycle),
	)
	app.Run()
}

func logConfig(cfg *config.Config, console bool) *logger.Config {
	return &logger.Config{
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAgeDays,
		Compress:    true,
		Development: cfg.Log.Development,
		Console:     console,
	}
}

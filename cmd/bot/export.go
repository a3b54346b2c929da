// ====================================
// File: cmd/bot/export.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/config"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/export"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// runExport writes the trade journal to a file and prints its path.
//
//	bot export --since 168h --format json --out exports
func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "path to the configuration file")
	out := fs.String("out", "exports", "output directory")
	format := fs.String("format", "csv", "csv or json")
	since := fs.Duration("since", 0, "only entries closed within this window, 0 for all")
	wallet := fs.String("wallet", "", "only this wallet")
	token := fs.String("token", "", "only this token mint")
	outcome := fs.String("outcome", "", "win, loss or breakeven")
	limit := fs.Int("limit", 10000, "newest entries to read")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(logConfig(cfg, true))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync(log) }()

	store, err := newStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	entries, err := store.RecentJournal(ctx, *limit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	clk := clock.New()
	opts := export.Options{
		Format:    export.Format(*format),
		Wallet:    *wallet,
		Token:     *token,
		Outcome:   domain.Outcome(*outcome),
		OutputDir: *out,
	}
	if *since > 0 {
		opts.Since = clk.Now().Add(-*since)
	}

	path, err := export.NewJournalExporter(clk, log).Export(entries, opts)
	if err != nil {
		return err
	}
	summary := export.Summarize(export.Filter(entries, opts))
	log.Info("Export complete",
		zap.String("file", path),
		zap.Int("trades", summary.Trades),
		zap.Float64("net_sol", summary.NetSOL))
	fmt.Println(path)
	return nil
}

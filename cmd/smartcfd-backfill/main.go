package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"smartcfd/internal/config"
	"smartcfd/internal/marketdata"
	"smartcfd/internal/store"
	"smartcfd/internal/util"
)

func defaultConfigPath() string {
	if p := os.Getenv("SMARTCFD_CONFIG"); p != "" {
		return p
	}
	return "config/smartcfd.yaml"
}

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	days := flag.Int("days", 0, "days of history to fetch (default from config)")
	interval := flag.String("interval", "", "bar interval, e.g. 1m, 5m, 1h (default from config)")
	flag.Parse()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("warning: loading .env: %v", err)
		}
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if *days <= 0 {
		*days = cfg.Backfill.Days
	}
	if *interval == "" {
		*interval = cfg.App.TradeInterval
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	archive := store.NewParquetStore(cfg.Storage.DataDir)

	bf, err := marketdata.NewBackfiller(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.ResolveDataURL(),
		archive,
		*interval,
		*days,
		cfg.Backfill.BatchSize,
		cfg.Backfill.MaxWorkers,
		cfg.Backfill.RateLimitPerMin,
	)
	if err != nil {
		log.Fatalf("failed to build backfiller: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting backfill",
		"symbols", cfg.App.WatchList,
		"days", *days,
		"interval", *interval,
	)
	if err := bf.Run(ctx, cfg.App.Symbols()); err != nil {
		log.Fatalf("backfill failed: %v", err)
	}
	logger.Info("backfill complete")
}

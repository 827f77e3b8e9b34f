package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"smartcfd/internal/broker"
	"smartcfd/internal/config"
	"smartcfd/internal/domain"
	"smartcfd/internal/engine"
	"smartcfd/internal/httpapi"
	"smartcfd/internal/indicator"
	"smartcfd/internal/marketdata"
	"smartcfd/internal/portfolio"
	"smartcfd/internal/risk"
	"smartcfd/internal/status"
	"smartcfd/internal/store"
	"smartcfd/internal/strategy"
	"smartcfd/internal/tradegroup"
	"smartcfd/internal/util"
)

// simStartingCash funds the in-memory paper broker in -sim mode.
const simStartingCash = 100_000

func defaultConfigPath() string {
	if p := os.Getenv("SMARTCFD_CONFIG"); p != "" {
		return p
	}
	return "config/smartcfd.yaml"
}

// markingLoader feeds the paper broker the latest close for each symbol so
// market orders can fill without a live venue.
type markingLoader struct {
	marketdata.Loader
	paper *broker.PaperBroker
}

func (m *markingLoader) GetBars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	bars, err := m.Loader.GetBars(ctx, symbol, limit)
	if err == nil && len(bars) > 0 {
		m.paper.SetPrice(symbol, bars[len(bars)-1].Close)
	}
	return bars, err
}

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	simMode := flag.Bool("sim", false, "trade against the in-memory paper broker instead of Alpaca")
	flag.Parse()

	// Development setups keep credentials in .env.
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

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer sqlStore.Close()

	archive := store.NewParquetStore(cfg.Storage.DataDir)

	var loader marketdata.Loader
	alpacaLoader, err := marketdata.NewAlpacaLoader(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.ResolveDataURL(),
		cfg.App.TradeInterval,
		cfg.App.MinDataPoints,
		time.Duration(cfg.App.DataMaxStalenessMinutes)*time.Minute,
		logger,
	)
	if err != nil {
		log.Fatalf("failed to build market data loader: %v", err)
	}
	loader = alpacaLoader

	var b broker.Broker
	if *simMode {
		paper := broker.NewPaperBroker(simStartingCash)
		loader = &markingLoader{Loader: loader, paper: paper}
		b = paper
		logger.Info("running in simulation mode", "startingCash", simStartingCash)
	} else {
		b = broker.NewAlpacaBroker(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.ResolveBaseURL(),
			time.Duration(cfg.App.APITimeoutSeconds)*time.Second,
			logger,
		)
		logger.Info("running against alpaca", "env", cfg.Alpaca.Env)
	}

	strat, err := strategy.ByName(cfg.App.Strategy, cfg.App.ModelPath)
	if err != nil {
		log.Fatalf("failed to build strategy: %v", err)
	}

	regime, err := indicator.NewRegimeDetector(
		indicator.DefaultRegimeShortWindow,
		indicator.DefaultRegimeLongWindow,
		cfg.App.MinDataPoints,
		indicator.DefaultRegimeThreshold,
	)
	if err != nil {
		log.Fatalf("failed to build regime detector: %v", err)
	}

	pf := portfolio.New(b, time.Duration(cfg.App.ReconcileIntervalSeconds)*time.Second, logger)
	riskMgr := risk.New(cfg.Risk, pf, b, logger)
	groups := tradegroup.New(sqlStore, logger)
	board := status.NewBoard()

	trader := engine.NewTrader(engine.Deps{
		Config:     cfg,
		Log:        logger,
		Broker:     b,
		Loader:     loader,
		Strategy:   strat,
		Portfolio:  pf,
		Risk:       riskMgr,
		Groups:     groups,
		Runs:       sqlStore,
		Heartbeats: sqlStore,
		Archive:    archive,
		Board:      board,
		Regime:     regime,
	})

	api := httpapi.NewServer(
		board,
		sqlStore,
		sqlStore,
		sqlStore,
		time.Duration(cfg.App.HealthMaxAgeSeconds)*time.Second,
		logger,
	)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}
	go func() {
		logger.Info("http api listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := trader.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}

	if runErr != nil {
		log.Fatalf("trader error: %v", runErr)
	}
}

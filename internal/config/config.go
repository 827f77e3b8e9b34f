// Package config loads and validates the YAML configuration for the
// smartcfd trading engine, applying environment variable overrides on top
// of file values.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"smartcfd/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the smartcfd engine.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	App      App      `yaml:"app"`
	Risk     Risk     `yaml:"risk"`
	Backfill Backfill `yaml:"backfill"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration for the health/status API.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API. Env
// selects the trading environment ("paper" or "live"); BaseURL and DataURL
// override the environment defaults when set.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Env       string `yaml:"env"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// ResolveBaseURL returns the trading API endpoint: the explicit BaseURL when
// set, otherwise the default for the configured environment.
func (a Alpaca) ResolveBaseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	if a.Env == "live" {
		return "https://api.alpaca.markets"
	}
	return "https://paper-api.alpaca.markets"
}

// ResolveDataURL returns the market data API endpoint.
func (a Alpaca) ResolveDataURL() string {
	if a.DataURL != "" {
		return a.DataURL
	}
	return "https://data.alpaca.markets"
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// App defines the trading loop parameters.
type App struct {
	// WatchList is a comma-separated list of crypto pairs, e.g. "BTC/USD,ETH/USD".
	WatchList                string  `yaml:"watch_list"`
	TradeInterval            string  `yaml:"trade_interval"`
	RunIntervalSeconds       int     `yaml:"run_interval_seconds"`
	MinDataPoints            int     `yaml:"min_data_points"`
	TradeConfidenceThreshold float64 `yaml:"trade_confidence_threshold"`
	Strategy                 string  `yaml:"strategy"`
	ModelPath                string  `yaml:"model_path"`
	OrderClientIDPrefix      string  `yaml:"order_client_id_prefix"`
	APITimeoutSeconds        int     `yaml:"api_timeout_seconds"`
	ReconcileIntervalSeconds int     `yaml:"reconcile_interval_seconds"`
	HealthMaxAgeSeconds      int     `yaml:"health_max_age_seconds"`
	DataMaxStalenessMinutes  int     `yaml:"data_max_staleness_minutes"`
}

// Symbols returns the watch list as a slice of trimmed symbols.
func (a App) Symbols() []string {
	var out []string
	for _, s := range strings.Split(a.WatchList, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Risk defines position sizing limits and the halt state machine thresholds.
// Percent fields are expressed in percentage points (e.g. -5.0 means -5%).
type Risk struct {
	MaxDailyDrawdownPercent    float64 `yaml:"max_daily_drawdown_percent"`
	MaxTotalExposurePercent    float64 `yaml:"max_total_exposure_percent"`
	MaxExposurePerAssetPercent float64 `yaml:"max_exposure_per_asset_percent"`
	RiskPerTradePercent        float64 `yaml:"risk_per_trade_percent"`
	StopLossATRMultiplier      float64 `yaml:"stop_loss_atr_multiplier"`
	TakeProfitATRMultiplier    float64 `yaml:"take_profit_atr_multiplier"`
	// CircuitBreakerATRMultiplier <= 0 disables the volatility circuit breaker.
	CircuitBreakerATRMultiplier float64 `yaml:"circuit_breaker_atr_multiplier"`
	MinOrderNotional            float64 `yaml:"min_order_notional"`
	MaxUnrealizedLossPercent    float64 `yaml:"max_unrealized_loss_percent"`
	ManagePositionsWhenHalted   bool    `yaml:"manage_positions_when_halted"`
}

// Backfill holds parameters for the historical bar backfill job.
type Backfill struct {
	Days            int `yaml:"days"`
	BatchSize       int `yaml:"batch_size"`
	MaxWorkers      int `yaml:"max_workers"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with the baseline values. Load
// unmarshals the YAML file over this baseline, so fields absent from the
// file keep their defaults while explicit values (including zeros) win.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/smartcfd.db",
		},
		Server: Server{
			Host: "",
			Port: 8090,
		},
		Alpaca: Alpaca{
			Env: "paper",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		App: App{
			WatchList:                "BTC/USD",
			TradeInterval:            "1m",
			RunIntervalSeconds:       60,
			MinDataPoints:            100,
			TradeConfidenceThreshold: 0.51,
			Strategy:                 "sma-momentum",
			OrderClientIDPrefix:      "SCFD",
			APITimeoutSeconds:        10,
			ReconcileIntervalSeconds: 60,
			HealthMaxAgeSeconds:      120,
			DataMaxStalenessMinutes:  5,
		},
		Risk: Risk{
			MaxDailyDrawdownPercent:     -5.0,
			MaxTotalExposurePercent:     100.0,
			MaxExposurePerAssetPercent:  25.0,
			RiskPerTradePercent:         1.0,
			StopLossATRMultiplier:       1.5,
			TakeProfitATRMultiplier:     3.0,
			CircuitBreakerATRMultiplier: 3.0,
			MinOrderNotional:            1.0,
			MaxUnrealizedLossPercent:    -10.0,
		},
		Backfill: Backfill{
			Days:            365,
			BatchSize:       30,
			MaxWorkers:      4,
			RateLimitPerMin: 200,
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_ENV"); v != "" {
		cfg.Alpaca.Env = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("WATCH_LIST"); v != "" {
		cfg.App.WatchList = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the configuration for values the engine cannot start
// with. Errors returned here are fatal: the caller should refuse to run.
func (c *Config) Validate() error {
	if len(c.App.Symbols()) == 0 {
		return fmt.Errorf("config: watch_list is empty")
	}
	if _, err := util.ParseInterval(c.App.TradeInterval); err != nil {
		return fmt.Errorf("config: trade_interval: %w", err)
	}
	if c.App.RunIntervalSeconds <= 0 {
		return fmt.Errorf("config: run_interval_seconds must be positive, got %d", c.App.RunIntervalSeconds)
	}
	if c.App.MinDataPoints <= 0 {
		return fmt.Errorf("config: min_data_points must be positive, got %d", c.App.MinDataPoints)
	}
	if c.App.TradeConfidenceThreshold < 0 || c.App.TradeConfidenceThreshold > 1 {
		return fmt.Errorf("config: trade_confidence_threshold must be in [0,1], got %v", c.App.TradeConfidenceThreshold)
	}
	if c.App.OrderClientIDPrefix == "" {
		return fmt.Errorf("config: order_client_id_prefix is empty")
	}

	switch c.Alpaca.Env {
	case "paper", "live":
	default:
		return fmt.Errorf("config: alpaca env must be \"paper\" or \"live\", got %q", c.Alpaca.Env)
	}

	if c.Risk.MaxDailyDrawdownPercent >= 0 {
		return fmt.Errorf("config: max_daily_drawdown_percent must be negative, got %v", c.Risk.MaxDailyDrawdownPercent)
	}
	if c.Risk.MaxTotalExposurePercent <= 0 {
		return fmt.Errorf("config: max_total_exposure_percent must be positive, got %v", c.Risk.MaxTotalExposurePercent)
	}
	if c.Risk.MaxExposurePerAssetPercent <= 0 {
		return fmt.Errorf("config: max_exposure_per_asset_percent must be positive, got %v", c.Risk.MaxExposurePerAssetPercent)
	}
	if c.Risk.RiskPerTradePercent <= 0 {
		return fmt.Errorf("config: risk_per_trade_percent must be positive, got %v", c.Risk.RiskPerTradePercent)
	}
	if c.Risk.StopLossATRMultiplier <= 0 {
		return fmt.Errorf("config: stop_loss_atr_multiplier must be positive, got %v", c.Risk.StopLossATRMultiplier)
	}
	if c.Risk.TakeProfitATRMultiplier <= 0 {
		return fmt.Errorf("config: take_profit_atr_multiplier must be positive, got %v", c.Risk.TakeProfitATRMultiplier)
	}
	if c.Risk.MaxUnrealizedLossPercent >= 0 {
		return fmt.Errorf("config: max_unrealized_loss_percent must be negative, got %v", c.Risk.MaxUnrealizedLossPercent)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port out of range: %d", c.Server.Port)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("config: sqlite_path is empty")
	}

	return nil
}

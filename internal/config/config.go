package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	OANDA     OANDAConfig     `yaml:"oanda"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Engine    EngineConfig    `yaml:"engine"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type OANDAConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	AccessToken string        `yaml:"-"`
	AccountID   string        `yaml:"-"`
}

type TradingConfig struct {
	Instrument     string  `yaml:"instrument"`
	LowerLevel     string  `yaml:"lower_level"`
	UpperLevel     string  `yaml:"upper_level"`
	NumberOfGrids  int     `yaml:"number_of_grids"`
	UnitsPerTrade  int     `yaml:"units_per_trade"`
	PipSize        string  `yaml:"pip_size"`
	PricePrecision int32   `yaml:"price_precision"`
	Leverage       float64 `yaml:"leverage"`
}

type RiskConfig struct {
	MaxLossUSD       float64 `yaml:"max_loss_usd"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxMarginRatio   float64 `yaml:"max_margin_ratio"`
	MaxSpreadPips    float64 `yaml:"max_spread_pips"`
}

type EngineConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	RearmCooldown time.Duration `yaml:"rearm_cooldown"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Key     string `yaml:"-"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.OANDA.BaseURL == "" {
		cfg.OANDA.BaseURL = "https://api-fxpractice.oanda.com"
	}
	if cfg.OANDA.Timeout == 0 {
		cfg.OANDA.Timeout = 10 * time.Second
	}
	if cfg.Trading.Instrument == "" {
		cfg.Trading.Instrument = "EUR_USD"
	}
	if cfg.Trading.PipSize == "" {
		cfg.Trading.PipSize = "0.0001"
	}
	if cfg.Trading.PricePrecision == 0 {
		cfg.Trading.PricePrecision = 5
	}
	if cfg.Trading.Leverage == 0 {
		cfg.Trading.Leverage = 1
	}
	if cfg.Risk.MaxMarginRatio == 0 {
		cfg.Risk.MaxMarginRatio = 0.5
	}
	if cfg.Risk.MaxSpreadPips == 0 {
		cfg.Risk.MaxSpreadPips = 2.0
	}
	if cfg.Engine.CheckInterval == 0 {
		cfg.Engine.CheckInterval = 60 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/oanda-grid-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.API.Address == "" {
		cfg.API.Address = "127.0.0.1:8080"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OANDA_ACCESS_TOKEN")); v != "" {
		cfg.OANDA.AccessToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OANDA_ACCOUNT_ID")); v != "" {
		cfg.OANDA.AccountID = v
	}
	if v := strings.TrimSpace(os.Getenv("GRID_API_KEY")); v != "" {
		cfg.API.Key = v
	}
	if v := strings.TrimSpace(os.Getenv("GRID_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("GRID_TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.Instrument == "" {
		return errors.New("trading.instrument is required")
	}
	if len(cfg.Trading.Instrument) < 3 || len(cfg.Trading.Instrument) > 20 {
		return fmt.Errorf("trading.instrument %q has invalid length", cfg.Trading.Instrument)
	}
	if cfg.Trading.LowerLevel == "" || cfg.Trading.UpperLevel == "" {
		return errors.New("trading.lower_level and trading.upper_level are required")
	}
	if cfg.Trading.NumberOfGrids < 2 {
		return fmt.Errorf("trading.number_of_grids must be >= 2, got %d", cfg.Trading.NumberOfGrids)
	}
	if cfg.Trading.NumberOfGrids > 1000 {
		return fmt.Errorf("trading.number_of_grids must be <= 1000, got %d", cfg.Trading.NumberOfGrids)
	}
	if cfg.Trading.UnitsPerTrade < 1 {
		return fmt.Errorf("trading.units_per_trade must be >= 1, got %d", cfg.Trading.UnitsPerTrade)
	}
	if cfg.Trading.Leverage < 0 {
		return errors.New("trading.leverage must be >= 0")
	}
	if cfg.Risk.MaxLossUSD <= 0 {
		return errors.New("risk.max_loss_usd must be > 0")
	}
	if cfg.Risk.MaxOpenPositions <= 0 {
		return errors.New("risk.max_open_positions must be > 0")
	}
	if cfg.Risk.MaxMarginRatio <= 0 || cfg.Risk.MaxMarginRatio > 1 {
		return fmt.Errorf("risk.max_margin_ratio must be in (0, 1], got %v", cfg.Risk.MaxMarginRatio)
	}
	if cfg.Risk.MaxSpreadPips < 0 {
		return errors.New("risk.max_spread_pips must be >= 0")
	}
	if cfg.Engine.CheckInterval < time.Second {
		return fmt.Errorf("engine.check_interval must be >= 1s, got %s", cfg.Engine.CheckInterval)
	}
	if cfg.Engine.RearmCooldown < 0 {
		return errors.New("engine.rearm_cooldown must be >= 0")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path)
	}
	if cfg.API.Enabled && cfg.API.Key == "" {
		return errors.New("api.enabled requires GRID_API_KEY")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.enabled requires token and chat_id")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.enabled requires dsn")
	}
	return nil
}

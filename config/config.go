package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/perps/signal"
)

// Config is the complete runtime configuration of the engine.
type Config struct {
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Trading  TradingConfig  `json:"trading" yaml:"trading"`
	Signal   SignalConfig   `json:"signal" yaml:"signal"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// ExchangeConfig holds the venue connection. Keys are normally supplied
// through PERPS_API_KEY / PERPS_API_SECRET rather than the file.
type ExchangeConfig struct {
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	APIKey       string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret    string        `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`
	RecvWindowMs int64         `json:"recv_window_ms" yaml:"recv_window_ms"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	QuoteAsset   string        `json:"quote_asset" yaml:"quote_asset"`
}

// TradingConfig holds the per-symbol worker parameters. Percentages are
// fractions: 0.004 is 0.4%.
type TradingConfig struct {
	Symbols       []string      `json:"symbols" yaml:"symbols"`
	Leverage      int           `json:"leverage" yaml:"leverage"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxRetryDelay time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`
	KlineInterval string        `json:"kline_interval" yaml:"kline_interval"`
	KlineLimit    int           `json:"kline_limit" yaml:"kline_limit"`

	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	KellyMultiplier     float64 `json:"kelly_multiplier" yaml:"kelly_multiplier"`
	PayoffRatio         float64 `json:"payoff_ratio" yaml:"payoff_ratio"`
	MaxCapitalPerTrade  float64 `json:"max_capital_per_trade" yaml:"max_capital_per_trade"`
	MinNotional         float64 `json:"min_notional" yaml:"min_notional"`

	StopLossPct        float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	TrailingActivation float64 `json:"trailing_activation" yaml:"trailing_activation"`
	TrailingCallback   float64 `json:"trailing_callback" yaml:"trailing_callback"`
	TrailingMinMove    float64 `json:"trailing_min_move" yaml:"trailing_min_move"`

	// ProtectiveAnchor is "ledger" (entry recorded at open) or "exchange"
	// (entry reported by the exchange each cycle).
	ProtectiveAnchor string        `json:"protective_anchor" yaml:"protective_anchor"`
	SettleDelay      time.Duration `json:"settle_delay" yaml:"settle_delay"`
	StartStagger     time.Duration `json:"start_stagger" yaml:"start_stagger"`

	// InitTries bounds the symbol metadata fetch at worker start before the
	// built-in instrument table is used; InitDelay is the first backoff.
	InitTries uint          `json:"init_tries" yaml:"init_tries"`
	InitDelay time.Duration `json:"init_delay" yaml:"init_delay"`
}

const (
	AnchorLedger   = "ledger"
	AnchorExchange = "exchange"
)

type SignalConfig struct {
	Weights signal.Weights `json:"weights" yaml:"weights"`
}

type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
	File        string `json:"file,omitempty" yaml:"file,omitempty"`
}

type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables it.
	Addr string `json:"addr" yaml:"addr"`
}

// LoadFromFile loads configuration from a file (YAML, or JSON as a fallback).
// Keys missing from the file keep their Default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Exchange.QuoteAsset == "" {
		return fmt.Errorf("exchange.quote_asset is required")
	}
	if c.Exchange.RecvWindowMs <= 0 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange.recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be positive")
	}

	t := c.Trading
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading.symbols is required")
	}
	for _, s := range t.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("trading.symbols must not contain empty entries")
		}
	}
	if t.Leverage < 1 || t.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be between 1 and 125")
	}
	if t.PollInterval <= 0 {
		return fmt.Errorf("trading.poll_interval must be positive")
	}
	if t.RetryDelay <= 0 {
		return fmt.Errorf("trading.retry_delay must be positive")
	}
	if t.MaxRetryDelay < t.RetryDelay {
		return fmt.Errorf("trading.max_retry_delay must be at least trading.retry_delay")
	}
	if t.InitTries < 1 {
		return fmt.Errorf("trading.init_tries must be at least 1")
	}
	if t.InitDelay < 0 {
		return fmt.Errorf("trading.init_delay must not be negative")
	}
	if t.KlineInterval == "" {
		return fmt.Errorf("trading.kline_interval is required")
	}
	if t.KlineLimit <= 0 || t.KlineLimit > 1500 {
		return fmt.Errorf("trading.kline_limit must be between 1 and 1500")
	}
	if t.ConfidenceThreshold <= 0.5 || t.ConfidenceThreshold >= 1 {
		return fmt.Errorf("trading.confidence_threshold must be between 0.5 and 1")
	}
	if t.KellyMultiplier <= 0 || t.KellyMultiplier > 1 {
		return fmt.Errorf("trading.kelly_multiplier must be in (0, 1]")
	}
	if t.PayoffRatio <= 0 {
		return fmt.Errorf("trading.payoff_ratio must be positive")
	}
	if t.MaxCapitalPerTrade <= 0 || t.MaxCapitalPerTrade > 1 {
		return fmt.Errorf("trading.max_capital_per_trade must be in (0, 1]")
	}
	if t.MinNotional < 0 {
		return fmt.Errorf("trading.min_notional must not be negative")
	}
	if t.StopLossPct <= 0 || t.StopLossPct >= 1 {
		return fmt.Errorf("trading.stop_loss_pct must be between 0 and 1")
	}
	if t.TakeProfitPct <= 0 {
		return fmt.Errorf("trading.take_profit_pct must be positive")
	}
	if t.TrailingActivation <= 0 {
		return fmt.Errorf("trading.trailing_activation must be positive")
	}
	if t.TrailingCallback <= 0 || t.TrailingCallback >= 1 {
		return fmt.Errorf("trading.trailing_callback must be between 0 and 1")
	}
	if t.TrailingMinMove < 0 {
		return fmt.Errorf("trading.trailing_min_move must not be negative")
	}
	if t.ProtectiveAnchor != AnchorLedger && t.ProtectiveAnchor != AnchorExchange {
		return fmt.Errorf("trading.protective_anchor must be 'ledger' or 'exchange'")
	}
	if t.SettleDelay < 0 || t.StartStagger < 0 {
		return fmt.Errorf("trading.settle_delay and trading.start_stagger must not be negative")
	}

	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			BaseURL:      "https://testnet.binancefuture.com",
			RecvWindowMs: 10000,
			Timeout:      10 * time.Second,
			QuoteAsset:   "USDT",
		},
		Trading: TradingConfig{
			Symbols:             []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BNB/USDT"},
			Leverage:            20,
			PollInterval:        5 * time.Second,
			RetryDelay:          10 * time.Second,
			MaxRetryDelay:       2 * time.Minute,
			KlineInterval:       "5m",
			KlineLimit:          300,
			ConfidenceThreshold: 0.60,
			KellyMultiplier:     0.8,
			PayoffRatio:         2.0,
			MaxCapitalPerTrade:  0.12,
			MinNotional:         110,
			StopLossPct:         0.004,
			TakeProfitPct:       0.008,
			TrailingActivation:  0.005,
			TrailingCallback:    0.002,
			TrailingMinMove:     0.002,
			ProtectiveAnchor:    AnchorLedger,
			SettleDelay:         time.Second,
			StartStagger:        2 * time.Second,
			InitTries:           5,
			InitDelay:           2 * time.Second,
		},
		Signal: SignalConfig{
			Weights: signal.DefaultWeights(),
		},
		Journal: JournalConfig{
			DBPath: "./data/perps.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9102",
		},
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "USDT", cfg.Exchange.QuoteAsset)
	assert.Equal(t, 20, cfg.Trading.Leverage)
	assert.Equal(t, 0.12, cfg.Trading.MaxCapitalPerTrade)
	assert.Equal(t, AnchorLedger, cfg.Trading.ProtectiveAnchor)
	assert.Equal(t, uint(5), cfg.Trading.InitTries)
	assert.Equal(t, 2*time.Second, cfg.Trading.InitDelay)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing quote asset",
			mutate:  func(c *Config) { c.Exchange.QuoteAsset = "" },
			wantErr: true,
			errMsg:  "exchange.quote_asset is required",
		},
		{
			name:    "recv window too large",
			mutate:  func(c *Config) { c.Exchange.RecvWindowMs = 70000 },
			wantErr: true,
			errMsg:  "exchange.recv_window_ms",
		},
		{
			name:    "no symbols",
			mutate:  func(c *Config) { c.Trading.Symbols = nil },
			wantErr: true,
			errMsg:  "trading.symbols is required",
		},
		{
			name:    "blank symbol",
			mutate:  func(c *Config) { c.Trading.Symbols = []string{"BTCUSDT", " "} },
			wantErr: true,
			errMsg:  "empty entries",
		},
		{
			name:    "zero leverage",
			mutate:  func(c *Config) { c.Trading.Leverage = 0 },
			wantErr: true,
			errMsg:  "trading.leverage must be between 1 and 125",
		},
		{
			name:    "retry ceiling below delay",
			mutate:  func(c *Config) { c.Trading.MaxRetryDelay = time.Second },
			wantErr: true,
			errMsg:  "trading.max_retry_delay",
		},
		{
			name:    "no init tries",
			mutate:  func(c *Config) { c.Trading.InitTries = 0 },
			wantErr: true,
			errMsg:  "trading.init_tries must be at least 1",
		},
		{
			name:    "negative init delay",
			mutate:  func(c *Config) { c.Trading.InitDelay = -time.Second },
			wantErr: true,
			errMsg:  "trading.init_delay",
		},
		{
			name:    "threshold not above half",
			mutate:  func(c *Config) { c.Trading.ConfidenceThreshold = 0.5 },
			wantErr: true,
			errMsg:  "trading.confidence_threshold must be between 0.5 and 1",
		},
		{
			name:    "kelly multiplier above one",
			mutate:  func(c *Config) { c.Trading.KellyMultiplier = 1.5 },
			wantErr: true,
			errMsg:  "trading.kelly_multiplier must be in (0, 1]",
		},
		{
			name:    "negative stop loss",
			mutate:  func(c *Config) { c.Trading.StopLossPct = -0.01 },
			wantErr: true,
			errMsg:  "trading.stop_loss_pct must be between 0 and 1",
		},
		{
			name:    "unknown anchor",
			mutate:  func(c *Config) { c.Trading.ProtectiveAnchor = "mark" },
			wantErr: true,
			errMsg:  "trading.protective_anchor",
		},
		{
			name:    "missing db path",
			mutate:  func(c *Config) { c.Journal.DBPath = "" },
			wantErr: true,
			errMsg:  "journal.db_path is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
			errMsg:  "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Trading.Symbols = []string{"XRPUSDT"}
			cfg.Trading.PollInterval = 3 * time.Second
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))

			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Trading.Symbols, loaded.Trading.Symbols)
			assert.Equal(t, cfg.Trading.PollInterval, loaded.Trading.PollInterval)
			assert.Equal(t, cfg.Trading.StopLossPct, loaded.Trading.StopLossPct)
			assert.Equal(t, cfg.Signal.Weights, loaded.Signal.Weights)
		})
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := []byte("trading:\n  symbols: [DOGEUSDT]\n  poll_interval: 7s\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"DOGEUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 7*time.Second, cfg.Trading.PollInterval)
	assert.Equal(t, 20, cfg.Trading.Leverage)
	assert.Equal(t, "USDT", cfg.Exchange.QuoteAsset)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading:\n  leverage: 500\n"), 0600))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

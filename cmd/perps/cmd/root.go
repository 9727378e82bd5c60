package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rustyeddy/perps/config"
)

var rootCmd = &cobra.Command{
	Use:   "perps",
	Short: "Per-symbol futures position reconciliation engine",
	Long: `Perps runs one worker per symbol against a USDⓈ-M futures account.

Each cycle a worker reconciles the trade ledger with the exchange, scores
the latest klines, keeps exactly one stop and one target on an open
position, trails the stop, and sizes new entries with a damped Kelly
fraction under a shared capital lock.

Credentials are read from PERPS_API_KEY and PERPS_API_SECRET.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	v       = viper.New()
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")

	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.SetEnvPrefix("PERPS")
	v.AutomaticEnv()
}

// loadConfig reads the config file, or the defaults, then applies the
// PERPS_* environment overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if s := v.GetString("api_key"); s != "" {
		cfg.Exchange.APIKey = s
	}
	if s := v.GetString("api_secret"); s != "" {
		cfg.Exchange.APISecret = s
	}
	if s := v.GetString("base_url"); s != "" {
		cfg.Exchange.BaseURL = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("db_path"); s != "" {
		cfg.Journal.DBPath = s
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

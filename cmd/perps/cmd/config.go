package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perps/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  perps config init -o perps.yaml
  perps config validate -f perps.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "perps.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nSet PERPS_API_KEY and PERPS_API_SECRET, then run:")
	fmt.Printf("  perps run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	t := cfg.Trading
	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Exchange: %s (%s)\n", cfg.Exchange.BaseURL, cfg.Exchange.QuoteAsset)
	fmt.Printf("  Symbols: %v at %dx, every %s\n", t.Symbols, t.Leverage, t.PollInterval)
	fmt.Printf("  Sizing: threshold %.2f, kelly x%.2f, cap %.1f%%, min notional %.2f\n",
		t.ConfidenceThreshold, t.KellyMultiplier, t.MaxCapitalPerTrade*100, t.MinNotional)
	fmt.Printf("  Protection: stop %.2f%%, target %.2f%%, trail %.2f%%/%.2f%%\n",
		t.StopLossPct*100, t.TakeProfitPct*100, t.TrailingActivation*100, t.TrailingCallback*100)
	fmt.Printf("  Journal: %s\n", cfg.Journal.DBPath)
	return nil
}

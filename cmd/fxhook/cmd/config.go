package cmd

import (
	"fmt"

	"github.com/rustyeddy/fxhook/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage fxhook configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  fxhook config init -o fxhook.yaml
  fxhook config validate -f fxhook.yaml`,
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

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "fxhook.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  fxhook serve -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Broker: %s (account %q)\n", cfg.OANDA.Env, cfg.OANDA.AccountID)
	fmt.Fprintf(out, "  Trading: %s x%.0f, reserve %.0f%%, %s\n",
		cfg.Trading.DefaultInstrument, cfg.Trading.Leverage, cfg.Trading.ReserveRatio*100, cfg.Trading.ReconcilePolicy)
	fmt.Fprintf(out, "  Ledger: %s (baseline %.2f, scope %s)\n", cfg.Ledger.Type, cfg.Ledger.Baseline, cfg.Ledger.Scope)
	fmt.Fprintf(out, "  Journal: %s (%d records)\n", cfg.Journal.Type, cfg.Journal.MaxRecords)
	return nil
}

package cmd

import (
	"github.com/rustyeddy/fxhook/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fxhook",
	Short: "Webhook-driven OANDA order engine with a compounding virtual balance",
	Long: `fxhook turns buy/sell alerts into sized OANDA market orders.

Each alert is validated, de-duplicated and reconciled against the open
position. Realized P/L from any close is committed to a persisted virtual
balance, which sizes the next order:

  units = floor(balance * (1 - reserve if SELL) * leverage / price)

Environment overrides: OANDA_API_KEY, OANDA_ACCOUNT_ID, OANDA_ENV,
OANDA_RESERVE_RATIO, PORT, FXHOOK_WEBHOOK_SECRET, FXHOOK_DATABASE_DSN,
FXHOOK_REDIS_ADDR.`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults plus environment when unset")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

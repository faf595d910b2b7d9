package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/fxhook/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Inspect or adjust the virtual balance",
	Long: `Manage the persisted virtual balance that sizes new orders.

Subcommands:
  show            - Print the current balance
  reset           - Force the balance back to ledger.baseline
  commit <delta>  - Add a realized P/L amount by hand

Examples:
  fxhook balance show
  fxhook balance show --instrument EUR_USD
  fxhook balance commit -- -12.50`,
}

var balanceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current balance",
	Args:  cobra.NoArgs,
	RunE:  runBalanceShow,
}

var balanceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the balance to the configured baseline",
	Args:  cobra.NoArgs,
	RunE:  runBalanceReset,
}

var balanceCommitCmd = &cobra.Command{
	Use:   "commit <delta>",
	Short: "Add a realized P/L delta to the balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalanceCommit,
}

var balanceInstrument string

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.AddCommand(balanceShowCmd)
	balanceCmd.AddCommand(balanceResetCmd)
	balanceCmd.AddCommand(balanceCommitCmd)

	balanceCmd.PersistentFlags().StringVarP(&balanceInstrument, "instrument", "i", "", "instrument record (ledger.scope: instrument)")
}

func withLedger(cmd *cobra.Command, fn func(l *ledger.Ledger, key string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := openLedger(cmd.Context(), cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l, ledger.Key(cfg.Ledger.Scope, balanceInstrument))
}

func printBalance(cmd *cobra.Command, key string, b ledger.Balance) {
	updated := "never"
	if !b.LastUpdated.IsZero() {
		updated = b.LastUpdated.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (updated %s)\n", key, b.Amount.StringFixed(2), updated)
}

func runBalanceShow(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(l *ledger.Ledger, key string) error {
		b, err := l.Load(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		printBalance(cmd, key, b)
		return nil
	})
}

func runBalanceReset(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(l *ledger.Ledger, key string) error {
		b, err := l.Reset(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("reset balance: %w", err)
		}
		printBalance(cmd, key, b)
		return nil
	})
}

func runBalanceCommit(cmd *cobra.Command, args []string) error {
	delta, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("parse delta %q: %w", args[0], err)
	}
	return withLedger(cmd, func(l *ledger.Ledger, key string) error {
		p, err := l.Commit(cmd.Context(), key, delta)
		if err != nil {
			return fmt.Errorf("commit balance: %w", err)
		}
		printBalance(cmd, key, p.After)
		return nil
	})
}

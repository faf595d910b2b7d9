package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/fxhook/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Display trades recorded by the webhook engine.

Subcommands:
  recent  - List the most recent trades

Examples:
  fxhook journal recent -n 10
  fxhook journal recent --org
  fxhook journal recent --csv > trades.csv`,
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent trades, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runJournalRecent,
}

var (
	journalLimit int
	journalOrg   bool
	journalCSV   bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRecentCmd)

	journalRecentCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of trades (0 for all)")
	journalRecentCmd.Flags().BoolVar(&journalOrg, "org", false, "render as Org-mode blocks")
	journalRecentCmd.Flags().BoolVar(&journalCSV, "csv", false, "render as CSV")
}

func runJournalRecent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.Recent(cmd.Context(), journalLimit)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case journalOrg:
		fmt.Fprintln(out, journal.FormatTradesOrg(recs))
		return nil
	case journalCSV:
		return journal.WriteCSV(out, recs)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tINSTRUMENT\tSIDE\tUNITS\tENTRY\tBEFORE\tP/L\tAFTER\tORDER")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Time.Local().Format(time.DateTime),
			r.Instrument,
			r.Side,
			r.Units,
			r.EntryPrice.String(),
			r.BalanceBefore.StringFixed(2),
			r.RealizedPL.StringFixed(2),
			r.BalanceAfter.StringFixed(2),
			r.OrderID,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sum := journal.Summarize(recs)
	pf := "n/a"
	if !sum.GrossLoss.IsZero() {
		pf = sum.ProfitFactor().StringFixed(2)
	}
	_, err = fmt.Fprintf(out, "\ntrades: %d  realized: %s  profit factor: %s\n", sum.Trades, sum.RealizedPL.StringFixed(2), pf)
	return err
}

package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "time", "instrument", "side", "units", "entry_price",
	"balance_before", "realized_pl", "balance_after", "order_id",
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, trades []TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := cw.Write([]string{
			t.ID,
			t.Time.UTC().Format(time.RFC3339),
			t.Instrument,
			string(t.Side),
			strconv.FormatInt(t.Units, 10),
			t.EntryPrice.String(),
			t.BalanceBefore.StringFixed(2),
			t.RealizedPL.StringFixed(2),
			t.BalanceAfter.StringFixed(2),
			t.OrderID,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

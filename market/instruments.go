// Package market holds static instrument metadata and symbol normalization.
package market

import (
	"strings"

	"github.com/shopspring/decimal"
)

type InstrumentMeta struct {
	Name             string
	BaseCurrency     string
	QuoteCurrency    string
	PipLocation      int
	DisplayPrecision int
	MinimumTradeSize int64
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {Name: "EUR_USD", BaseCurrency: "EUR", QuoteCurrency: "USD", PipLocation: -4, DisplayPrecision: 5, MinimumTradeSize: 1},
	"GBP_USD": {Name: "GBP_USD", BaseCurrency: "GBP", QuoteCurrency: "USD", PipLocation: -4, DisplayPrecision: 5, MinimumTradeSize: 1},
	"AUD_USD": {Name: "AUD_USD", BaseCurrency: "AUD", QuoteCurrency: "USD", PipLocation: -4, DisplayPrecision: 5, MinimumTradeSize: 1},
	"NZD_USD": {Name: "NZD_USD", BaseCurrency: "NZD", QuoteCurrency: "USD", PipLocation: -4, DisplayPrecision: 5, MinimumTradeSize: 1},
	"USD_CAD": {Name: "USD_CAD", BaseCurrency: "USD", QuoteCurrency: "CAD", PipLocation: -4, DisplayPrecision: 5, MinimumTradeSize: 1},
	"USD_CHF": {Name: "USD_CHF", BaseCurrency: "USD", QuoteCurrency: "CHF", PipLocation: -4, DisplayPrecision: 5, MinimumTradeSize: 1},
	"USD_JPY": {Name: "USD_JPY", BaseCurrency: "USD", QuoteCurrency: "JPY", PipLocation: -2, DisplayPrecision: 3, MinimumTradeSize: 1},
	"EUR_JPY": {Name: "EUR_JPY", BaseCurrency: "EUR", QuoteCurrency: "JPY", PipLocation: -2, DisplayPrecision: 3, MinimumTradeSize: 1},
	"XAU_USD": {Name: "XAU_USD", BaseCurrency: "XAU", QuoteCurrency: "USD", PipLocation: -2, DisplayPrecision: 3, MinimumTradeSize: 1},
}

// DefaultDisplayPrecision is used for instruments missing from Instruments.
const DefaultDisplayPrecision = 5

// Meta returns the metadata for an instrument. Unknown instruments get a
// generic entry so orders can still be placed on anything the broker lists.
func Meta(instrument string) InstrumentMeta {
	if m, ok := Instruments[instrument]; ok {
		return m
	}
	m := InstrumentMeta{
		Name:             instrument,
		PipLocation:      -4,
		DisplayPrecision: DefaultDisplayPrecision,
		MinimumTradeSize: 1,
	}
	if base, quote, ok := strings.Cut(instrument, "_"); ok {
		m.BaseCurrency, m.QuoteCurrency = base, quote
	}
	return m
}

// Pips expresses a price difference in pips of instrument.
func Pips(instrument string, delta decimal.Decimal) decimal.Decimal {
	return delta.Shift(int32(-Meta(instrument).PipLocation))
}

// Normalize converts the symbol spellings alert providers send into
// OANDA's BASE_QUOTE form: "eurusd", "EUR/USD" and "EUR-USD" all become
// "EUR_USD". Exchange prefixes such as "OANDA:EURUSD" are dropped.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.NewReplacer("/", "_", "-", "_").Replace(s)
	if len(s) == 6 && !strings.Contains(s, "_") && isLetters(s) {
		s = s[:3] + "_" + s[3:]
	}
	return s
}

func isLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// Package journal keeps a bounded, append-only record of executed trades.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
)

const DefaultMaxRecords = 100

type TradeRecord struct {
	ID            string          `json:"id"`
	Instrument    string          `json:"instrument"`
	Side          market.Side     `json:"side"`
	Units         int64           `json:"units"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	RealizedPL    decimal.Decimal `json:"realized_pl"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	OrderID       string          `json:"order_id,omitempty"`
	Time          time.Time       `json:"timestamp"`
}

// Journal stores the newest records; older ones are evicted on append.
type Journal interface {
	Append(ctx context.Context, rec TradeRecord) error

	// Recent returns up to n records, oldest first. n <= 0 returns all.
	Recent(ctx context.Context, n int) ([]TradeRecord, error)

	// Get returns the record with id, wrapping ErrNotFound when it is
	// unknown or already evicted.
	Get(ctx context.Context, id string) (TradeRecord, error)

	// Between returns the retained records with start <= Time < end,
	// oldest first.
	Between(ctx context.Context, start, end time.Time) ([]TradeRecord, error)

	Close() error
}

func capOf(max int) int {
	if max <= 0 {
		return DefaultMaxRecords
	}
	return max
}

func tail(recs []TradeRecord, n int) []TradeRecord {
	if n > 0 && len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}

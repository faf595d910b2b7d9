package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("trade not found")

// Summary aggregates realized P/L over a set of records.
type Summary struct {
	Trades      int
	RealizedPL  decimal.Decimal
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal // magnitude
}

// ProfitFactor is GrossProfit / GrossLoss, zero when nothing was lost.
func (s Summary) ProfitFactor() decimal.Decimal {
	if s.GrossLoss.IsZero() {
		return decimal.Zero
	}
	return s.GrossProfit.Div(s.GrossLoss)
}

func Summarize(recs []TradeRecord) Summary {
	s := Summary{Trades: len(recs)}
	for _, r := range recs {
		s.RealizedPL = s.RealizedPL.Add(r.RealizedPL)
		switch r.RealizedPL.Sign() {
		case 1:
			s.GrossProfit = s.GrossProfit.Add(r.RealizedPL)
		case -1:
			s.GrossLoss = s.GrossLoss.Sub(r.RealizedPL)
		}
	}
	return s
}

// Get returns a single trade record by ID.
func (j *SQLite) Get(ctx context.Context, id string) (TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE trade_id = ?`, id)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("query trade: %w", err)
	}
	recs, err := scanTrades(rows)
	if err != nil {
		return TradeRecord{}, err
	}
	if len(recs) == 0 {
		return TradeRecord{}, fmt.Errorf("trade %q: %w", id, ErrNotFound)
	}
	return recs[0], nil
}

// Between returns trades stamped within [start, end), oldest first.
func (j *SQLite) Between(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, seq ASC`,
		start.UTC().Format(timeLayout), end.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query trades between: %w", err)
	}
	return scanTrades(rows)
}

func (j *File) Get(ctx context.Context, id string) (TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs, err := j.read()
	if err != nil {
		return TradeRecord{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return TradeRecord{}, fmt.Errorf("trade %q: %w", id, ErrNotFound)
}

func (j *File) Between(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs, err := j.read()
	if err != nil {
		return nil, err
	}
	var out []TradeRecord
	for _, r := range recs {
		if !r.Time.Before(start) && r.Time.Before(end) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return out, nil
}

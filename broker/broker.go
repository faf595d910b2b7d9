// Package broker defines the contract between the sizing engine and the
// broker that owns the real account and positions.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
)

// Gateway is everything the engine needs from a broker. Every call is a
// blocking network round trip and must honour ctx.
type Gateway interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetPrice(ctx context.Context, instrument string) (Quote, error)
	GetPosition(ctx context.Context, instrument string) (Position, error)
	ClosePosition(ctx context.Context, instrument string, side market.Side) (CloseResult, error)
	SubmitMarketOrder(ctx context.Context, req MarketOrderRequest) (OrderResult, error)
}

type Quote struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Time       time.Time
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// ForSide is the price an order on side would fill at: ask for buys,
// bid for sells.
func (q Quote) ForSide(side market.Side) decimal.Decimal {
	if side == market.Sell {
		return q.Bid
	}
	return q.Ask
}

// Position is a point-in-time snapshot of the broker's position in one
// instrument. ShortUnits is a magnitude (never negative). The zero value
// means "no position".
type Position struct {
	Instrument   string
	LongUnits    int64
	ShortUnits   int64
	UnrealizedPL decimal.Decimal
}

// Net is long minus short units.
func (p Position) Net() int64 {
	return p.LongUnits - p.ShortUnits
}

// Side reports the side of the net position; ok is false when flat.
func (p Position) Side() (side market.Side, ok bool) {
	switch n := p.Net(); {
	case n > 0:
		return market.Buy, true
	case n < 0:
		return market.Sell, true
	default:
		return "", false
	}
}

type CloseResult struct {
	RealizedPL decimal.Decimal
	Raw        json.RawMessage
}

// MarketOrderRequest describes one market order. Units are signed:
// positive buys, negative sells. Distances are price distances from the
// fill, not absolute prices; nil means "not attached".
type MarketOrderRequest struct {
	Instrument           string
	Units                int64
	TimeInForce          string
	StopLossDistance     *decimal.Decimal
	TakeProfitDistance   *decimal.Decimal
	TrailingStopDistance *decimal.Decimal
	ClientOrderID        string

	// ReferencePrice is the quote the order was sized on. Gateways that
	// only accept absolute take-profit prices derive them from it.
	ReferencePrice decimal.Decimal
}

type OrderResult struct {
	OrderID   string
	TradeID   string
	FillPrice decimal.Decimal
	Raw       json.RawMessage
}

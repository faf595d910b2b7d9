// Package sim is an in-memory broker.Gateway. It nets orders into one
// position per instrument the way an OANDA account with positionFill
// DEFAULT does, and books realized P/L into the account balance.
package sim

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/rustyeddy/fxhook/pkg/id"
	"github.com/shopspring/decimal"
)

type Engine struct {
	mu        sync.Mutex
	currency  string
	balance   decimal.Decimal
	quotes    map[string]broker.Quote
	positions map[string]*Position
	orders    []broker.MarketOrderRequest
	now       func() time.Time
}

var _ broker.Gateway = (*Engine)(nil)

func NewEngine(currency string, balance decimal.Decimal) *Engine {
	return &Engine{
		currency:  currency,
		balance:   balance,
		quotes:    make(map[string]broker.Quote),
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// SetQuote installs the current bid/ask for an instrument.
func (e *Engine) SetQuote(instrument string, bid, ask decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes[instrument] = broker.Quote{Instrument: instrument, Bid: bid, Ask: ask, Time: e.now()}
}

// Orders returns every order accepted so far, oldest first.
func (e *Engine) Orders() []broker.MarketOrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]broker.MarketOrderRequest(nil), e.orders...)
}

func (e *Engine) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

func (e *Engine) GetPrice(ctx context.Context, instrument string) (broker.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteLocked("price", instrument)
}

func (e *Engine) GetPosition(ctx context.Context, instrument string) (broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := broker.Position{Instrument: instrument}
	p, ok := e.positions[instrument]
	if !ok || p.Units == 0 {
		return out, nil
	}
	if p.Units > 0 {
		out.LongUnits = p.Units
	} else {
		out.ShortUnits = -p.Units
	}
	if q, err := e.quoteLocked("position", instrument); err == nil {
		out.UnrealizedPL = e.plLocked(q, p.Units, p.AvgPrice, exitPrice(q, p.Units))
	}
	return out, nil
}

func (e *Engine) ClosePosition(ctx context.Context, instrument string, side market.Side) (broker.CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[instrument]
	if !ok || p.Units == 0 || (p.Units > 0) != (side == market.Buy) {
		return broker.CloseResult{}, &broker.Error{
			Op:         "close",
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("no %s position in %s", side, instrument),
			Err:        broker.ErrNoPosition,
		}
	}

	q, err := e.quoteLocked("close", instrument)
	if err != nil {
		return broker.CloseResult{}, err
	}

	pl := e.plLocked(q, p.Units, p.AvgPrice, exitPrice(q, p.Units))
	e.balance = e.balance.Add(pl)
	delete(e.positions, instrument)

	return broker.CloseResult{RealizedPL: pl}, nil
}

func (e *Engine) SubmitMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Units == 0 {
		return broker.OrderResult{}, &broker.Error{Op: "order", StatusCode: http.StatusBadRequest, Body: "units must be non-zero"}
	}
	q, err := e.quoteLocked("order", req.Instrument)
	if err != nil {
		return broker.OrderResult{}, err
	}

	fill := q.Ask
	if req.Units < 0 {
		fill = q.Bid
	}

	p := e.positions[req.Instrument]
	if p == nil {
		p = &Position{Instrument: req.Instrument}
		e.positions[req.Instrument] = p
	}
	e.balance = e.balance.Add(p.apply(req.Units, fill, func(units int64, entry, exit decimal.Decimal) decimal.Decimal {
		return e.plLocked(q, units, entry, exit)
	}))
	e.orders = append(e.orders, req)

	orderID := id.New()
	return broker.OrderResult{
		OrderID:   orderID,
		TradeID:   orderID,
		FillPrice: fill,
	}, nil
}

func (e *Engine) quoteLocked(op, instrument string) (broker.Quote, error) {
	q, ok := e.quotes[instrument]
	if !ok {
		return broker.Quote{}, &broker.Error{
			Op:         op,
			StatusCode: http.StatusBadRequest,
			Body:       fmt.Sprintf("no price for %s", instrument),
		}
	}
	return q, nil
}

// plLocked converts quote-currency P/L on units into the account currency.
func (e *Engine) plLocked(q broker.Quote, units int64, entry, exit decimal.Decimal) decimal.Decimal {
	pl := decimal.NewFromInt(units).Mul(exit.Sub(entry))
	meta := market.Meta(q.Instrument)
	if meta.QuoteCurrency != e.currency && meta.BaseCurrency == e.currency {
		if mid := q.Mid(); mid.IsPositive() {
			pl = pl.Div(mid)
		}
	}
	return pl.Round(2)
}

// exitPrice is where a position of units would close: longs sell on the
// bid, shorts buy back on the ask.
func exitPrice(q broker.Quote, units int64) decimal.Decimal {
	if units > 0 {
		return q.Bid
	}
	return q.Ask
}

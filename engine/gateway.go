package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/rustyeddy/fxhook/metrics"
	"github.com/shopspring/decimal"
)

// timedGateway bounds every broker call and records its latency. Deadline
// and cancellation errors come back as *broker.Error whatever the wrapped
// gateway returned.
type timedGateway struct {
	gw      broker.Gateway
	timeout time.Duration
	m       *metrics.Metrics
}

func (g *timedGateway) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func wrapTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *broker.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &broker.Error{Op: op, Err: err}
	}
	return err
}

func (g *timedGateway) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	defer g.m.Since("balance", time.Now())
	v, err := g.gw.GetBalance(ctx)
	return v, wrapTimeout("balance", err)
}

func (g *timedGateway) GetPrice(ctx context.Context, instrument string) (broker.Quote, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	defer g.m.Since("price", time.Now())
	v, err := g.gw.GetPrice(ctx, instrument)
	return v, wrapTimeout("price", err)
}

func (g *timedGateway) GetPosition(ctx context.Context, instrument string) (broker.Position, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	defer g.m.Since("position", time.Now())
	v, err := g.gw.GetPosition(ctx, instrument)
	return v, wrapTimeout("position", err)
}

func (g *timedGateway) ClosePosition(ctx context.Context, instrument string, side market.Side) (broker.CloseResult, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	defer g.m.Since("close", time.Now())
	v, err := g.gw.ClosePosition(ctx, instrument, side)
	return v, wrapTimeout("close", err)
}

func (g *timedGateway) SubmitMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderResult, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	defer g.m.Since("order", time.Now())
	v, err := g.gw.SubmitMarketOrder(ctx, req)
	return v, wrapTimeout("order", err)
}

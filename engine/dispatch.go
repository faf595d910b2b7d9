package engine

import (
	"context"
	"fmt"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/rustyeddy/fxhook/pkg/id"
	"github.com/rustyeddy/fxhook/risk"
	"github.com/shopspring/decimal"
)

// Exits configures the protective orders attached on fill. Zero values
// leave the exit off.
type Exits struct {
	StopLossDistance   decimal.Decimal
	TakeProfitDistance decimal.Decimal
	TrailingStopPct    decimal.Decimal
}

// Dispatcher turns a sized intent into a single market order.
type Dispatcher struct {
	gw          broker.Gateway
	timeInForce string
	exits       Exits
	newID       func() string
}

func NewDispatcher(gw broker.Gateway, timeInForce string, exits Exits) *Dispatcher {
	if timeInForce == "" {
		timeInForce = "FOK"
	}
	return &Dispatcher{gw: gw, timeInForce: timeInForce, exits: exits, newID: id.ClientOrderID}
}

// Request builds the order for units at the quoted price.
func (d *Dispatcher) Request(instrument string, units int64, price decimal.Decimal) broker.MarketOrderRequest {
	prec := int32(market.Meta(instrument).DisplayPrecision)
	req := broker.MarketOrderRequest{
		Instrument:     instrument,
		Units:          units,
		TimeInForce:    d.timeInForce,
		ClientOrderID:  d.newID(),
		ReferencePrice: price,
	}
	if d.exits.StopLossDistance.IsPositive() {
		v := d.exits.StopLossDistance.Round(prec)
		req.StopLossDistance = &v
	}
	if d.exits.TakeProfitDistance.IsPositive() {
		v := d.exits.TakeProfitDistance.Round(prec)
		req.TakeProfitDistance = &v
	}
	if d.exits.TrailingStopPct.IsPositive() {
		v := risk.Distance(instrument, price, d.exits.TrailingStopPct)
		req.TrailingStopDistance = &v
	}
	return req
}

// Dispatch submits the order once. Failures are not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderResult, error) {
	res, err := d.gw.SubmitMarketOrder(ctx, req)
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("submit %d %s: %w", req.Units, req.Instrument, err)
	}
	return res, nil
}

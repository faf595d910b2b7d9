package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/shopspring/decimal"
)

type priceBucket struct {
	Price decimal.Decimal `json:"price"`
}

type clientPrice struct {
	Instrument  string          `json:"instrument"`
	Time        time.Time       `json:"time"`
	Tradeable   bool            `json:"tradeable"`
	Bids        []priceBucket   `json:"bids"`
	Asks        []priceBucket   `json:"asks"`
	CloseoutBid decimal.Decimal `json:"closeoutBid"`
	CloseoutAsk decimal.Decimal `json:"closeoutAsk"`
}

// GetPrice returns the top of book for instrument.
func (c *Client) GetPrice(ctx context.Context, instrument string) (broker.Quote, error) {
	q := url.Values{}
	q.Set("instruments", instrument)

	b, err := c.get(ctx, "price", c.accountPath("/pricing"), q)
	if err != nil {
		return broker.Quote{}, err
	}

	var resp struct {
		Prices []clientPrice `json:"prices"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return broker.Quote{}, fmt.Errorf("oanda: decode pricing: %w", err)
	}
	if len(resp.Prices) == 0 {
		return broker.Quote{}, fmt.Errorf("oanda: no price returned for %s", instrument)
	}

	p := resp.Prices[0]
	quote := broker.Quote{
		Instrument: p.Instrument,
		Bid:        p.CloseoutBid,
		Ask:        p.CloseoutAsk,
		Time:       p.Time,
	}
	if len(p.Bids) > 0 {
		quote.Bid = p.Bids[0].Price
	}
	if len(p.Asks) > 0 {
		quote.Ask = p.Asks[0].Price
	}
	if !quote.Bid.IsPositive() || !quote.Ask.IsPositive() {
		return broker.Quote{}, fmt.Errorf("oanda: invalid quote for %s: bid=%s ask=%s", instrument, quote.Bid, quote.Ask)
	}
	return quote, nil
}

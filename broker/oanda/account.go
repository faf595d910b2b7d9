package oanda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type AccountSummary struct {
	ID              string          `json:"id"`
	Currency        string          `json:"currency"`
	Balance         decimal.Decimal `json:"balance"`
	NAV             decimal.Decimal `json:"NAV"`
	UnrealizedPL    decimal.Decimal `json:"unrealizedPL"`
	MarginUsed      decimal.Decimal `json:"marginUsed"`
	MarginAvailable decimal.Decimal `json:"marginAvailable"`
	OpenTradeCount  int             `json:"openTradeCount"`
}

// Summary fetches /v3/accounts/{id}/summary.
func (c *Client) Summary(ctx context.Context) (AccountSummary, error) {
	b, err := c.get(ctx, "summary", c.accountPath("/summary"), nil)
	if err != nil {
		return AccountSummary{}, err
	}

	var resp struct {
		Account AccountSummary `json:"account"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return AccountSummary{}, fmt.Errorf("oanda: decode summary: %w", err)
	}
	return resp.Account, nil
}

// GetBalance returns the account balance in the account currency.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	s, err := c.Summary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Balance, nil
}

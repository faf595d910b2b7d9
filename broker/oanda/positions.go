package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
)

type positionSide struct {
	Units        decimal.Decimal `json:"units"`
	UnrealizedPL decimal.Decimal `json:"unrealizedPL"`
}

type position struct {
	Instrument   string          `json:"instrument"`
	Long         positionSide    `json:"long"`
	Short        positionSide    `json:"short"`
	UnrealizedPL decimal.Decimal `json:"unrealizedPL"`
}

// GetPosition returns the current position in instrument. A 404 from
// OANDA is reported as the zero Position.
func (c *Client) GetPosition(ctx context.Context, instrument string) (broker.Position, error) {
	b, err := c.get(ctx, "position", c.accountPath("/positions/%s", url.PathEscape(instrument)), nil)
	if err != nil {
		var be *broker.Error
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return broker.Position{Instrument: instrument}, nil
		}
		return broker.Position{}, err
	}

	var resp struct {
		Position position `json:"position"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return broker.Position{}, fmt.Errorf("oanda: decode position: %w", err)
	}

	p := resp.Position
	return broker.Position{
		Instrument:   instrument,
		LongUnits:    p.Long.Units.Abs().IntPart(),
		ShortUnits:   p.Short.Units.Abs().IntPart(),
		UnrealizedPL: p.UnrealizedPL,
	}, nil
}

type fillTransaction struct {
	ID    string          `json:"id"`
	Price decimal.Decimal `json:"price"`
	PL    decimal.Decimal `json:"pl"`
}

// ClosePosition closes the whole side of the position in instrument and
// returns the realized P/L reported on the closing fills. When OANDA
// says there is nothing to close the error wraps broker.ErrNoPosition.
func (c *Client) ClosePosition(ctx context.Context, instrument string, side market.Side) (broker.CloseResult, error) {
	payload := map[string]string{"longUnits": "ALL"}
	if side == market.Sell {
		payload = map[string]string{"shortUnits": "ALL"}
	}

	b, err := c.do(ctx, "close", http.MethodPut,
		c.accountPath("/positions/%s/close", url.PathEscape(instrument)), nil, payload)
	if err != nil {
		var be *broker.Error
		if errors.As(err, &be) && noPosition(be) {
			be.Err = broker.ErrNoPosition
		}
		return broker.CloseResult{}, err
	}

	var resp struct {
		Long  *fillTransaction `json:"longOrderFillTransaction"`
		Short *fillTransaction `json:"shortOrderFillTransaction"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return broker.CloseResult{}, fmt.Errorf("oanda: decode close: %w", err)
	}

	pl := decimal.Zero
	if resp.Long != nil {
		pl = pl.Add(resp.Long.PL)
	}
	if resp.Short != nil {
		pl = pl.Add(resp.Short.PL)
	}
	return broker.CloseResult{RealizedPL: pl, Raw: b}, nil
}

func noPosition(be *broker.Error) bool {
	if be.StatusCode == http.StatusNotFound {
		return true
	}
	return be.StatusCode == http.StatusBadRequest &&
		strings.Contains(be.Body, "CLOSEOUT_POSITION_DOESNT_EXIST")
}

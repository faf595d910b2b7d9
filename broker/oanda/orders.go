package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
)

type distanceDetails struct {
	Distance string `json:"distance,omitempty"`
	Price    string `json:"price,omitempty"`
}

type clientExtensions struct {
	ID  string `json:"id,omitempty"`
	Tag string `json:"tag,omitempty"`
}

type marketOrder struct {
	Type                   string            `json:"type"`
	Instrument             string            `json:"instrument"`
	Units                  string            `json:"units"`
	TimeInForce            string            `json:"timeInForce"`
	PositionFill           string            `json:"positionFill"`
	StopLossOnFill         *distanceDetails  `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill       *distanceDetails  `json:"takeProfitOnFill,omitempty"`
	TrailingStopLossOnFill *distanceDetails  `json:"trailingStopLossOnFill,omitempty"`
	ClientExtensions       *clientExtensions `json:"clientExtensions,omitempty"`
}

// SubmitMarketOrder places a single market order. It is never retried:
// a repeated POST could open a second position. OANDA answers a killed
// FOK order with 201 and an orderCancelTransaction; that is reported as a
// broker.Error wrapping broker.ErrOrderCancelled.
func (c *Client) SubmitMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderResult, error) {
	if req.Units == 0 {
		return broker.OrderResult{}, fmt.Errorf("oanda: refusing to submit a zero unit order")
	}

	prec := int32(market.Meta(req.Instrument).DisplayPrecision)
	tif := req.TimeInForce
	if tif == "" {
		tif = "FOK"
	}

	order := marketOrder{
		Type:         "MARKET",
		Instrument:   req.Instrument,
		Units:        strconv.FormatInt(req.Units, 10),
		TimeInForce:  tif,
		PositionFill: "DEFAULT",
	}
	if req.StopLossDistance != nil {
		order.StopLossOnFill = &distanceDetails{Distance: req.StopLossDistance.StringFixed(prec)}
	}
	if req.TakeProfitDistance != nil {
		order.TakeProfitOnFill = takeProfit(req, prec)
	}
	if req.TrailingStopDistance != nil {
		order.TrailingStopLossOnFill = &distanceDetails{Distance: req.TrailingStopDistance.StringFixed(prec)}
	}
	if req.ClientOrderID != "" {
		order.ClientExtensions = &clientExtensions{ID: req.ClientOrderID, Tag: "fxhook"}
	}

	b, err := c.do(ctx, "order", http.MethodPost, c.accountPath("/orders"), nil,
		map[string]any{"order": order})
	if err != nil {
		return broker.OrderResult{}, err
	}

	var resp struct {
		Create struct {
			ID string `json:"id"`
		} `json:"orderCreateTransaction"`
		Fill *struct {
			ID          string          `json:"id"`
			Price       decimal.Decimal `json:"price"`
			TradeOpened *struct {
				TradeID string `json:"tradeID"`
			} `json:"tradeOpened"`
		} `json:"orderFillTransaction"`
		Cancel *struct {
			Reason string `json:"reason"`
		} `json:"orderCancelTransaction"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return broker.OrderResult{}, fmt.Errorf("oanda: decode order: %w", err)
	}

	if resp.Cancel != nil {
		return broker.OrderResult{}, &broker.Error{
			Op:         "order",
			StatusCode: http.StatusCreated,
			Body:       string(b),
			Err:        fmt.Errorf("%w: %s", broker.ErrOrderCancelled, resp.Cancel.Reason),
		}
	}

	out := broker.OrderResult{OrderID: resp.Create.ID, Raw: b}
	if resp.Fill != nil {
		out.FillPrice = resp.Fill.Price
		if resp.Fill.TradeOpened != nil {
			out.TradeID = resp.Fill.TradeOpened.TradeID
		}
	}
	return out, nil
}

// takeProfit converts the requested distance into the absolute price
// OANDA expects, measured from the reference price the order was sized on.
func takeProfit(req broker.MarketOrderRequest, prec int32) *distanceDetails {
	if req.ReferencePrice.IsZero() {
		return &distanceDetails{Distance: req.TakeProfitDistance.StringFixed(prec)}
	}
	price := req.ReferencePrice.Add(*req.TakeProfitDistance)
	if req.Units < 0 {
		price = req.ReferencePrice.Sub(*req.TakeProfitDistance)
	}
	return &distanceDetails{Price: price.StringFixed(prec)}
}

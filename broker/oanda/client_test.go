package oanda

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	return &Client{
		BaseURL:    server.URL,
		Token:      "test-token",
		AccountID:  "101-001-1",
		HTTP:       &http.Client{Timeout: 5 * time.Second},
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	}
}

func TestNew(t *testing.T) {
	t.Run("practice", func(t *testing.T) {
		c, err := New(Config{Env: "practice", Token: "tok", AccountID: "acct", RateLimit: 10}, nil)
		require.NoError(t, err)
		assert.Equal(t, PracticeURL, c.BaseURL)
		assert.NotNil(t, c.Limiter)
		assert.Equal(t, 10*time.Second, c.HTTP.Timeout)
	})

	t.Run("live", func(t *testing.T) {
		c, err := New(Config{Env: "live", Token: "tok", AccountID: "acct", Timeout: 3 * time.Second}, nil)
		require.NoError(t, err)
		assert.Equal(t, LiveURL, c.BaseURL)
		assert.Nil(t, c.Limiter)
		assert.Equal(t, 3*time.Second, c.HTTP.Timeout)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := New(Config{Env: "practice", AccountID: "acct"}, nil)
		assert.ErrorContains(t, err, "missing token")
	})

	t.Run("unknown env", func(t *testing.T) {
		_, err := New(Config{Env: "staging", Token: "tok", AccountID: "acct"}, nil)
		assert.ErrorContains(t, err, "unknown OANDA env")
	})
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/v3/accounts/101-001-1/summary", r.URL.Path)
		_, _ = io.WriteString(w, `{"account":{"id":"101-001-1","currency":"USD","balance":"1000.5000","NAV":"1001.0000","marginAvailable":"990.0000"}}`)
	})

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000.5", bal.String())
}

func TestGetPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/101-001-1/pricing", r.URL.Path)
		assert.Equal(t, "EUR_USD", r.URL.Query().Get("instruments"))
		_, _ = io.WriteString(w, `{"prices":[{"instrument":"EUR_USD","time":"2024-01-01T10:00:00.000000000Z","tradeable":true,
			"bids":[{"price":"1.09990","liquidity":1000000}],"asks":[{"price":"1.10010","liquidity":1000000}],
			"closeoutBid":"1.09980","closeoutAsk":"1.10020"}]}`)
	})

	q, err := c.GetPrice(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, "1.0999", q.Bid.String())
	assert.Equal(t, "1.1001", q.Ask.String())
	assert.Equal(t, "EUR_USD", q.Instrument)
	assert.Equal(t, 2024, q.Time.Year())
}

func TestGetPriceEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"prices":[]}`)
	})

	_, err := c.GetPrice(context.Background(), "EUR_USD")
	assert.ErrorContains(t, err, "no price")
}

func TestReadsRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"account":{"balance":"10"}}`)
	})

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10", bal.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadsGiveUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	})

	_, err := c.GetBalance(context.Background())
	var be *broker.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadGateway, be.StatusCode)
	assert.Equal(t, "upstream down", be.Body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadsDoNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetPrice(context.Background(), "EUR_USD")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutIsBrokerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.HTTP.Timeout = 20 * time.Millisecond
	c.MaxRetries = 0

	_, err := c.GetBalance(context.Background())
	var be *broker.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.StatusCode)
	assert.Equal(t, "summary", be.Op)
}

func TestGetPosition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/101-001-1/positions/EUR_USD", r.URL.Path)
		_, _ = io.WriteString(w, `{"position":{"instrument":"EUR_USD",
			"long":{"units":"0","unrealizedPL":"0.0000"},
			"short":{"units":"-500","unrealizedPL":"-3.2500"},
			"unrealizedPL":"-3.2500"}}`)
	})

	p, err := c.GetPosition(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.LongUnits)
	assert.Equal(t, int64(500), p.ShortUnits)
	assert.Equal(t, int64(-500), p.Net())
	assert.Equal(t, "-3.25", p.UnrealizedPL.String())
}

func TestGetPositionNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errorMessage":"The Position specified does not exist"}`)
	})

	p, err := c.GetPosition(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Net())
}

func TestClosePosition(t *testing.T) {
	tests := []struct {
		name string
		side market.Side
		want map[string]string
		body string
		pl   string
	}{
		{
			name: "long",
			side: market.Buy,
			want: map[string]string{"longUnits": "ALL"},
			body: `{"longOrderFillTransaction":{"id":"7","price":"1.1","pl":"12.3400"}}`,
			pl:   "12.34",
		},
		{
			name: "short",
			side: market.Sell,
			want: map[string]string{"shortUnits": "ALL"},
			body: `{"shortOrderFillTransaction":{"id":"8","price":"1.1","pl":"-4.5000"}}`,
			pl:   "-4.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/v3/accounts/101-001-1/positions/EUR_USD/close", r.URL.Path)
				var got map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				assert.Equal(t, tt.want, got)
				_, _ = io.WriteString(w, tt.body)
			})

			res, err := c.ClosePosition(context.Background(), "EUR_USD", tt.side)
			require.NoError(t, err)
			assert.Equal(t, tt.pl, res.RealizedPL.String())
			assert.NotEmpty(t, res.Raw)
		})
	}
}

func TestClosePositionNothingToClose(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"longOrderRejectTransaction":{"rejectReason":"CLOSEOUT_POSITION_DOESNT_EXIST"},"errorCode":"CLOSEOUT_POSITION_DOESNT_EXIST"}`)
	})

	_, err := c.ClosePosition(context.Background(), "EUR_USD", market.Buy)
	assert.ErrorIs(t, err, broker.ErrNoPosition)
}

func TestCloseIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ClosePosition(context.Background(), "EUR_USD", market.Buy)
	require.Error(t, err)
	assert.NotErrorIs(t, err, broker.ErrNoPosition)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitMarketOrder(t *testing.T) {
	sl := decimal.RequireFromString("0.005")
	tp := decimal.RequireFromString("0.01")
	trail := decimal.RequireFromString("0.0022")

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/accounts/101-001-1/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Order marketOrder `json:"order"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		o := body.Order
		assert.Equal(t, "MARKET", o.Type)
		assert.Equal(t, "-8000", o.Units)
		assert.Equal(t, "FOK", o.TimeInForce)
		assert.Equal(t, "DEFAULT", o.PositionFill)
		require.NotNil(t, o.StopLossOnFill)
		assert.Equal(t, "0.00500", o.StopLossOnFill.Distance)
		require.NotNil(t, o.TakeProfitOnFill)
		assert.Equal(t, "1.09000", o.TakeProfitOnFill.Price)
		require.NotNil(t, o.TrailingStopLossOnFill)
		assert.Equal(t, "0.00220", o.TrailingStopLossOnFill.Distance)
		require.NotNil(t, o.ClientExtensions)
		assert.Equal(t, "cid-1", o.ClientExtensions.ID)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"orderCreateTransaction":{"id":"100"},
			"orderFillTransaction":{"id":"101","price":"1.09995","tradeOpened":{"tradeID":"101"}}}`)
	})

	res, err := c.SubmitMarketOrder(context.Background(), broker.MarketOrderRequest{
		Instrument:           "EUR_USD",
		Units:                -8000,
		StopLossDistance:     &sl,
		TakeProfitDistance:   &tp,
		TrailingStopDistance: &trail,
		ClientOrderID:        "cid-1",
		ReferencePrice:       decimal.RequireFromString("1.1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "100", res.OrderID)
	assert.Equal(t, "101", res.TradeID)
	assert.Equal(t, "1.09995", res.FillPrice.String())
	assert.NotEmpty(t, res.Raw)
}

func TestSubmitMarketOrderOmitsUnsetExits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, hasSL := raw["order"]["stopLossOnFill"]
		_, hasTP := raw["order"]["takeProfitOnFill"]
		_, hasTS := raw["order"]["trailingStopLossOnFill"]
		assert.False(t, hasSL)
		assert.False(t, hasTP)
		assert.False(t, hasTS)
		assert.Equal(t, "45454", raw["order"]["units"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"orderCreateTransaction":{"id":"5"}}`)
	})

	res, err := c.SubmitMarketOrder(context.Background(), broker.MarketOrderRequest{Instrument: "EUR_USD", Units: 45454})
	require.NoError(t, err)
	assert.Equal(t, "5", res.OrderID)
}

func TestSubmitMarketOrderCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"orderCreateTransaction":{"id":"9"},"orderCancelTransaction":{"id":"10","reason":"INSUFFICIENT_MARGIN"}}`)
	})

	_, err := c.SubmitMarketOrder(context.Background(), broker.MarketOrderRequest{Instrument: "EUR_USD", Units: 1})
	assert.ErrorIs(t, err, broker.ErrOrderCancelled)
	assert.ErrorContains(t, err, "INSUFFICIENT_MARGIN")
}

func TestSubmitMarketOrderRejected(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errorMessage":"Invalid value specified for 'units'"}`)
	})

	_, err := c.SubmitMarketOrder(context.Background(), broker.MarketOrderRequest{Instrument: "EUR_USD", Units: 1})
	var be *broker.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.StatusCode)
	assert.Contains(t, be.Body, "Invalid value")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitMarketOrderZeroUnits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.SubmitMarketOrder(context.Background(), broker.MarketOrderRequest{Instrument: "EUR_USD"})
	assert.Error(t, err)
}

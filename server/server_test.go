package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/broker/sim"
	"github.com/rustyeddy/fxhook/engine"
	"github.com/rustyeddy/fxhook/journal"
	"github.com/rustyeddy/fxhook/ledger"
	"github.com/rustyeddy/fxhook/market"
	"github.com/rustyeddy/fxhook/risk"
	"github.com/rustyeddy/fxhook/signal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExec struct {
	res  engine.Result
	err  error
	body []byte
}

func (f *fakeExec) Handle(ctx context.Context, body []byte) (engine.Result, error) {
	f.body = body
	return f.res, f.err
}

type fakeTrades []journal.TradeRecord

func (f fakeTrades) Recent(ctx context.Context, n int) ([]journal.TradeRecord, error) {
	if n > 0 && len(f) > n {
		return f[len(f)-n:], nil
	}
	return f, nil
}

func (f fakeTrades) Get(ctx context.Context, id string) (journal.TradeRecord, error) {
	for _, r := range f {
		if r.ID == id {
			return r, nil
		}
	}
	return journal.TradeRecord{}, fmt.Errorf("trade %q: %w", id, journal.ErrNotFound)
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestWebhookCompleted(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{res: engine.Result{
		Outcome: engine.OutcomeCompleted,
		Signal:  signal.Signal{Side: market.Buy, Instrument: "EUR_USD"},
		Units:   45454,
		Price:   decimal.RequireFromString("1.10"),
		Balance: decimal.RequireFromString("1000"),
		Order: broker.OrderResult{
			OrderID: "6001",
			Raw:     json.RawMessage(`{"orderCreateTransaction":{"id":"6001"}}`),
		},
	}}
	s := New(Options{}, exec, nil)

	for _, path := range []string{"/", "/webhook"} {
		rec, out := do(t, s.Handler(), http.MethodPost, path, `{"signal":"buy"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "order placed", out["message"])
		assert.Equal(t, "BUY", out["side"])
		assert.Equal(t, float64(45454), out["units"])
		assert.Equal(t, "1000.00", out["balance"])
		assert.Equal(t, "6001", out["order_id"])
		assert.Equal(t, map[string]any{"orderCreateTransaction": map[string]any{"id": "6001"}}, out["oanda_response"])
		assert.Equal(t, `{"signal":"buy"}`, string(exec.body))
	}
}

func TestWebhookNoOpOutcomes(t *testing.T) {
	t.Parallel()

	for _, outcome := range []engine.Outcome{engine.OutcomeDuplicate, engine.OutcomeAlreadyPositioned} {
		s := New(Options{}, &fakeExec{res: engine.Result{Outcome: outcome}}, nil)
		rec, out := do(t, s.Handler(), http.MethodPost, "/webhook", `{}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(outcome), out["message"])
	}
}

func TestWebhookErrorMapping(t *testing.T) {
	t.Parallel()

	sizeErr := &risk.SizeError{
		Balance: decimal.RequireFromString("-50"),
		Equity:  decimal.RequireFromString("-40"),
		Price:   decimal.RequireFromString("1.1"),
		Err:     risk.ErrInsufficientBalance,
	}
	brokerErr := &broker.Error{Op: "order", StatusCode: 400, Body: `{"errorMessage":"bad"}`}
	limitErr := &risk.LimitError{
		Equity:   decimal.RequireFromString("994"),
		PnL:      risk.PnLSnapshot{DayRealized: decimal.RequireFromString("-16")},
		Decision: risk.Decision{Violations: []risk.Violation{{Code: "DAILY_LOSS_LIMIT"}}},
	}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
		details bool
	}{
		{"validation", &signal.ValidationError{Field: "signal", Reason: "missing action"}, 400, "invalid signal: signal: missing action", false},
		{"insufficient funds", sizeErr, 400, "insufficient funds", true},
		{"insufficient size", &risk.SizeError{Err: risk.ErrInsufficientSize}, 400, "insufficient size", true},
		{"loss limit", limitErr, 403, "risk limit breached", true},
		{"order", &engine.OrderError{Instrument: "EUR_USD", Units: 10, Err: brokerErr}, 502, "", true},
		{"persistence", &ledger.PersistenceError{Op: "commit", Key: "account", Err: errors.New("disk full")}, 500, "", false},
		{"broker", brokerErr, 502, "", true},
		{"broker transport", &broker.Error{Op: "position", Err: context.DeadlineExceeded}, 502, "", false},
		{"other", errors.New("redis down"), 500, "redis down", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(Options{}, &fakeExec{err: tt.err}, nil)
			rec, out := do(t, s.Handler(), http.MethodPost, "/webhook", `{}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			require.Contains(t, out, "error")
			if tt.message != "" {
				assert.Equal(t, tt.message, out["error"])
			}
			if tt.details {
				assert.NotNil(t, out["details"])
			}
		})
	}
}

func TestOrderErrorDetailsPassThrough(t *testing.T) {
	t.Parallel()

	err := &engine.OrderError{Err: &broker.Error{Op: "order", StatusCode: 400, Body: `{"errorCode":"MARKET_HALTED"}`}}
	s := New(Options{}, &fakeExec{err: err}, nil)
	_, out := do(t, s.Handler(), http.MethodPost, "/webhook", `{}`, nil)
	assert.Equal(t, map[string]any{"errorCode": "MARKET_HALTED"}, out["details"])
}

func TestSignature(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{res: engine.Result{Outcome: engine.OutcomeDuplicate}}
	s := New(Options{WebhookSecret: "s3cret"}, exec, nil)
	body := `{"signal":"sell"}`

	rec, _ := do(t, s.Handler(), http.MethodPost, "/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s.Handler(), http.MethodPost, "/webhook", body, map[string]string{SignatureHeader: Sign("wrong", []byte(body))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s.Handler(), http.MethodPost, "/webhook", body, map[string]string{SignatureHeader: "sha256=" + Sign("s3cret", []byte(body))})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, string(exec.body), "verified body reaches the executor intact")
}

func TestHealthMetricsTrades(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "fxhook_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	trades := fakeTrades{
		{ID: "a", Instrument: "EUR_USD", Side: market.Buy, Units: 1, Time: time.Unix(0, 0).UTC()},
		{ID: "b", Instrument: "EUR_USD", Side: market.Sell, Units: -1, Time: time.Unix(1, 0).UTC()},
	}
	s := New(Options{Gatherer: reg}, &fakeExec{}, trades)

	rec, out := do(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, _ = do(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fxhook_test_total 1")

	rec, out = do(t, s.Handler(), http.MethodGet, "/trades?limit=1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	list, ok := out["trades"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].(map[string]any)["id"])

	rec, _ = do(t, s.Handler(), http.MethodGet, "/trades?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, s.Handler(), http.MethodGet, "/trades/a", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", out["id"])
	assert.Equal(t, "EUR_USD", out["instrument"])

	rec, out = do(t, s.Handler(), http.MethodGet, "/trades/zzz", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["error"], "trade not found")
}

func TestLimitErrorDetails(t *testing.T) {
	t.Parallel()

	err := &risk.LimitError{
		Equity:   decimal.RequireFromString("994"),
		PnL:      risk.PnLSnapshot{DayRealized: decimal.RequireFromString("-16"), WeekRealized: decimal.RequireFromString("-16")},
		Decision: risk.Decision{Violations: []risk.Violation{{Code: "DAILY_LOSS_LIMIT", Msg: "day"}}},
	}
	s := New(Options{}, &fakeExec{err: err}, nil)
	rec, out := do(t, s.Handler(), http.MethodPost, "/webhook", `{}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, map[string]any{
		"equity":        "994.00",
		"day_realized":  "-16.00",
		"week_realized": "-16.00",
		"violations":    []any{"DAILY_LOSS_LIMIT"},
	}, out["details"])
}

// slowClose delays closes so a client can give up mid flip.
type slowClose struct {
	*sim.Engine
	delay time.Duration
}

func (g slowClose) ClosePosition(ctx context.Context, instrument string, side market.Side) (broker.CloseResult, error) {
	time.Sleep(g.delay)
	return g.Engine.ClosePosition(ctx, instrument, side)
}

func TestClientTimeoutDuringFlipStillCommitsAndOrders(t *testing.T) {
	t.Parallel()

	acct := sim.NewEngine("USD", decimal.NewFromInt(10000))
	acct.SetQuote("EUR_USD", decimal.RequireFromString("1.0998"), decimal.RequireFromString("1.10"))
	store, err := ledger.NewFile(filepath.Join(t.TempDir(), "balance.json"))
	require.NoError(t, err)
	led := ledger.New(store, decimal.NewFromInt(1000), zap.NewNop())

	eng, err := engine.New(engine.Config{
		DefaultInstrument: "EUR_USD",
		Leverage:          decimal.NewFromInt(50),
		ReserveRatio:      decimal.RequireFromString("0.2"),
		TimeInForce:       "FOK",
	}, engine.Deps{Gateway: slowClose{Engine: acct, delay: 150 * time.Millisecond}, Ledger: led})
	require.NoError(t, err)

	srv := httptest.NewServer(New(Options{}, eng, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{"signal":"buy","id":"open-1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, acct.Orders(), 1)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err = client.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{"signal":"sell","id":"flip-1"}`))
	require.Error(t, err, "client gives up before the close returns")

	require.Eventually(t, func() bool { return len(acct.Orders()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Negative(t, acct.Orders()[1].Units)

	b, err := led.Load(context.Background(), ledger.AccountKey)
	require.NoError(t, err)
	assert.False(t, b.LastUpdated.IsZero(), "close was committed")
	assert.False(t, b.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(Options{ShutdownTimeout: time.Second}, &fakeExec{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

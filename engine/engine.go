// Package engine runs one webhook signal through reconciliation, the
// virtual balance ledger, sizing, order submission and the journal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/idempotency"
	"github.com/rustyeddy/fxhook/journal"
	"github.com/rustyeddy/fxhook/ledger"
	"github.com/rustyeddy/fxhook/market"
	"github.com/rustyeddy/fxhook/metrics"
	"github.com/rustyeddy/fxhook/pkg/id"
	"github.com/rustyeddy/fxhook/risk"
	"github.com/rustyeddy/fxhook/signal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	BalanceFromLedger = "ledger"
	BalanceFromBroker = "broker"

	LockInstrument = "instrument"
	LockAccount    = "account"

	DefaultCallTimeout = 10 * time.Second
)

type Config struct {
	DefaultInstrument string
	Leverage          decimal.Decimal
	ReserveRatio      decimal.Decimal
	MinUnits          int64

	Policy        Policy
	BalanceSource string
	LockScope     string
	LedgerScope   string

	TimeInForce string
	Exits       Exits

	// Limits block new positions once realized losses for the day or
	// week reach a share of the balance. Closes still go through.
	Limits risk.Limits

	// CallTimeout bounds each broker call.
	CallTimeout time.Duration
}

type Deps struct {
	Gateway broker.Gateway
	Guard   *idempotency.Guard
	Ledger  *ledger.Ledger
	Journal journal.Journal
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeDuplicate         Outcome = "duplicate_ignored"
	OutcomeAlreadyPositioned Outcome = "already in position"
)

type Result struct {
	Outcome Outcome
	Signal  signal.Signal

	// Set once reconciliation has run.
	Reconciliation Reconciliation

	// Set when an order was placed.
	BalanceBefore decimal.Decimal
	Balance       decimal.Decimal
	Price         decimal.Decimal
	Units         int64
	Order         broker.OrderResult
	Trade         journal.TradeRecord
}

type Engine struct {
	cfg        Config
	gw         broker.Gateway
	guard      *idempotency.Guard
	ledger     *ledger.Ledger
	journal    journal.Journal
	log        *zap.Logger
	metrics    *metrics.Metrics
	locks      *keyedMutex
	reconciler *Reconciler
	dispatcher *Dispatcher
	now        func() time.Time
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Gateway == nil {
		return nil, errors.New("engine: nil gateway")
	}
	if deps.Ledger == nil {
		return nil, errors.New("engine: nil ledger")
	}
	if !cfg.Leverage.IsPositive() {
		return nil, fmt.Errorf("engine: leverage must be positive, got %s", cfg.Leverage)
	}
	if deps.Guard == nil {
		deps.Guard = idempotency.NewGuard(idempotency.NewMemory(), idempotency.DefaultTTL)
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if cfg.Policy == "" {
		cfg.Policy = DirectionAware
	}
	if cfg.BalanceSource == "" {
		cfg.BalanceSource = BalanceFromLedger
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	log := deps.Log.Named("engine")
	gw := &timedGateway{gw: deps.Gateway, timeout: cfg.CallTimeout, m: deps.Metrics}

	return &Engine{
		cfg:        cfg,
		gw:         gw,
		guard:      deps.Guard,
		ledger:     deps.Ledger,
		journal:    deps.Journal,
		log:        log,
		metrics:    deps.Metrics,
		locks:      newKeyedMutex(),
		reconciler: NewReconciler(gw, cfg.Policy, log),
		dispatcher: NewDispatcher(gw, cfg.TimeInForce, cfg.Exits),
		now:        time.Now,
	}, nil
}

// Handle parses a raw webhook body and executes it.
func (e *Engine) Handle(ctx context.Context, body []byte) (Result, error) {
	sig, err := signal.Parse(body, e.cfg.DefaultInstrument)
	if err != nil {
		e.metrics.Signals.WithLabelValues("rejected").Inc()
		return Result{}, err
	}
	return e.Execute(ctx, sig)
}

// Execute runs a validated signal. Duplicates and signals matching the
// open position return without touching the ledger or placing orders.
func (e *Engine) Execute(ctx context.Context, sig signal.Signal) (res Result, err error) {
	res.Signal = sig
	log := e.log.With(
		zap.String("instrument", sig.Instrument),
		zap.Stringer("side", sig.Side),
		zap.String("key", sig.IdempotencyKey),
	)
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "failed"
		}
		e.metrics.Signals.WithLabelValues(outcome).Inc()
	}()

	fresh, err := e.guard.CheckAndRecord(ctx, sig.IdempotencyKey)
	if err != nil {
		return res, err
	}
	if !fresh {
		log.Info("duplicate signal ignored")
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	// The broker may act from here on. Detach from the caller so a close is
	// never left without its commit, nor a commit without its order.
	// CallTimeout still bounds every broker call.
	ctx = context.WithoutCancel(ctx)

	unlock := e.locks.Lock(e.lockKey(sig.Instrument))
	defer unlock()

	rec, err := e.reconciler.Reconcile(ctx, sig.Instrument, sig.Side)
	if err != nil {
		return res, err
	}
	res.Reconciliation = rec
	if rec.Action == AlreadyPositioned {
		log.Info("already in position", zap.Int64("net_units", rec.Position.Net()))
		res.Outcome = OutcomeAlreadyPositioned
		return res, nil
	}

	key := ledger.Key(e.cfg.LedgerScope, sig.Instrument)
	var committed decimal.Decimal
	if rec.Action == Closed {
		e.metrics.Closes.WithLabelValues(sig.Instrument).Inc()
		p, err := e.ledger.Commit(ctx, key, rec.RealizedPL)
		if err != nil {
			return res, err
		}
		res.BalanceBefore, committed = p.Before.Amount, p.After.Amount
		pl, _ := rec.RealizedPL.Float64()
		e.metrics.ObservePL(sig.Instrument, pl)
	} else {
		bal, err := e.ledger.Load(ctx, key)
		if err != nil {
			return res, err
		}
		res.BalanceBefore, committed = bal.Amount, bal.Amount
	}
	amt, _ := committed.Float64()
	e.metrics.Balance.WithLabelValues(key).Set(amt)

	// abandon records a close that was not followed by a new position, so
	// its P/L still counts towards the loss limits.
	abandon := func(err error) (Result, error) {
		if rec.Action == Closed {
			e.record(ctx, log, journal.TradeRecord{
				Instrument:    sig.Instrument,
				Side:          rec.ClosedSide,
				BalanceBefore: res.BalanceBefore,
				RealizedPL:    rec.RealizedPL,
				BalanceAfter:  committed,
			})
		}
		return res, err
	}

	sizing := committed
	if e.cfg.BalanceSource == BalanceFromBroker {
		if sizing, err = e.gw.GetBalance(ctx); err != nil {
			return abandon(fmt.Errorf("get broker balance: %w", err))
		}
	}
	res.Balance = sizing

	if e.cfg.Limits.Enabled() {
		if err := e.checkLimits(ctx, sizing, rec.RealizedPL); err != nil {
			log.Warn("new position blocked", zap.Error(err))
			return abandon(err)
		}
	}

	quote, err := e.gw.GetPrice(ctx, sig.Instrument)
	if err != nil {
		return abandon(fmt.Errorf("get price %s: %w", sig.Instrument, err))
	}
	res.Price = quote.ForSide(sig.Side)

	units, err := risk.Size(risk.Inputs{
		Balance:      sizing,
		Price:        res.Price,
		Leverage:     e.cfg.Leverage,
		Side:         sig.Side,
		ReserveRatio: e.cfg.ReserveRatio,
		MinUnits:     max(e.cfg.MinUnits, market.Meta(sig.Instrument).MinimumTradeSize),
	})
	if err != nil {
		log.Warn("order not sized", zap.String("balance", sizing.StringFixed(2)), zap.Error(err))
		return abandon(err)
	}
	res.Units = units

	req := e.dispatcher.Request(sig.Instrument, units, res.Price)
	order, err := e.dispatcher.Dispatch(ctx, req)
	if err != nil {
		oe := &OrderError{
			Instrument:    sig.Instrument,
			Units:         units,
			BalanceBefore: res.BalanceBefore,
			RealizedPL:    rec.RealizedPL,
			BalanceAfter:  committed,
			Err:           err,
		}
		log.Error("order failed after ledger update",
			zap.String("balance_before", oe.BalanceBefore.StringFixed(2)),
			zap.String("realized_pl", oe.RealizedPL.StringFixed(2)),
			zap.String("balance_after", oe.BalanceAfter.StringFixed(2)),
			zap.Int64("units", units),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err),
		)
		e.metrics.OrderFailures.WithLabelValues(sig.Instrument).Inc()
		return res, oe
	}
	res.Order = order
	res.Outcome = OutcomeCompleted
	e.metrics.Orders.WithLabelValues(sig.Instrument, string(sig.Side)).Inc()

	entry := order.FillPrice
	if entry.IsZero() {
		entry = res.Price
	}
	res.Trade = journal.TradeRecord{
		Instrument:    sig.Instrument,
		Side:          sig.Side,
		Units:         units,
		EntryPrice:    entry,
		BalanceBefore: res.BalanceBefore,
		RealizedPL:    rec.RealizedPL,
		BalanceAfter:  committed,
		OrderID:       order.OrderID,
	}
	res.Trade = e.record(ctx, log, res.Trade)

	log.Info("order placed",
		zap.Int64("units", units),
		zap.String("price", res.Price.String()),
		zap.String("spread_pips", market.Pips(sig.Instrument, quote.Spread()).String()),
		zap.String("balance", sizing.StringFixed(2)),
		zap.String("order_id", order.OrderID),
	)
	return res, nil
}

// checkLimits sums realized P/L for the current day and week from the
// journal, adds the close just committed, and evaluates the breakers.
func (e *Engine) checkLimits(ctx context.Context, equity, justRealized decimal.Decimal) error {
	pnl := risk.PnLSnapshot{DayRealized: justRealized, WeekRealized: justRealized}
	if e.journal != nil {
		now := e.now().UTC()
		week := risk.WeekStart(now)
		recs, err := e.journal.Between(ctx, week, week.AddDate(0, 0, 7))
		if err != nil {
			return fmt.Errorf("load realized p/l: %w", err)
		}
		day := risk.DayStart(now)
		var today []journal.TradeRecord
		for _, r := range recs {
			if !r.Time.Before(day) {
				today = append(today, r)
			}
		}
		pnl.WeekRealized = pnl.WeekRealized.Add(journal.Summarize(recs).RealizedPL)
		pnl.DayRealized = pnl.DayRealized.Add(journal.Summarize(today).RealizedPL)
	}

	dec := risk.Evaluate(e.cfg.Limits, equity, pnl)
	if !dec.Allowed {
		return &risk.LimitError{Equity: equity, PnL: pnl, Decision: dec}
	}
	return nil
}

// record stamps rec and appends it. Failures are logged only.
func (e *Engine) record(ctx context.Context, log *zap.Logger, rec journal.TradeRecord) journal.TradeRecord {
	rec.Time = e.now().UTC()
	rec.ID = id.At(rec.Time)
	if e.journal == nil {
		return rec
	}
	if err := e.journal.Append(ctx, rec); err != nil {
		log.Error("journal append failed", zap.String("trade_id", rec.ID), zap.Error(err))
	}
	return rec
}

func (e *Engine) lockKey(instrument string) string {
	if e.cfg.LockScope == LockAccount {
		return LockAccount
	}
	return instrument
}

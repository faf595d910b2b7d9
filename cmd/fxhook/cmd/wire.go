package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/broker/oanda"
	"github.com/rustyeddy/fxhook/broker/sim"
	"github.com/rustyeddy/fxhook/config"
	"github.com/rustyeddy/fxhook/engine"
	"github.com/rustyeddy/fxhook/idempotency"
	"github.com/rustyeddy/fxhook/journal"
	"github.com/rustyeddy/fxhook/ledger"
	"github.com/rustyeddy/fxhook/market"
	"github.com/rustyeddy/fxhook/metrics"
	"github.com/rustyeddy/fxhook/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// app is the object graph behind `serve`.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	gateway  broker.Gateway
	guard    *idempotency.Guard
	ledger   *ledger.Ledger
	journal  journal.Journal
	engine   *engine.Engine
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if a.gateway, err = openGateway(cfg, log); err != nil {
		return a, err
	}
	if a.guard, err = openGuard(ctx, cfg); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.guard.Close)

	if a.ledger, err = openLedger(ctx, cfg, log); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.ledger.Close)

	if a.journal, err = openJournal(cfg); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.journal.Close)

	ecfg, err := engineConfig(cfg)
	if err != nil {
		return a, err
	}
	a.engine, err = engine.New(ecfg, engine.Deps{
		Gateway: a.gateway,
		Guard:   a.guard,
		Ledger:  a.ledger,
		Journal: a.journal,
		Log:     log,
		Metrics: a.metrics,
	})
	return a, err
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	policy, err := engine.ParsePolicy(cfg.Trading.ReconcilePolicy)
	if err != nil {
		return engine.Config{}, err
	}
	t := cfg.Trading
	return engine.Config{
		DefaultInstrument: market.Normalize(t.DefaultInstrument),
		Leverage:          decimal.NewFromFloat(t.Leverage),
		ReserveRatio:      decimal.NewFromFloat(t.ReserveRatio),
		MinUnits:          t.MinUnits,
		Policy:            policy,
		BalanceSource:     t.BalanceSource,
		LockScope:         t.LockScope,
		LedgerScope:       cfg.Ledger.Scope,
		TimeInForce:       t.TimeInForce,
		Exits: engine.Exits{
			StopLossDistance:   decimal.NewFromFloat(t.StopLossDistance),
			TakeProfitDistance: decimal.NewFromFloat(t.TakeProfitDistance),
			TrailingStopPct:    decimal.NewFromFloat(t.TrailingStopPct),
		},
		Limits: risk.Limits{
			MaxDailyLossPct:  decimal.NewFromFloat(t.MaxDailyLossPct),
			MaxWeeklyLossPct: decimal.NewFromFloat(t.MaxWeeklyLossPct),
		},
		CallTimeout: cfg.OANDA.Timeout.Std(),
	}, nil
}

func openGateway(cfg *config.Config, log *zap.Logger) (broker.Gateway, error) {
	o := cfg.OANDA
	if o.Env == "sim" {
		e := sim.NewEngine(o.SimCurrency, decimal.NewFromFloat(o.SimBalance))
		e.SetQuote(market.Normalize(cfg.Trading.DefaultInstrument), decimal.NewFromFloat(o.SimBid), decimal.NewFromFloat(o.SimAsk))
		for inst, q := range o.SimQuotes {
			e.SetQuote(market.Normalize(inst), decimal.NewFromFloat(q.Bid), decimal.NewFromFloat(q.Ask))
		}
		log.Warn("using simulated broker",
			zap.Float64("balance", o.SimBalance),
			zap.Int("quoted_instruments", len(o.SimQuotes)+1),
		)
		return e, nil
	}
	c, err := oanda.New(oanda.Config{
		Env:        o.Env,
		Token:      o.Token,
		AccountID:  o.AccountID,
		Timeout:    o.Timeout.Std(),
		RateLimit:  o.RateLimit,
		MaxRetries: o.MaxRetries,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("oanda client: %w", err)
	}
	return c, nil
}

func openGuard(ctx context.Context, cfg *config.Config) (*idempotency.Guard, error) {
	ic := cfg.Idempotency
	var store idempotency.Store
	switch ic.Type {
	case "redis":
		r, err := idempotency.NewRedis(ctx, idempotency.RedisConfig{
			Addr:     ic.RedisAddr,
			Password: ic.RedisPassword,
			DB:       ic.RedisDB,
			Prefix:   ic.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		store = r
	default:
		store = idempotency.NewMemory()
	}
	return idempotency.NewGuard(store, ic.TTL.Std()), nil
}

func openLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (*ledger.Ledger, error) {
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Ledger.Type {
	case "sqlite":
		store, err = ledger.NewSQLite(cfg.Ledger.Path)
	case "postgres":
		store, err = ledger.NewPostgres(ctx, cfg.Ledger.DSN)
	default:
		store, err = ledger.NewFile(cfg.Ledger.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger.New(store, decimal.NewFromFloat(cfg.Ledger.Baseline), log), nil
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	var (
		j   journal.Journal
		err error
	)
	switch cfg.Journal.Type {
	case "sqlite":
		j, err = journal.NewSQLite(cfg.Journal.Path, cfg.Journal.MaxRecords)
	default:
		j, err = journal.NewFile(cfg.Journal.Path, cfg.Journal.MaxRecords)
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

// Package metrics holds the Prometheus collectors for the webhook engine.
//
//	fxhook_signals_total{outcome}        signals by final outcome
//	fxhook_orders_total{instrument,side} orders accepted by the broker
//	fxhook_order_failures_total{instrument} orders rejected after a commit
//	fxhook_closes_total{instrument}      positions closed by reconciliation
//	fxhook_realized_pl_total{instrument,sign} realized P/L committed to the ledger
//	fxhook_virtual_balance{key}          ledger balance after the last commit
//	fxhook_broker_request_seconds{op}    gateway latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Signals       *prometheus.CounterVec
	Orders        *prometheus.CounterVec
	OrderFailures *prometheus.CounterVec
	Closes        *prometheus.CounterVec
	RealizedPL    *prometheus.CounterVec
	Balance       *prometheus.GaugeVec
	BrokerLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxhook_signals_total", Help: "Signals handled, by outcome."},
			[]string{"outcome"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxhook_orders_total", Help: "Market orders accepted by the broker."},
			[]string{"instrument", "side"},
		),
		OrderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxhook_order_failures_total", Help: "Orders that failed after the ledger was updated."},
			[]string{"instrument"},
		),
		Closes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxhook_closes_total", Help: "Positions closed during reconciliation."},
			[]string{"instrument"},
		),
		// Counters cannot go down, so losses and gains are split by sign.
		RealizedPL: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxhook_realized_pl_total", Help: "Absolute realized P/L committed to the ledger."},
			[]string{"instrument", "sign"},
		),
		Balance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "fxhook_virtual_balance", Help: "Virtual balance after the last commit."},
			[]string{"key"},
		),
		BrokerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fxhook_broker_request_seconds",
				Help:    "Broker gateway call latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Signals, m.Orders, m.OrderFailures, m.Closes, m.RealizedPL, m.Balance, m.BrokerLatency)
	}
	return m
}

// Nop returns unregistered collectors.
func Nop() *Metrics { return New(nil) }

// ObservePL records a realized P/L amount.
func (m *Metrics) ObservePL(instrument string, pl float64) {
	switch {
	case pl > 0:
		m.RealizedPL.WithLabelValues(instrument, "gain").Add(pl)
	case pl < 0:
		m.RealizedPL.WithLabelValues(instrument, "loss").Add(-pl)
	}
}

// Since observes the time elapsed from start for a broker op.
func (m *Metrics) Since(op string, start time.Time) {
	m.BrokerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

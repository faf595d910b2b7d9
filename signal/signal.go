// Package signal parses inbound webhook alerts into trade signals.
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rustyeddy/fxhook/market"
)

type Signal struct {
	Side           market.Side
	Instrument     string
	IdempotencyKey string
}

// ValidationError reports a payload that cannot become a Signal.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid signal: " + e.Reason
	}
	return fmt.Sprintf("invalid signal: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// alert covers both the nested strategy shape and the flat shape.
type alert struct {
	Strategy *struct {
		OrderAction string `json:"order_action"`
	} `json:"strategy"`

	Signal string `json:"signal"`
	Side   string `json:"side"`
	Symbol string `json:"symbol"`
	Ticker string `json:"ticker"`

	ID      json.RawMessage `json:"id"`
	AlertID json.RawMessage `json:"alert_id"`
	Time    json.RawMessage `json:"time"`
	BarTime json.RawMessage `json:"bar_time"`
}

// Parse validates body and returns the normalized signal. Instruments
// default to defaultInstrument when the alert names none.
func Parse(body []byte, defaultInstrument string) (Signal, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Signal{}, &ValidationError{Reason: "empty body"}
	}

	var a alert
	if err := json.Unmarshal(body, &a); err != nil {
		return Signal{}, &ValidationError{Reason: "malformed JSON", Err: err}
	}

	field, action := "signal", a.Signal
	switch {
	case a.Strategy != nil && a.Strategy.OrderAction != "":
		field, action = "strategy.order_action", a.Strategy.OrderAction
	case action == "" && a.Side != "":
		field, action = "side", a.Side
	}
	if strings.TrimSpace(action) == "" {
		return Signal{}, &ValidationError{Field: "signal", Reason: "missing action"}
	}

	side, err := market.ParseSide(action)
	if err != nil {
		return Signal{}, &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("unrecognized action %q (want BUY or SELL)", action),
			Err:    err,
		}
	}

	symbol := a.Symbol
	if symbol == "" {
		symbol = a.Ticker
	}
	if symbol == "" {
		symbol = defaultInstrument
	}
	instrument := market.Normalize(symbol)
	if instrument == "" {
		return Signal{}, &ValidationError{Field: "symbol", Reason: "missing instrument"}
	}

	return Signal{
		Side:           side,
		Instrument:     instrument,
		IdempotencyKey: key(a, instrument, side),
	}, nil
}

func key(a alert, instrument string, side market.Side) string {
	if k := scalar(a.ID); k != "" {
		return k
	}
	if k := scalar(a.AlertID); k != "" {
		return k
	}
	t := scalar(a.Time)
	if t == "" {
		t = scalar(a.BarTime)
	}
	if t == "" {
		return ""
	}
	return instrument + ":" + string(side) + ":" + t
}

// scalar renders a JSON string or number as text; anything else is "".
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

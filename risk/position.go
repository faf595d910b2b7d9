// Package risk sizes new positions from a balance, leverage and price.
package risk

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientSize    = errors.New("insufficient size")
)

type Inputs struct {
	Balance      decimal.Decimal
	Price        decimal.Decimal
	Leverage     decimal.Decimal
	Side         market.Side
	ReserveRatio decimal.Decimal

	// MinUnits rejects sizes below it; 0 disables the check.
	MinUnits int64
}

// SizeError carries the numbers behind a rejected size.
type SizeError struct {
	Balance  decimal.Decimal
	Equity   decimal.Decimal
	Price    decimal.Decimal
	Leverage decimal.Decimal
	Units    int64
	MinUnits int64
	Err      error
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%v: balance=%s equity=%s price=%s leverage=%s units=%d",
		e.Err, e.Balance.StringFixed(2), e.Equity.StringFixed(2), e.Price, e.Leverage, e.Units)
}

func (e *SizeError) Unwrap() error { return e.Err }

// Details is a flat view for error responses.
func (e *SizeError) Details() map[string]any {
	d := map[string]any{
		"balance":  e.Balance.StringFixed(2),
		"equity":   e.Equity.StringFixed(2),
		"price":    e.Price.String(),
		"leverage": e.Leverage.String(),
		"units":    e.Units,
	}
	if e.MinUnits > 0 {
		d["min_units"] = e.MinUnits
	}
	return d
}

// Size returns signed units: positive for buys, negative for sells.
// Fractional units are truncated, never rounded up.
func Size(in Inputs) (int64, error) {
	equity := Equity(in.Balance, in.Side, in.ReserveRatio)
	fail := func(units int64, err error) (int64, error) {
		return 0, &SizeError{
			Balance:  in.Balance,
			Equity:   equity,
			Price:    in.Price,
			Leverage: in.Leverage,
			Units:    units,
			MinUnits: in.MinUnits,
			Err:      err,
		}
	}

	if !equity.IsPositive() {
		return fail(0, ErrInsufficientBalance)
	}
	if !in.Price.IsPositive() {
		return 0, fmt.Errorf("size %s: price must be positive, got %s", in.Side, in.Price)
	}

	raw := RawUnits(equity, in.Leverage, in.Price)
	if raw <= 0 || (in.MinUnits > 0 && raw < in.MinUnits) {
		return fail(raw, ErrInsufficientSize)
	}
	return raw * in.Side.Sign(), nil
}

package engine

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/shopspring/decimal"
)

// OrderError is an order that failed after the ledger may already have
// absorbed a close. It carries the numbers needed to reconcile by hand.
type OrderError struct {
	Instrument    string
	Units         int64
	BalanceBefore decimal.Decimal
	RealizedPL    decimal.Decimal
	BalanceAfter  decimal.Decimal
	Err           error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %d %s failed: %v", e.Units, e.Instrument, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// StatusCode and Body expose the broker's response, if there was one.
func (e *OrderError) StatusCode() int {
	var be *broker.Error
	if errors.As(e.Err, &be) {
		return be.StatusCode
	}
	return 0
}

func (e *OrderError) Body() string {
	var be *broker.Error
	if errors.As(e.Err, &be) {
		return be.Body
	}
	return ""
}

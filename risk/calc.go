package risk

import (
	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
)

// Equity is the part of balance available to a new position. Sells hold
// back reserveRatio of the balance; buys use all of it.
func Equity(balance decimal.Decimal, side market.Side, reserveRatio decimal.Decimal) decimal.Decimal {
	if side == market.Sell {
		return balance.Mul(decimal.NewFromInt(1).Sub(reserveRatio))
	}
	return balance
}

// RawUnits is floor(equity * leverage / price), computed exactly. A
// non-positive price or notional yields zero.
func RawUnits(equity, leverage, price decimal.Decimal) int64 {
	notional := equity.Mul(leverage)
	if !price.IsPositive() || !notional.IsPositive() {
		return 0
	}
	q, _ := notional.QuoRem(price, 0)
	return q.IntPart()
}

// Distance is price * pct, rounded to the instrument's display precision.
func Distance(instrument string, price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(pct).Round(int32(market.Meta(instrument).DisplayPrecision))
}

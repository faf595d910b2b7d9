package sim

import "github.com/shopspring/decimal"

// Position is the netted exposure in one instrument. Units are signed.
type Position struct {
	Instrument string
	Units      int64
	AvgPrice   decimal.Decimal
}

type plFunc func(units int64, entry, exit decimal.Decimal) decimal.Decimal

// apply folds a fill into the position and returns the P/L realized by any
// part of the fill that reduced it.
func (p *Position) apply(units int64, price decimal.Decimal, pl plFunc) decimal.Decimal {
	if p.Units == 0 || sameSign(p.Units, units) {
		total := p.Units + units
		p.AvgPrice = p.AvgPrice.Mul(decimal.NewFromInt(abs(p.Units))).
			Add(price.Mul(decimal.NewFromInt(abs(units)))).
			Div(decimal.NewFromInt(abs(total)))
		p.Units = total
		return decimal.Zero
	}

	closing := units
	if abs(units) > abs(p.Units) {
		closing = -p.Units
	}
	realized := pl(-closing, p.AvgPrice, price)

	p.Units += units
	switch {
	case p.Units == 0:
		p.AvgPrice = decimal.Zero
	case !sameSign(p.Units, -closing):
		// flipped through zero: the remainder opened at the fill price
		p.AvgPrice = price
	}
	return realized
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

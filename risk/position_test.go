package risk

import (
	"errors"
	"testing"

	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Inputs
		want int64
	}{
		{
			name: "truncates",
			in:   Inputs{Balance: d("999"), Price: d("2"), Leverage: d("1"), Side: market.Buy},
			want: 499,
		},
		{
			name: "reserve on sell",
			in:   Inputs{Balance: d("1000"), Price: d("1.0"), Leverage: d("10"), Side: market.Sell, ReserveRatio: d("0.2")},
			want: -8000,
		},
		{
			name: "reserve ignored on buy",
			in:   Inputs{Balance: d("1000"), Price: d("1.0"), Leverage: d("10"), Side: market.Buy, ReserveRatio: d("0.2")},
			want: 10000,
		},
		{
			name: "leverage 50",
			in:   Inputs{Balance: d("1000"), Price: d("1.10"), Leverage: d("50"), Side: market.Buy},
			want: 45454,
		},
		{
			name: "at minimum",
			in:   Inputs{Balance: d("100"), Price: d("1"), Leverage: d("1"), Side: market.Sell, MinUnits: 100},
			want: -100,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Size(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSizeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Inputs
		want error
	}{
		{"zero balance", Inputs{Balance: d("0"), Price: d("1.1"), Leverage: d("50"), Side: market.Buy}, ErrInsufficientBalance},
		{"negative balance", Inputs{Balance: d("-12.5"), Price: d("1.1"), Leverage: d("50"), Side: market.Buy}, ErrInsufficientBalance},
		{"full reserve", Inputs{Balance: d("1000"), Price: d("1.1"), Leverage: d("50"), Side: market.Sell, ReserveRatio: d("1")}, ErrInsufficientBalance},
		{"under one unit", Inputs{Balance: d("0.5"), Price: d("2"), Leverage: d("1"), Side: market.Buy}, ErrInsufficientSize},
		{"below minimum", Inputs{Balance: d("10"), Price: d("1"), Leverage: d("1"), Side: market.Buy, MinUnits: 100}, ErrInsufficientSize},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			units, err := Size(tt.in)
			assert.Zero(t, units)
			require.ErrorIs(t, err, tt.want)

			var se *SizeError
			require.ErrorAs(t, err, &se)
			assert.Contains(t, se.Details(), "equity")
		})
	}
}

func TestSizeRejectsBadPrice(t *testing.T) {
	t.Parallel()
	_, err := Size(Inputs{Balance: d("1000"), Price: d("0"), Leverage: d("1"), Side: market.Buy})
	require.Error(t, err)
	var se *SizeError
	assert.False(t, errors.As(err, &se))
}

func TestSizeMonotonic(t *testing.T) {
	t.Parallel()

	price := d("1.0873")
	lev := d("30")
	prev := int64(0)
	for b := 100; b <= 5000; b += 37 {
		units, err := Size(Inputs{Balance: decimal.NewFromInt(int64(b)), Price: price, Leverage: lev, Side: market.Buy})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, units, prev, "balance %d", b)
		prev = units
	}

	prev = 0
	for _, p := range []string{"150.2", "110", "1.9", "1.25", "0.65"} {
		units, err := Size(Inputs{Balance: d("1000"), Price: d(p), Leverage: lev, Side: market.Sell})
		require.NoError(t, err)
		assert.LessOrEqual(t, units, prev, "price %s", p)
		prev = units
	}
}

func TestDistance(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0.00220", Distance("EUR_USD", d("1.1"), d("0.002")).StringFixed(5))
	assert.Equal(t, "0.300", Distance("USD_JPY", d("150"), d("0.002")).StringFixed(3))
}

func TestRawUnitsNeverRoundsUp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                    string
		equity, leverage, price string
		want                    int64
	}{
		{"exact", "6000", "1", "3", 2000},
		{"just below an integer", "5999.99999999999999999", "1", "3", 1999},
		{"tiny remainder", "1000", "50", "1.1000000000000000001", 45454},
		{"zero price", "1000", "50", "0", 0},
		{"negative equity", "-10", "50", "1.1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RawUnits(d(tt.equity), d(tt.leverage), d(tt.price)))
		})
	}
}

package risk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrLimitBreached = errors.New("risk limit breached")

// Limits are realized-loss circuit breakers checked before a new position
// is opened. A zero field disables its check.
type Limits struct {
	MaxDailyLossPct  decimal.Decimal // 0.015
	MaxWeeklyLossPct decimal.Decimal // 0.03
}

func (l Limits) Enabled() bool {
	return l.MaxDailyLossPct.IsPositive() || l.MaxWeeklyLossPct.IsPositive()
}

// PnLSnapshot is realized P/L in account currency.
type PnLSnapshot struct {
	DayRealized  decimal.Decimal
	WeekRealized decimal.Decimal
}

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Evaluate trips a breaker when realized P/L for the window is at or below
// -pct * equity.
func Evaluate(l Limits, equity decimal.Decimal, pnl PnLSnapshot) Decision {
	d := Decision{Allowed: true}

	if l.MaxDailyLossPct.IsPositive() {
		limit := l.MaxDailyLossPct.Mul(equity).Neg()
		if pnl.DayRealized.LessThanOrEqual(limit) {
			d.add("DAILY_LOSS_LIMIT", fmt.Sprintf("day realized %s <= limit %s",
				pnl.DayRealized.StringFixed(2), limit.StringFixed(2)))
		}
	}
	if l.MaxWeeklyLossPct.IsPositive() {
		limit := l.MaxWeeklyLossPct.Mul(equity).Neg()
		if pnl.WeekRealized.LessThanOrEqual(limit) {
			d.add("WEEKLY_LOSS_LIMIT", fmt.Sprintf("week realized %s <= limit %s",
				pnl.WeekRealized.StringFixed(2), limit.StringFixed(2)))
		}
	}
	return d
}

// LimitError reports a Decision that blocked a new position.
type LimitError struct {
	Equity   decimal.Decimal
	PnL      PnLSnapshot
	Decision Decision
}

func (e *LimitError) Error() string {
	codes := make([]string, 0, len(e.Decision.Violations))
	for _, v := range e.Decision.Violations {
		codes = append(codes, v.Code+": "+v.Msg)
	}
	return fmt.Sprintf("%v: %s", ErrLimitBreached, strings.Join(codes, "; "))
}

func (e *LimitError) Unwrap() error { return ErrLimitBreached }

func (e *LimitError) Details() map[string]any {
	codes := make([]string, 0, len(e.Decision.Violations))
	for _, v := range e.Decision.Violations {
		codes = append(codes, v.Code)
	}
	return map[string]any{
		"equity":        e.Equity.StringFixed(2),
		"day_realized":  e.PnL.DayRealized.StringFixed(2),
		"week_realized": e.PnL.WeekRealized.StringFixed(2),
		"violations":    codes,
	}
}

// DayStart is midnight UTC of t's day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart is midnight UTC of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

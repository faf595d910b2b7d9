package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Policy string

const (
	// DirectionAware keeps a position already on the desired side and
	// flips one on the other side.
	DirectionAware Policy = "direction_aware"

	// AlwaysClose closes any open position before sizing a new one.
	AlwaysClose Policy = "always_close"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", DirectionAware:
		return DirectionAware, nil
	case AlwaysClose:
		return AlwaysClose, nil
	default:
		return "", fmt.Errorf("unknown reconcile policy %q", s)
	}
}

type Action int

const (
	// Proceed means no position was open.
	Proceed Action = iota
	// AlreadyPositioned means the open position already matches the signal.
	AlreadyPositioned
	// Closed means the open position was closed and its P/L captured.
	Closed
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case AlreadyPositioned:
		return "already_positioned"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type Reconciliation struct {
	Action     Action
	Position   broker.Position
	ClosedSide market.Side
	RealizedPL decimal.Decimal
	Raw        json.RawMessage

	// Flip is set when the close reverses direction rather than
	// re-entering on the same side.
	Flip bool
}

// Reconciler brings the broker's position in line with a new signal.
type Reconciler struct {
	gw     broker.Gateway
	policy Policy
	log    *zap.Logger
}

func NewReconciler(gw broker.Gateway, policy Policy, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{gw: gw, policy: policy, log: log}
}

func (r *Reconciler) Reconcile(ctx context.Context, instrument string, desired market.Side) (Reconciliation, error) {
	pos, err := r.gw.GetPosition(ctx, instrument)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("get position %s: %w", instrument, err)
	}

	out := Reconciliation{Position: pos}
	side, open := pos.Side()
	if !open {
		out.Action = Proceed
		return out, nil
	}
	if r.policy != AlwaysClose && side == desired {
		out.Action = AlreadyPositioned
		return out, nil
	}

	res, err := r.gw.ClosePosition(ctx, instrument, side)
	switch {
	case errors.Is(err, broker.ErrNoPosition):
		r.log.Warn("position vanished before close, treating as zero P/L",
			zap.String("instrument", instrument),
			zap.Stringer("side", side),
			zap.Int64("net_units", pos.Net()),
		)
	case err != nil:
		return Reconciliation{}, fmt.Errorf("close %s %s: %w", side, instrument, err)
	}

	out.Action = Closed
	out.ClosedSide = side
	out.Flip = desired == side.Opposite()
	out.RealizedPL = res.RealizedPL
	out.Raw = res.Raw
	r.log.Info("position closed",
		zap.String("instrument", instrument),
		zap.Stringer("side", side),
		zap.Int64("net_units", pos.Net()),
		zap.Bool("flip", out.Flip),
		zap.String("realized_pl", res.RealizedPL.String()),
	)
	return out, nil
}

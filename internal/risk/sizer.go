package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"perpbot/internal/model"
)

// ErrInsufficientEquity is returned when the computed position size rounds
// to zero at the exchange's minimum order increment. The entry signal is
// discarded; no state changes.
var ErrInsufficientEquity = errors.New("position size rounds to zero at the exchange quantity step")

// Sizing is the result of sizing an entry: quantity plus the bracket levels.
type Sizing struct {
	Size       float64 `json:"size"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Sizer computes position size and ATR-scaled stop/take-profit brackets.
type Sizer struct {
	policy        SizingPolicy
	atrMultiplier float64
	riskReward    float64
	qtyStep       decimal.Decimal // exchange lot size, 0 disables rounding
}

// NewSizer creates a Sizer. qtyStep is the exchange's minimum order
// increment (e.g. 0.001 BTC); sizes are rounded DOWN to it.
func NewSizer(policy SizingPolicy, atrMultiplier, riskReward, qtyStep float64) *Sizer {
	return &Sizer{
		policy:        policy,
		atrMultiplier: atrMultiplier,
		riskReward:    riskReward,
		qtyStep:       decimal.NewFromFloat(qtyStep),
	}
}

// Policy returns the active sizing policy.
func (s *Sizer) Policy() SizingPolicy { return s.policy }

// Size computes the position size and bracket levels for an entry at
// entryPrice with the given ATR reading. For longs the stop sits below the
// entry and the take-profit above; shorts are the mirror image.
func (s *Sizer) Size(equity, entryPrice, atr float64, side model.Side) (Sizing, error) {
	if side != model.SideLong && side != model.SideShort {
		return Sizing{}, fmt.Errorf("size: side must be LONG or SHORT, got %s", side)
	}
	if entryPrice <= 0 {
		return Sizing{}, fmt.Errorf("size: non-positive entry price %v", entryPrice)
	}
	if atr <= 0 {
		return Sizing{}, fmt.Errorf("size: non-positive ATR %v", atr)
	}

	stopDistance := atr * s.atrMultiplier
	takeDistance := stopDistance * s.riskReward

	sz := Sizing{Size: s.quantize(s.policy.Quantity(equity, entryPrice))}
	if sz.Size <= 0 {
		return Sizing{}, ErrInsufficientEquity
	}

	if side == model.SideLong {
		sz.StopLoss = entryPrice - stopDistance
		sz.TakeProfit = entryPrice + takeDistance
	} else {
		sz.StopLoss = entryPrice + stopDistance
		sz.TakeProfit = entryPrice - takeDistance
	}
	return sz, nil
}

// Brackets recomputes stop/take-profit levels for an existing position,
// e.g. one recovered from the exchange after a restart.
func (s *Sizer) Brackets(entryPrice, atr float64, side model.Side) (stopLoss, takeProfit float64) {
	stopDistance := atr * s.atrMultiplier
	takeDistance := stopDistance * s.riskReward
	if side == model.SideShort {
		return entryPrice + stopDistance, entryPrice - takeDistance
	}
	return entryPrice - stopDistance, entryPrice + takeDistance
}

// quantize rounds qty down to the exchange quantity step using exact
// decimal arithmetic, avoiding float drift on small crypto lot sizes.
func (s *Sizer) quantize(qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	if s.qtyStep.IsZero() {
		return qty
	}
	q := decimal.NewFromFloat(qty).Div(s.qtyStep).Floor().Mul(s.qtyStep)
	f, _ := q.Float64()
	return f
}

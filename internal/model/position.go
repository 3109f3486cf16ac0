package model

// Side is the direction of a position.
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Direction returns +1 for long, -1 for short, 0 for flat.
func (s Side) Direction() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	}
	return 0
}

// PositionIntent is the bot's authoritative belief about the position that
// should exist for the configured symbol. It is mutated only by the position
// state machine, under its lock.
type PositionIntent struct {
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// IsFlat reports whether no position is intended.
func (pi PositionIntent) IsFlat() bool {
	return pi.Side == SideFlat || pi.Side == "" || pi.Size == 0
}

// ExchangePosition is the position as last reported by the execution gateway.
// It is treated as ground truth during reconciliation: when intent and
// exchange disagree, the exchange wins.
type ExchangePosition struct {
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
}

// IsFlat reports whether the exchange holds no position.
func (ep ExchangePosition) IsFlat() bool {
	return ep.Side == SideFlat || ep.Side == "" || ep.Size == 0
}

// Package risk converts account equity, volatility, and configured risk
// parameters into position sizes and stop-loss/take-profit price levels.
package risk

// SizingPolicy determines the raw (pre-rounding) position size for a new
// entry. Policies are a small closed set behind one interface so sizing can
// change without touching the position state machine.
type SizingPolicy interface {
	// Name identifies the policy in logs and config.
	Name() string

	// Quantity returns the desired position size in base units.
	Quantity(equity, entryPrice float64) float64
}

// FixedSize always trades the configured base size, scaled by leverage.
type FixedSize struct {
	Size     float64
	Leverage float64
}

func (p FixedSize) Name() string { return "fixed" }

func (p FixedSize) Quantity(equity, entryPrice float64) float64 {
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	return p.Size * lev
}

// EquityFraction sizes each trade as a fraction of current account equity,
// scaled by leverage and converted to base units at the entry price.
type EquityFraction struct {
	Fraction float64 // e.g. 0.02 = 2% of equity per trade
	Leverage float64
}

func (p EquityFraction) Name() string { return "equity_fraction" }

func (p EquityFraction) Quantity(equity, entryPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	return equity * p.Fraction * lev / entryPrice
}

package strategy

import (
	"perpbot/internal/indicator"
	"perpbot/internal/model"
)

const (
	defaultOversold   = 20.0
	defaultOverbought = 80.0
)

// Generator implements the EMA-crossover strategy with Stochastic and
// volume confirmation.
//
// Entry (flat only): fast EMA crossing the slow EMA, confirmed by %K
// recovering out of the oversold region (long) or falling out of the
// overbought region (short), with current volume at or above its average.
//
// Exit: the opposite EMA crossover. Stop-loss/take-profit exits are handled
// by the position state machine, not here.
type Generator struct {
	oversold   float64
	overbought float64
}

// NewGenerator creates a Generator with the standard 20/80 stochastic bands.
func NewGenerator() *Generator {
	return &Generator{
		oversold:   defaultOversold,
		overbought: defaultOverbought,
	}
}

// Evaluate applies the rules in precedence order (first match wins) and
// returns the signal plus a human-readable reason. Snapshots that are not
// yet ready always produce SignalNone.
func (g *Generator) Evaluate(prev, curr indicator.Snapshot, side model.Side) (Signal, string) {
	if !prev.Ready || !curr.Ready {
		return SignalNone, "indicators warming up"
	}

	crossUp := prev.EMAFast <= prev.EMASlow && curr.EMAFast > curr.EMASlow
	crossDown := prev.EMAFast >= prev.EMASlow && curr.EMAFast < curr.EMASlow

	if side == model.SideFlat {
		volumeOK := curr.Volume >= curr.VolAvg
		stochUp := prev.StochK < g.oversold && curr.StochK > g.oversold
		stochDown := prev.StochK > g.overbought && curr.StochK < g.overbought

		if crossUp && stochUp && volumeOK {
			return SignalEnterLong, "EMA golden cross, stoch oversold recovery, volume confirmed"
		}
		if crossDown && stochDown && volumeOK {
			return SignalEnterShort, "EMA death cross, stoch overbought rollover, volume confirmed"
		}
		return SignalNone, ""
	}

	if side == model.SideLong && crossDown {
		return SignalExitLong, "EMA trend reversal (fast below slow)"
	}
	if side == model.SideShort && crossUp {
		return SignalExitShort, "EMA trend reversal (fast above slow)"
	}

	return SignalNone, ""
}

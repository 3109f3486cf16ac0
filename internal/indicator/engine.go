package indicator

import (
	"time"

	"perpbot/internal/model"
)

// Config specifies the indicator periods for the engine.
type Config struct {
	FastEMA      int `json:"fast_ema"`
	SlowEMA      int `json:"slow_ema"`
	StochPeriod  int `json:"stoch_period"`
	StochKPeriod int `json:"stoch_k_period"` // %D smoothing of %K
	ATRPeriod    int `json:"atr_period"`
	VolAvgPeriod int `json:"vol_avg_period"`
}

// Snapshot holds all indicator values computed from one bar, plus the bar's
// close and volume so downstream consumers can evaluate filters without
// carrying the bar itself. Ready is true only when every component has
// accumulated enough data.
type Snapshot struct {
	Start   time.Time `json:"start"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
	EMAFast float64   `json:"ema_fast"`
	EMASlow float64   `json:"ema_slow"`
	StochK  float64   `json:"stoch_k"`
	StochD  float64   `json:"stoch_d"`
	ATR     float64   `json:"atr"`
	VolAvg  float64   `json:"vol_avg"`
	Ready   bool      `json:"ready"`
}

// Engine maintains all indicator state for a single symbol and produces one
// Snapshot per processed bar. It retains only the current and previous
// snapshots (needed for crossover detection), never unbounded history.
//
// Not safe for concurrent use; the bar path is single-goroutine.
type Engine struct {
	cfg Config

	emaFast *EMA
	emaSlow *EMA
	stoch   *Stochastic
	atr     *ATR
	volAvg  *SMA

	lastStart time.Time
	seen      bool

	prev    Snapshot
	curr    Snapshot
	hasPrev bool
	hasCurr bool
}

// NewEngine creates an indicator engine with the given periods.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emaFast: NewEMA(cfg.FastEMA),
		emaSlow: NewEMA(cfg.SlowEMA),
		stoch:   NewStochastic(cfg.StochPeriod, cfg.StochKPeriod),
		atr:     NewATR(cfg.ATRPeriod),
		volAvg:  NewSMA(cfg.VolAvgPeriod),
	}
}

// Update processes one new bar and returns its Snapshot.
// A bar whose Start does not strictly increase past the last processed bar
// is rejected with *OutOfOrderBarError and leaves all state unchanged.
func (e *Engine) Update(bar model.Bar) (Snapshot, error) {
	if e.seen && !bar.Start.After(e.lastStart) {
		return Snapshot{}, &OutOfOrderBarError{Last: e.lastStart, Got: bar.Start}
	}
	e.lastStart = bar.Start
	e.seen = true

	e.emaFast.Update(bar.Close)
	e.emaSlow.Update(bar.Close)
	e.stoch.Update(bar)
	e.atr.Update(bar)
	e.volAvg.Update(bar.Volume)

	snap := Snapshot{
		Start:   bar.Start,
		Close:   bar.Close,
		Volume:  bar.Volume,
		EMAFast: e.emaFast.Value(),
		EMASlow: e.emaSlow.Value(),
		StochK:  e.stoch.K(),
		StochD:  e.stoch.D(),
		ATR:     e.atr.Value(),
		VolAvg:  e.volAvg.Value(),
		Ready: e.emaFast.Ready() && e.emaSlow.Ready() &&
			e.stoch.Ready() && e.atr.Ready() && e.volAvg.Ready(),
	}

	e.prev, e.hasPrev = e.curr, e.hasCurr
	e.curr, e.hasCurr = snap, true
	return snap, nil
}

// Current returns the latest snapshot, if any bar has been processed.
func (e *Engine) Current() (Snapshot, bool) { return e.curr, e.hasCurr }

// Prev returns the snapshot before the latest one, if it exists.
func (e *Engine) Prev() (Snapshot, bool) { return e.prev, e.hasPrev }

// LastBarStart returns the start time of the last processed bar.
func (e *Engine) LastBarStart() (time.Time, bool) { return e.lastStart, e.seen }

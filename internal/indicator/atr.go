package indicator

import (
	"fmt"
	"math"

	"perpbot/internal/model"
)

// ATR calculates Average True Range with Wilder's smoothing.
// The first value is a simple average of true range over the period;
// subsequent values use atr = (prev*(period-1) + tr) / period.
type ATR struct {
	period    int
	count     int
	sum       float64
	current   float64
	prevClose float64
	hasPrev   bool
}

// NewATR creates a new ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Update(bar model.Bar) {
	tr := bar.High - bar.Low
	if a.hasPrev {
		tr = math.Max(tr, math.Abs(bar.High-a.prevClose))
		tr = math.Max(tr, math.Abs(bar.Low-a.prevClose))
	}
	a.prevClose = bar.Close
	a.hasPrev = true
	a.count++

	if a.count <= a.period {
		a.sum += tr
		if a.count == a.period {
			a.current = a.sum / float64(a.period)
		}
		return
	}

	a.current = (a.current*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }

// State serializes the ATR for checkpoint persistence.
func (a *ATR) State() ComponentState {
	return ComponentState{
		Type:      "ATR",
		Period:    a.period,
		Count:     a.count,
		Sum:       a.sum,
		Current:   a.current,
		PrevClose: a.prevClose,
		HasPrev:   a.hasPrev,
	}
}

// Restore loads ATR state from a checkpoint.
func (a *ATR) Restore(st ComponentState) error {
	if st.Type != "ATR" {
		return fmt.Errorf("restore ATR: unexpected state type %q", st.Type)
	}
	a.period = st.Period
	a.count = st.Count
	a.sum = st.Sum
	a.current = st.Current
	a.prevClose = st.PrevClose
	a.hasPrev = st.HasPrev
	return nil
}

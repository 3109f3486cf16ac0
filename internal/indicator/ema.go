package indicator

import "fmt"

// EMA calculates an Exponential Moving Average.
// O(1) per update — no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA with the given period.
// The first value is seeded with a simple average of the first period inputs.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Update(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for the initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = price*k + prev*(1-k), k = 2/(period+1)
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// State serializes the EMA for checkpoint persistence.
func (e *EMA) State() ComponentState {
	return ComponentState{
		Type:       "EMA",
		Period:     e.period,
		Multiplier: e.multiplier,
		Current:    e.current,
		Count:      e.count,
		Sum:        e.sum,
	}
}

// Restore loads EMA state from a checkpoint.
func (e *EMA) Restore(st ComponentState) error {
	if st.Type != "EMA" {
		return fmt.Errorf("restore EMA: unexpected state type %q", st.Type)
	}
	e.period = st.Period
	e.multiplier = st.Multiplier
	e.current = st.Current
	e.count = st.Count
	e.sum = st.Sum
	return nil
}

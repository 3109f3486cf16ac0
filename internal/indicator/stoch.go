package indicator

import (
	"fmt"

	"perpbot/internal/model"
)

// Stochastic calculates the Stochastic Oscillator:
//
//	%K = 100 * (close - lowestLow(period)) / (highestHigh(period) - lowestLow(period))
//	%D = SMA(%K, dPeriod)
//
// When the high-low range over the lookback window is zero (flat market),
// %K is defined as 50.
type Stochastic struct {
	period int
	highs  []float64 // circular buffers, same idx/count
	lows   []float64
	idx    int
	count  int
	k      float64
	d      *SMA
}

// NewStochastic creates a Stochastic with the given lookback period for %K
// and smoothing period for %D.
func NewStochastic(period, dPeriod int) *Stochastic {
	return &Stochastic{
		period: period,
		highs:  make([]float64, period),
		lows:   make([]float64, period),
		d:      NewSMA(dPeriod),
	}
}

func (s *Stochastic) Update(bar model.Bar) {
	s.highs[s.idx] = bar.High
	s.lows[s.idx] = bar.Low
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count < s.period {
		return
	}

	// Window scan: period is small (typically 14), a linear pass is fine.
	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.period; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}

	if hh == ll {
		s.k = 50 // flat range
	} else {
		s.k = 100 * (bar.Close - ll) / (hh - ll)
	}
	s.d.Update(s.k)
}

// K returns the current %K value.
func (s *Stochastic) K() float64 { return s.k }

// D returns the current %D value (SMA of %K).
func (s *Stochastic) D() float64 { return s.d.Value() }

// Ready reports whether both %K and %D have enough data.
func (s *Stochastic) Ready() bool {
	return s.count >= s.period && s.d.Ready()
}

// State serializes the Stochastic for checkpoint persistence.
func (s *Stochastic) State() ComponentState {
	highs := make([]float64, len(s.highs))
	copy(highs, s.highs)
	lows := make([]float64, len(s.lows))
	copy(lows, s.lows)
	dState := s.d.State()
	return ComponentState{
		Type:    "STOCH",
		Period:  s.period,
		Buf:     highs,
		Buf2:    lows,
		Idx:     s.idx,
		Count:   s.count,
		Current: s.k,
		Nested:  &dState,
	}
}

// Restore loads Stochastic state from a checkpoint.
func (s *Stochastic) Restore(st ComponentState) error {
	if st.Type != "STOCH" {
		return fmt.Errorf("restore Stochastic: unexpected state type %q", st.Type)
	}
	s.period = st.Period
	s.idx = st.Idx
	s.count = st.Count
	s.k = st.Current
	s.highs = make([]float64, st.Period)
	copy(s.highs, st.Buf)
	s.lows = make([]float64, st.Period)
	copy(s.lows, st.Buf2)
	if st.Nested == nil {
		return fmt.Errorf("restore Stochastic: missing %%D state")
	}
	return s.d.Restore(*st.Nested)
}

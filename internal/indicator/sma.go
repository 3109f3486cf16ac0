package indicator

import "fmt"

// SMA calculates a Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for a zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// State serializes the SMA for checkpoint persistence.
func (s *SMA) State() ComponentState {
	bufCopy := make([]float64, len(s.buf))
	copy(bufCopy, s.buf)
	return ComponentState{
		Type:    "SMA",
		Period:  s.period,
		Buf:     bufCopy,
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// Restore loads SMA state from a checkpoint.
func (s *SMA) Restore(st ComponentState) error {
	if st.Type != "SMA" {
		return fmt.Errorf("restore SMA: unexpected state type %q", st.Type)
	}
	s.period = st.Period
	s.idx = st.Idx
	s.count = st.Count
	s.sum = st.Sum
	s.current = st.Current
	if len(st.Buf) > 0 {
		s.buf = make([]float64, len(st.Buf))
		copy(s.buf, st.Buf)
	} else {
		s.buf = make([]float64, st.Period)
	}
	return nil
}

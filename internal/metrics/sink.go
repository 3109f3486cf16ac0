package metrics

import "perpbot/internal/model"

// Sink counts observability events on the Prometheus registry. It sits in
// the event fan-out next to the log and alert sinks.
type Sink struct {
	m *Metrics
}

// NewSink creates an event-counting sink on the given metrics set.
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

func (s *Sink) Emit(ev model.Event) {
	switch ev.Type {
	case model.EventOrderSubmitted:
		s.m.OrdersSubmitted.Inc()
	case model.EventOrderFilled:
		s.m.OrdersFilled.Inc()
	case model.EventOrderFailed:
		s.m.OrdersFailed.Inc()
	case model.EventDivergence:
		s.m.Divergences.Inc()
	}
}

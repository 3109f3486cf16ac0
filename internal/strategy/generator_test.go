package strategy

import (
	"testing"

	"perpbot/internal/indicator"
	"perpbot/internal/model"
)

// snap builds a ready Snapshot with the fields the generator reads.
func snap(emaFast, emaSlow, stochK, volume, volAvg float64) indicator.Snapshot {
	return indicator.Snapshot{
		EMAFast: emaFast,
		EMASlow: emaSlow,
		StochK:  stochK,
		Volume:  volume,
		VolAvg:  volAvg,
		Ready:   true,
	}
}

func TestEvaluate_EnterLong(t *testing.T) {
	g := NewGenerator()

	// Golden cross with %K recovering through 20 and above-average volume.
	prev := snap(100, 101, 15, 100, 100)
	curr := snap(102, 101, 22, 120, 100)

	sig, reason := g.Evaluate(prev, curr, model.SideFlat)
	if sig != SignalEnterLong {
		t.Fatalf("signal = %s (%s), want ENTER_LONG", sig, reason)
	}
}

func TestEvaluate_EnterShort(t *testing.T) {
	g := NewGenerator()

	// Death cross with %K falling through 80 and above-average volume.
	prev := snap(101, 100, 85, 100, 100)
	curr := snap(99, 100, 74, 150, 100)

	sig, _ := g.Evaluate(prev, curr, model.SideFlat)
	if sig != SignalEnterShort {
		t.Fatalf("signal = %s, want ENTER_SHORT", sig)
	}
}

func TestEvaluate_EntryFilters(t *testing.T) {
	g := NewGenerator()

	cases := []struct {
		name string
		prev indicator.Snapshot
		curr indicator.Snapshot
	}{
		{
			// Volume below average blocks the entry.
			name: "low volume",
			prev: snap(100, 101, 15, 100, 100),
			curr: snap(102, 101, 22, 80, 100),
		},
		{
			// %K never inside the oversold region: no confirmation.
			name: "stoch not oversold",
			prev: snap(100, 101, 25, 100, 100),
			curr: snap(102, 101, 40, 120, 100),
		},
		{
			// %K still below 20: recovery not confirmed yet.
			name: "stoch still oversold",
			prev: snap(100, 101, 10, 100, 100),
			curr: snap(102, 101, 18, 120, 100),
		},
		{
			// No EMA crossover this bar.
			name: "no cross",
			prev: snap(102, 101, 15, 100, 100),
			curr: snap(103, 101, 22, 120, 100),
		},
	}

	for _, tc := range cases {
		if sig, _ := g.Evaluate(tc.prev, tc.curr, model.SideFlat); sig != SignalNone {
			t.Errorf("%s: signal = %s, want NONE", tc.name, sig)
		}
	}
}

func TestEvaluate_ExitOnReversal(t *testing.T) {
	g := NewGenerator()

	// Death cross closes a long regardless of stochastic or volume.
	prev := snap(101, 100, 50, 10, 100)
	curr := snap(99, 100, 50, 10, 100)
	if sig, _ := g.Evaluate(prev, curr, model.SideLong); sig != SignalExitLong {
		t.Errorf("long + death cross: got %s, want EXIT_LONG", sig)
	}

	// Golden cross closes a short.
	prev = snap(99, 100, 50, 10, 100)
	curr = snap(101, 100, 50, 10, 100)
	if sig, _ := g.Evaluate(prev, curr, model.SideShort); sig != SignalExitShort {
		t.Errorf("short + golden cross: got %s, want EXIT_SHORT", sig)
	}

	// The same-direction cross does not exit.
	if sig, _ := g.Evaluate(prev, curr, model.SideLong); sig != SignalNone {
		t.Errorf("long + golden cross: got %s, want NONE", sig)
	}
}

func TestEvaluate_NoEntriesWhileInPosition(t *testing.T) {
	g := NewGenerator()

	// A perfect long setup is ignored when already long or short.
	prev := snap(100, 101, 15, 100, 100)
	curr := snap(102, 101, 22, 120, 100)

	if sig, _ := g.Evaluate(prev, curr, model.SideLong); sig != SignalNone {
		t.Errorf("already long: got %s, want NONE", sig)
	}
	// When short, the golden cross is an exit, not an entry.
	if sig, _ := g.Evaluate(prev, curr, model.SideShort); sig != SignalExitShort {
		t.Errorf("short: got %s, want EXIT_SHORT", sig)
	}
}

func TestEvaluate_WarmingUp(t *testing.T) {
	g := NewGenerator()

	prev := snap(100, 101, 15, 100, 100)
	curr := snap(102, 101, 22, 120, 100)
	prev.Ready = false

	if sig, _ := g.Evaluate(prev, curr, model.SideFlat); sig != SignalNone {
		t.Errorf("not ready: got %s, want NONE", sig)
	}
}

package account

import (
	"math"
	"testing"
)

func TestRecordPnL(t *testing.T) {
	a := New(10000)

	a.RecordPnL(500)
	if a.Equity() != 10500 || a.Realized() != 500 {
		t.Errorf("equity=%v realized=%v, want 10500/500", a.Equity(), a.Realized())
	}

	a.RecordPnL(-700)
	if a.Equity() != 9800 || a.Realized() != -200 {
		t.Errorf("equity=%v realized=%v, want 9800/-200", a.Equity(), a.Realized())
	}
}

func TestDrawdownPct(t *testing.T) {
	a := New(10000)
	if a.DrawdownPct() != 0 {
		t.Errorf("fresh account drawdown = %v, want 0", a.DrawdownPct())
	}

	a.RecordPnL(1000)  // peak 11000
	a.RecordPnL(-2200) // equity 8800

	want := (11000.0 - 8800.0) / 11000.0 * 100
	if math.Abs(a.DrawdownPct()-want) > 1e-9 {
		t.Errorf("drawdown = %v, want %v", a.DrawdownPct(), want)
	}

	// Recovering past the peak resets drawdown to zero.
	a.RecordPnL(3000)
	if a.DrawdownPct() != 0 {
		t.Errorf("drawdown after new peak = %v, want 0", a.DrawdownPct())
	}
}

func TestSetEquity(t *testing.T) {
	a := New(10000)

	a.SetEquity(12000)
	if a.Equity() != 12000 {
		t.Errorf("equity = %v, want 12000", a.Equity())
	}
	// Exchange sync keeps realized P&L untouched.
	if a.Realized() != 0 {
		t.Errorf("realized = %v, want 0", a.Realized())
	}
	// Peak follows upward syncs.
	a.SetEquity(9000)
	if math.Abs(a.DrawdownPct()-25) > 1e-9 {
		t.Errorf("drawdown = %v, want 25", a.DrawdownPct())
	}
}

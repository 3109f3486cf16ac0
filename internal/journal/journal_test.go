package journal

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"perpbot/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestEmitAndQueryEvents(t *testing.T) {
	j := openTestJournal(t)

	j.Emit(model.Event{
		Type:    model.EventSignal,
		Level:   model.LevelInfo,
		At:      time.Now().UTC(),
		Symbol:  "BTCUSDT",
		Message: "ema cross up",
		Fields:  map[string]any{"close": 30000.0},
	})

	var count int
	if err := j.DB().QueryRow(`SELECT COUNT(*) FROM events WHERE type = ?`, "SIGNAL").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1", count)
	}
}

func TestRecordAndReadTrades(t *testing.T) {
	j := openTestJournal(t)

	trades := []Trade{
		{Symbol: "BTCUSDT", Side: model.SideLong, Qty: 0.1, EntryPrice: 30000, ExitPrice: 31000, PnL: 100, Reason: "take profit", ClosedAt: time.Now().UTC()},
		{Symbol: "BTCUSDT", Side: model.SideShort, Qty: 0.2, EntryPrice: 31000, ExitPrice: 31500, PnL: -100, Reason: "stop loss", ClosedAt: time.Now().UTC()},
	}
	for _, tr := range trades {
		if err := j.RecordTrade(tr); err != nil {
			t.Fatalf("RecordTrade: %v", err)
		}
	}

	got, err := j.RecentTrades(10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("trades = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].Side != "SHORT" || got[0].PnL != -100 {
		t.Errorf("unexpected first trade: %+v", got[0])
	}
	if got[1].Side != "LONG" || got[1].EntryPrice != 30000 {
		t.Errorf("unexpected second trade: %+v", got[1])
	}
}

func TestEmit_CapturesClosedTrades(t *testing.T) {
	j := openTestJournal(t)

	// An entry fill carries no exit price and must not create a trade row.
	j.Emit(model.Event{
		Type: model.EventOrderFilled, Level: model.LevelInfo,
		At: time.Now().UTC(), Symbol: "BTCUSDT", Message: "entry filled",
		Fields: map[string]any{"side": "LONG", "qty": 0.1, "avg_price": 30000.0},
	})
	// A position-close fill carries both prices.
	j.Emit(model.Event{
		Type: model.EventOrderFilled, Level: model.LevelInfo,
		At: time.Now().UTC(), Symbol: "BTCUSDT", Message: "position closed: take_profit",
		Fields: map[string]any{
			"side": "LONG", "qty": 0.1,
			"entry_price": 30000.0, "exit_price": 30700.0,
		},
	})

	got, err := j.RecentTrades(10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("trades = %d, want 1", len(got))
	}
	if math.Abs(got[0].PnL-70) > 1e-9 {
		t.Errorf("pnl = %v, want 70", got[0].PnL)
	}
	if got[0].Reason != "position closed: take_profit" {
		t.Errorf("reason = %q", got[0].Reason)
	}
}

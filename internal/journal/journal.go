// Package journal persists observability events and closed trades to SQLite
// for analysis and audit. The journal doubles as an EventSink so every
// signal, order, transition and divergence lands in the same database.
package journal

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"perpbot/internal/model"
)

// Journal is a SQLite-backed event and trade log.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

var _ model.EventSink = (*Journal)(nil)

// Open opens (or creates) the journal database.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		type        TEXT NOT NULL,
		level       TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		message     TEXT,
		fields      TEXT,
		at          DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);

	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		pnl         REAL NOT NULL,
		reason      TEXT,
		closed_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB exposes the underlying handle for health probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Emit persists an event. Failures are logged, never propagated: the journal
// must not take the trading path down with it.
func (j *Journal) Emit(ev model.Event) {
	var fields []byte
	if len(ev.Fields) > 0 {
		fields, _ = json.Marshal(ev.Fields)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO events (type, level, symbol, message, fields, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Type), string(ev.Level), ev.Symbol, ev.Message,
		string(fields), ev.At.Format(time.RFC3339),
	)
	if err != nil {
		log.Printf("[journal] event insert failed: %v", err)
	}

	if t, ok := tradeFromEvent(ev); ok {
		if err := j.recordTradeLocked(t); err != nil {
			log.Printf("[journal] trade insert failed: %v", err)
		}
	}
}

// tradeFromEvent extracts a closed round-trip from a position-close fill
// event. Such events carry both entry and exit prices in their fields.
func tradeFromEvent(ev model.Event) (Trade, bool) {
	if ev.Type != model.EventOrderFilled {
		return Trade{}, false
	}
	entry, ok1 := fieldFloat(ev.Fields, "entry_price")
	exit, ok2 := fieldFloat(ev.Fields, "exit_price")
	if !ok1 || !ok2 {
		return Trade{}, false
	}
	qty, _ := fieldFloat(ev.Fields, "qty")
	side, _ := ev.Fields["side"].(string)

	dir := 1.0
	if model.Side(side) == model.SideShort {
		dir = -1.0
	}
	return Trade{
		Symbol:     ev.Symbol,
		Side:       model.Side(side),
		Qty:        qty,
		EntryPrice: entry,
		ExitPrice:  exit,
		PnL:        (exit - entry) * qty * dir,
		Reason:     ev.Message,
		ClosedAt:   ev.At,
	}, true
}

func fieldFloat(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Trade is a closed round-trip position.
type Trade struct {
	Symbol     string
	Side       model.Side
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     string
	ClosedAt   time.Time
}

// RecordTrade persists a closed trade.
func (j *Journal) RecordTrade(t Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.recordTradeLocked(t)
}

func (j *Journal) recordTradeLocked(t Trade) error {
	_, err := j.db.Exec(
		`INSERT INTO trades (symbol, side, qty, entry_price, exit_price, pnl, reason, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Symbol, string(t.Side), t.Qty, t.EntryPrice, t.ExitPrice, t.PnL,
		t.Reason, t.ClosedAt.Format(time.RFC3339),
	)
	return err
}

// TradeRecord is a row from the trades table.
type TradeRecord struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
	Reason     string  `json:"reason"`
	ClosedAt   string  `json:"closed_at"`
}

// RecentTrades returns the last N trades, newest first.
func (j *Journal) RecentTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, symbol, side, qty, entry_price, exit_price, pnl, reason, closed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice,
			&t.ExitPrice, &t.PnL, &t.Reason, &t.ClosedAt); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

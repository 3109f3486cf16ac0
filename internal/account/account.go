// Package account tracks account equity and realized P&L.
//
// It maintains the equity figure the risk sizer draws on, applies realized
// P&L from closed positions, and tracks peak equity for drawdown reporting.
package account

import (
	"log"
	"sync"
)

// Account tracks equity for a single trading account.
type Account struct {
	mu       sync.RWMutex
	equity   float64
	peak     float64
	realized float64
}

// New creates an Account with the given starting equity.
func New(initialEquity float64) *Account {
	return &Account{
		equity: initialEquity,
		peak:   initialEquity,
	}
}

// Equity returns the current equity.
func (a *Account) Equity() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.equity
}

// Realized returns the cumulative realized P&L since start.
func (a *Account) Realized() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.realized
}

// DrawdownPct returns the current drawdown from peak equity in percent.
func (a *Account) DrawdownPct() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.peak <= 0 {
		return 0
	}
	return (a.peak - a.equity) / a.peak * 100
}

// RecordPnL applies realized P&L from a closed position.
func (a *Account) RecordPnL(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.realized += pnl
	a.equity += pnl
	if a.equity > a.peak {
		a.peak = a.equity
	}

	log.Printf("[account] realized P&L: %+.2f, equity: %.2f, peak: %.2f", pnl, a.equity, a.peak)
}

// SetEquity replaces the tracked equity with an exchange-reported figure.
// Used to sync with the wallet balance at startup and after reconciliation.
func (a *Account) SetEquity(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.equity = v
	if v > a.peak {
		a.peak = v
	}
}

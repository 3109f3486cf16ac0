// Package strategy converts consecutive indicator snapshots into discrete
// trade signals.
//
// The generator is stateless: it compares the previous and current snapshot
// (crossover detection needs both) against the current position side and
// returns at most one signal per evaluation.
package strategy

// Signal represents a discrete trading decision.
type Signal string

const (
	SignalNone       Signal = "NONE"
	SignalEnterLong  Signal = "ENTER_LONG"
	SignalEnterShort Signal = "ENTER_SHORT"
	SignalExitLong   Signal = "EXIT_LONG"
	SignalExitShort  Signal = "EXIT_SHORT"
)

// IsEntry reports whether the signal opens a position.
func (s Signal) IsEntry() bool {
	return s == SignalEnterLong || s == SignalEnterShort
}

// IsExit reports whether the signal closes a position.
func (s Signal) IsExit() bool {
	return s == SignalExitLong || s == SignalExitShort
}

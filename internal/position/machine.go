// Package position owns the authoritative view of what position should
// exist for the configured symbol. It issues order intents to the execution
// gateway and reconciles confirmations, rejections, and exchange-reported
// state into state transitions.
//
// Invariant: at most one non-flat PositionIntent exists at any time. All
// mutation happens under one mutex, so bar processing and reconciliation
// ticks are linearized.
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"perpbot/internal/account"
	"perpbot/internal/indicator"
	"perpbot/internal/model"
	"perpbot/internal/risk"
)

// State is the lifecycle state of the position machine.
type State string

const (
	StateFlat         State = "FLAT"
	StatePendingEntry State = "PENDING_ENTRY"
	StateOpen         State = "OPEN"
	StatePendingExit  State = "PENDING_EXIT"
)

// ErrStuckPosition is returned when an exit order has failed twice. The
// position may still be open on the exchange; new entries are halted until
// reconciliation observes the position closed externally.
var ErrStuckPosition = errors.New("exit order failed twice; position requires external intervention")

// ErrEntriesHalted is returned for entry attempts while a stuck position is
// pending external intervention.
var ErrEntriesHalted = errors.New("entries halted: stuck position pending resolution")

// Config holds the machine's tunables.
type Config struct {
	Symbol string

	// ConfirmTimeout bounds the wait for an order confirmation. On expiry
	// the machine queries exchange state instead of assuming an outcome.
	ConfirmTimeout time.Duration

	// ConfirmPoll is the order-status polling interval.
	ConfirmPoll time.Duration

	// SizeTolerance is the maximum intent-vs-exchange size difference that
	// reconciliation treats as agreement.
	SizeTolerance float64
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 10 * time.Second
	}
	if c.ConfirmPoll <= 0 {
		c.ConfirmPoll = 500 * time.Millisecond
	}
	if c.SizeTolerance <= 0 {
		c.SizeTolerance = 1e-9
	}
	return c
}

// Machine is the position state machine.
type Machine struct {
	cfg   Config
	gw    model.ExecutionGateway
	sizer *risk.Sizer
	acct  *account.Account
	sink  model.EventSink

	mu     sync.Mutex
	state  State
	intent model.PositionIntent
	halted bool

	// gen increments on every intent mutation. Reconcile snapshots it before
	// querying the exchange and discards the answer if it moved, so a slow
	// query can never clobber intent with a stale view.
	gen uint64

	// needsBrackets marks a position recovered or adopted from the exchange
	// whose stop/take-profit must be recomputed from the next valid ATR.
	needsBrackets bool
}

// NewMachine creates a Machine in the Flat state. Call Recover before
// processing bars so a position surviving a restart is adopted, not assumed
// away.
func NewMachine(cfg Config, gw model.ExecutionGateway, sizer *risk.Sizer, acct *account.Account, sink model.EventSink) *Machine {
	return &Machine{
		cfg:    cfg.withDefaults(),
		gw:     gw,
		sizer:  sizer,
		acct:   acct,
		sink:   sink,
		state:  StateFlat,
		intent: model.PositionIntent{Side: model.SideFlat},
	}
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Side returns the intended position side.
func (m *Machine) Side() model.Side {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.intent.IsFlat() {
		return model.SideFlat
	}
	return m.intent.Side
}

// Intent returns a copy of the current position intent.
func (m *Machine) Intent() model.PositionIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent
}

// Halted reports whether new entries are blocked by a stuck position.
func (m *Machine) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Recover initializes the machine from exchange-reported state at startup.
// A non-flat exchange position becomes an Open intent with brackets
// recomputed from the first valid ATR reading; otherwise the machine starts
// Flat.
func (m *Machine) Recover(ctx context.Context) error {
	pos, err := m.gw.QueryPosition(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pos.IsFlat() {
		m.state = StateFlat
		m.intent = model.PositionIntent{Side: model.SideFlat}
		m.gen++
		log.Printf("[position] recovery: exchange flat, starting flat")
		return nil
	}

	m.state = StateOpen
	m.intent = model.PositionIntent{
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.AvgEntryPrice,
	}
	m.gen++
	m.needsBrackets = true
	log.Printf("[position] recovery: adopted %s %v @ %v from exchange",
		pos.Side, pos.Size, pos.AvgEntryPrice)
	m.emit(model.EventStateTransition, model.LevelInfo,
		"recovered open position from exchange", map[string]any{
			"side": string(pos.Side), "size": pos.Size, "entry_price": pos.AvgEntryPrice,
		})
	return nil
}

// OnBar runs the per-bar risk checks for an open position: recomputing
// missing brackets once ATR is valid, then checking whether the bar's
// low/high crossed the stop-loss or take-profit. These checks run BEFORE
// signal evaluation each bar (risk control has priority over signal exits).
func (m *Machine) OnBar(ctx context.Context, bar model.Bar, snap indicator.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return nil
	}

	if m.needsBrackets && snap.Ready && snap.ATR > 0 {
		stop, take := m.sizer.Brackets(m.intent.EntryPrice, snap.ATR, m.intent.Side)
		m.intent.StopLoss = stop
		m.intent.TakeProfit = take
		m.gen++
		m.needsBrackets = false
		m.emit(model.EventStateTransition, model.LevelInfo,
			"brackets recomputed for recovered position", map[string]any{
				"stop_loss": stop, "take_profit": take,
			})
	}

	if m.intent.StopLoss == 0 && m.intent.TakeProfit == 0 {
		return nil // recovered position, ATR not ready yet
	}

	var reason string
	switch m.intent.Side {
	case model.SideLong:
		if bar.Low <= m.intent.StopLoss {
			reason = "stop_loss"
		} else if bar.High >= m.intent.TakeProfit {
			reason = "take_profit"
		}
	case model.SideShort:
		if bar.High >= m.intent.StopLoss {
			reason = "stop_loss"
		} else if bar.Low <= m.intent.TakeProfit {
			reason = "take_profit"
		}
	}
	if reason == "" {
		return nil
	}

	log.Printf("[position] %s touched (bar low=%v high=%v), closing %s",
		reason, bar.Low, bar.High, m.intent.Side)
	return m.exitLocked(ctx, reason, bar.Close)
}

// Enter opens a new position from Flat: sizes it, submits the entry order
// with brackets attached, and waits (bounded) for confirmation. On
// rejection or timeout the machine returns to Flat and the signal is
// discarded; it is re-evaluated on the next bar, never retried automatically.
func (m *Machine) Enter(ctx context.Context, side model.Side, snap indicator.Snapshot, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return ErrEntriesHalted
	}
	if m.state != StateFlat {
		return nil
	}

	sizing, err := m.sizer.Size(m.acct.Equity(), snap.Close, snap.ATR, side)
	if err != nil {
		m.emit(model.EventOrderFailed, model.LevelWarning,
			"entry sizing failed: "+err.Error(), map[string]any{"side": string(side)})
		return err
	}

	req := model.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Side:       side,
		Type:       model.OrderMarket,
		Qty:        sizing.Size,
		StopLoss:   sizing.StopLoss,
		TakeProfit: sizing.TakeProfit,
	}

	m.setStateLocked(StatePendingEntry, reason)
	handle, err := m.gw.SubmitOrder(ctx, req)
	if err != nil {
		m.setStateLocked(StateFlat, "entry submission failed")
		m.emit(model.EventOrderFailed, model.LevelWarning,
			"entry submission failed: "+err.Error(), map[string]any{"side": string(side)})
		return err
	}
	m.emit(model.EventOrderSubmitted, model.LevelInfo, "entry order submitted", map[string]any{
		"handle": string(handle), "side": string(side), "qty": sizing.Size,
		"stop_loss": sizing.StopLoss, "take_profit": sizing.TakeProfit,
	})

	status, fill := m.confirm(ctx, handle)
	switch status {
	case model.OrderFilled:
		entryPrice := fill.AvgPrice
		if entryPrice <= 0 {
			entryPrice = snap.Close
		}
		size := fill.Qty
		if size <= 0 {
			size = sizing.Size
		}
		m.intent = model.PositionIntent{
			Side:       side,
			Size:       size,
			EntryPrice: entryPrice,
			StopLoss:   sizing.StopLoss,
			TakeProfit: sizing.TakeProfit,
		}
		m.gen++
		m.setStateLocked(StateOpen, "entry filled")
		m.emit(model.EventOrderFilled, model.LevelInfo, "entry filled", map[string]any{
			"handle": string(handle), "side": string(side), "qty": size, "avg_price": entryPrice,
		})
		return nil

	case model.OrderRejected:
		m.setStateLocked(StateFlat, "entry rejected")
		m.emit(model.EventOrderFailed, model.LevelWarning, "entry rejected by exchange",
			map[string]any{"handle": string(handle)})
		return nil

	default:
		// Confirmation timed out: never assume success or failure, ask the
		// exchange what actually happened.
		pos, qerr := m.gw.QueryPosition(ctx)
		if qerr == nil && !pos.IsFlat() && pos.Side == side {
			m.intent = model.PositionIntent{
				Side:       side,
				Size:       pos.Size,
				EntryPrice: pos.AvgEntryPrice,
				StopLoss:   sizing.StopLoss,
				TakeProfit: sizing.TakeProfit,
			}
			m.gen++
			m.setStateLocked(StateOpen, "entry confirmed via position query")
			m.emit(model.EventOrderFilled, model.LevelInfo,
				"entry confirmed via position query after timeout", map[string]any{
					"handle": string(handle), "qty": pos.Size, "avg_price": pos.AvgEntryPrice,
				})
			return nil
		}
		m.setStateLocked(StateFlat, "entry confirmation timeout")
		m.emit(model.EventOrderFailed, model.LevelWarning,
			"entry confirmation timed out, no position created", map[string]any{
				"handle": string(handle),
			})
		return nil
	}
}

// ExitSignal closes the open position in response to a trend-reversal
// signal. A signal for the wrong side is ignored.
func (m *Machine) ExitSignal(ctx context.Context, side model.Side, reason string, markPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen || m.intent.Side != side {
		return nil
	}
	return m.exitLocked(ctx, reason, markPrice)
}

// exitLocked submits a reduce-only close and resolves it. A failed exit is
// retried once immediately; a second failure escalates to ErrStuckPosition
// and halts new entries.
func (m *Machine) exitLocked(ctx context.Context, reason string, markPrice float64) error {
	closing := m.intent
	m.setStateLocked(StatePendingExit, reason)

	for attempt := 1; attempt <= 2; attempt++ {
		exitPrice, ok := m.tryCloseLocked(ctx, closing, attempt)
		if !ok {
			continue
		}
		if exitPrice <= 0 {
			exitPrice = markPrice
		}
		if exitPrice > 0 && closing.EntryPrice > 0 {
			pnl := (exitPrice - closing.EntryPrice) * closing.Size * closing.Side.Direction()
			m.acct.RecordPnL(pnl)
		}
		m.intent = model.PositionIntent{Side: model.SideFlat}
		m.gen++
		m.setStateLocked(StateFlat, "exit filled ("+reason+")")
		m.emit(model.EventOrderFilled, model.LevelInfo, "position closed: "+reason, map[string]any{
			"side": string(closing.Side), "qty": closing.Size,
			"entry_price": closing.EntryPrice, "exit_price": exitPrice,
		})
		return nil
	}

	m.halted = true
	m.emit(model.EventFatal, model.LevelCritical,
		"exit order failed twice; position may be stuck, entries halted", map[string]any{
			"side": string(closing.Side), "qty": closing.Size, "reason": reason,
		})
	return ErrStuckPosition
}

// tryCloseLocked submits one reduce-only close attempt and confirms it.
// Returns the exit price (0 if unknown) and whether the position is closed.
func (m *Machine) tryCloseLocked(ctx context.Context, closing model.PositionIntent, attempt int) (float64, bool) {
	req := model.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Side:       opposite(closing.Side),
		Type:       model.OrderMarket,
		Qty:        closing.Size,
		ReduceOnly: true,
	}

	handle, err := m.gw.SubmitOrder(ctx, req)
	if err != nil {
		log.Printf("[position] exit submission failed (attempt %d): %v", attempt, err)
		return 0, false
	}
	m.emit(model.EventOrderSubmitted, model.LevelInfo, "exit order submitted", map[string]any{
		"handle": string(handle), "attempt": attempt, "qty": closing.Size,
	})

	status, fill := m.confirm(ctx, handle)
	switch status {
	case model.OrderFilled:
		return fill.AvgPrice, true
	case model.OrderRejected:
		log.Printf("[position] exit rejected (attempt %d)", attempt)
		return 0, false
	default:
		// Timeout: trust the exchange, not our last submission.
		pos, qerr := m.gw.QueryPosition(ctx)
		if qerr == nil && pos.IsFlat() {
			return 0, true
		}
		log.Printf("[position] exit unconfirmed and position still open (attempt %d)", attempt)
		return 0, false
	}
}

// Reconcile compares intent against exchange-reported state and forces
// intent to match the exchange when they disagree beyond tolerance. The
// exchange's report is always authoritative.
//
// The position query runs outside the lock so it cannot stall the bar path,
// which means the answer can be stale by the time the lock is reacquired. A
// generation check detects any intent mutation that landed in between and
// skips the pass; the next tick sees fresh state.
func (m *Machine) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	pos, err := m.gw.QueryPosition(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		log.Printf("[position] reconcile skipped: intent changed during position query")
		return nil
	}

	// A stuck position closed by external intervention clears the halt.
	if m.halted && pos.IsFlat() {
		m.halted = false
		m.intent = model.PositionIntent{Side: model.SideFlat}
		m.gen++
		m.setStateLocked(StateFlat, "stuck position resolved externally")
		m.emit(model.EventStateTransition, model.LevelWarning,
			"stuck position resolved externally, entries resumed", nil)
		return nil
	}

	intentFlat := m.intent.IsFlat()
	switch {
	case intentFlat && pos.IsFlat():
		return nil

	case intentFlat && !pos.IsFlat():
		m.intent = model.PositionIntent{
			Side:       pos.Side,
			Size:       pos.Size,
			EntryPrice: pos.AvgEntryPrice,
		}
		m.gen++
		m.needsBrackets = true
		m.setStateLocked(StateOpen, "reconcile adopted exchange position")
		m.divergence("exchange reports a position the bot did not intend", pos)
		return nil

	case !intentFlat && pos.IsFlat():
		m.intent = model.PositionIntent{Side: model.SideFlat}
		m.gen++
		m.setStateLocked(StateFlat, "reconcile: exchange reports flat")
		m.divergence("exchange reports flat against a non-flat intent", pos)
		return nil

	default:
		if m.intent.Side != pos.Side {
			m.intent = model.PositionIntent{
				Side:       pos.Side,
				Size:       pos.Size,
				EntryPrice: pos.AvgEntryPrice,
			}
			m.gen++
			m.needsBrackets = true
			m.divergence("exchange reports the opposite side", pos)
			return nil
		}
		if math.Abs(m.intent.Size-pos.Size) > m.cfg.SizeTolerance {
			m.intent.Size = pos.Size
			m.intent.EntryPrice = pos.AvgEntryPrice
			m.gen++
			m.divergence("exchange reports a different size", pos)
		}
		return nil
	}
}

// RunReconciler polls exchange state on a fixed interval until ctx is done.
func (m *Machine) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(ctx); err != nil {
				log.Printf("[position] reconcile failed: %v", err)
			}
		}
	}
}

// confirm polls order status until filled/rejected or the confirm timeout
// expires. Returns OrderPending on timeout.
func (m *Machine) confirm(ctx context.Context, handle model.OrderHandle) (model.OrderStatus, model.OrderFill) {
	deadline := time.Now().Add(m.cfg.ConfirmTimeout)
	for {
		status, err := m.gw.QueryOrderStatus(ctx, handle)
		if err == nil {
			switch status {
			case model.OrderFilled:
				fill, ferr := m.gw.QueryOrderFill(ctx, handle)
				if ferr != nil {
					fill = model.OrderFill{Handle: handle}
				}
				return model.OrderFilled, fill
			case model.OrderRejected:
				return model.OrderRejected, model.OrderFill{}
			}
		} else {
			log.Printf("[position] order status query failed: %v", err)
		}

		if time.Now().After(deadline) {
			return model.OrderPending, model.OrderFill{}
		}
		select {
		case <-ctx.Done():
			return model.OrderPending, model.OrderFill{}
		case <-time.After(m.cfg.ConfirmPoll):
		}
	}
}

func (m *Machine) setStateLocked(to State, reason string) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	log.Printf("[position] %s → %s (%s)", from, to, reason)
	m.emit(model.EventStateTransition, model.LevelInfo, reason, map[string]any{
		"from": string(from), "to": string(to),
	})
}

func (m *Machine) divergence(msg string, pos model.ExchangePosition) {
	m.emit(model.EventDivergence, model.LevelWarning, msg, map[string]any{
		"exchange_side": string(pos.Side), "exchange_size": pos.Size,
		"exchange_entry": pos.AvgEntryPrice,
	})
}

func (m *Machine) emit(t model.EventType, lvl model.EventLevel, msg string, fields map[string]any) {
	if m.sink == nil {
		return
	}
	m.sink.Emit(model.Event{
		Type:    t,
		Level:   lvl,
		At:      time.Now().UTC(),
		Symbol:  m.cfg.Symbol,
		Message: msg,
		Fields:  fields,
	})
}

func opposite(s model.Side) model.Side {
	if s == model.SideLong {
		return model.SideShort
	}
	return model.SideLong
}

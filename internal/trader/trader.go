// Package trader runs the bar-processing pipeline: bar → indicator engine →
// signal generator → risk-sized order intents → position state machine.
//
// Processing one bar is atomic: it completes (or fails cleanly) before the
// next bar is taken, so no two bars are ever evaluated against the same
// PositionIntent concurrently.
package trader

import (
	"context"
	"errors"
	"log"
	"time"

	"perpbot/internal/indicator"
	"perpbot/internal/metrics"
	"perpbot/internal/model"
	"perpbot/internal/position"
	"perpbot/internal/risk"
	"perpbot/internal/strategy"
)

// Config holds the trader's tunables.
type Config struct {
	Symbol string

	// CheckpointEvery persists the indicator engine state after this many
	// processed bars. 0 disables periodic checkpointing.
	CheckpointEvery int
}

// Trader orchestrates the single logical stream of bar events.
type Trader struct {
	cfg     Config
	engine  *indicator.Engine
	gen     *strategy.Generator
	machine *position.Machine
	prom    *metrics.Metrics
	sink    model.EventSink
	store   model.CheckpointStore // optional

	barsSinceCheckpoint int
}

// New creates a Trader. store may be nil to disable checkpointing.
func New(cfg Config, engine *indicator.Engine, gen *strategy.Generator,
	machine *position.Machine, prom *metrics.Metrics, sink model.EventSink,
	store model.CheckpointStore) *Trader {
	return &Trader{
		cfg:     cfg,
		engine:  engine,
		gen:     gen,
		machine: machine,
		prom:    prom,
		sink:    sink,
		store:   store,
	}
}

// Warmup feeds historical bars through the indicator engine only; no
// signals, no orders. Used at startup so the bot does not wait a full slow
// window of live bars before its first evaluation.
func (t *Trader) Warmup(bars []model.Bar) {
	for _, bar := range bars {
		if _, err := t.engine.Update(bar); err != nil {
			// Backfill overlapping a restored checkpoint is expected.
			continue
		}
	}
	if snap, ok := t.engine.Current(); ok {
		log.Printf("[trader] warmup complete: %d bars offered, indicators ready=%v", len(bars), snap.Ready)
	}
}

// Run consumes bars until ctx is cancelled or barCh closes. A final
// checkpoint is persisted on the way out.
func (t *Trader) Run(ctx context.Context, barCh <-chan model.Bar) error {
	defer t.saveCheckpoint()

	for {
		select {
		case <-ctx.Done():
			return nil
		case bar, ok := <-barCh:
			if !ok {
				return nil
			}
			t.processBar(ctx, bar)
		}
	}
}

func (t *Trader) processBar(ctx context.Context, bar model.Bar) {
	start := time.Now()

	snap, err := t.engine.Update(bar)
	if err != nil {
		var oob *indicator.OutOfOrderBarError
		if errors.As(err, &oob) {
			t.prom.OutOfOrderBars.Inc()
			log.Printf("[trader] rejected bar: %v", err)
			return
		}
		log.Printf("[trader] indicator update failed: %v", err)
		return
	}
	t.prom.BarsTotal.Inc()

	// Risk-driven exits first: stop/take-profit checks have priority over
	// signal-driven exits within the same bar.
	if err := t.machine.OnBar(ctx, bar, snap); err != nil {
		if errors.Is(err, position.ErrStuckPosition) {
			log.Printf("[trader] FATAL: %v", err)
		} else {
			log.Printf("[trader] position bar check failed: %v", err)
		}
	}

	prev, ok := t.engine.Prev()
	if ok {
		t.evaluate(ctx, bar, prev, snap)
	}

	t.prom.BarProcessDur.Observe(time.Since(start).Seconds())
	t.prom.MachineState.Set(stateGaugeValue(t.machine.State()))

	t.barsSinceCheckpoint++
	if t.cfg.CheckpointEvery > 0 && t.barsSinceCheckpoint >= t.cfg.CheckpointEvery {
		t.saveCheckpoint()
		t.barsSinceCheckpoint = 0
	}
}

func (t *Trader) evaluate(ctx context.Context, bar model.Bar, prev, curr indicator.Snapshot) {
	sig, reason := t.gen.Evaluate(prev, curr, t.machine.Side())
	if sig == strategy.SignalNone {
		return
	}

	t.prom.SignalsTotal.WithLabelValues(string(sig)).Inc()
	t.sink.Emit(model.Event{
		Type:    model.EventSignal,
		Level:   model.LevelInfo,
		At:      time.Now().UTC(),
		Symbol:  t.cfg.Symbol,
		Message: reason,
		Fields: map[string]any{
			"signal": string(sig), "close": curr.Close,
			"ema_fast": curr.EMAFast, "ema_slow": curr.EMASlow,
			"stoch_k": curr.StochK, "atr": curr.ATR,
		},
	})

	var err error
	switch sig {
	case strategy.SignalEnterLong:
		err = t.machine.Enter(ctx, model.SideLong, curr, reason)
	case strategy.SignalEnterShort:
		err = t.machine.Enter(ctx, model.SideShort, curr, reason)
	case strategy.SignalExitLong:
		err = t.machine.ExitSignal(ctx, model.SideLong, reason, bar.Close)
	case strategy.SignalExitShort:
		err = t.machine.ExitSignal(ctx, model.SideShort, reason, bar.Close)
	}
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrInsufficientEquity):
			log.Printf("[trader] entry skipped: %v", err)
		case errors.Is(err, position.ErrEntriesHalted):
			log.Printf("[trader] entry blocked: %v", err)
		case errors.Is(err, position.ErrStuckPosition):
			log.Printf("[trader] FATAL: %v", err)
		default:
			log.Printf("[trader] signal %s failed: %v", sig, err)
		}
	}
}

// saveCheckpoint persists engine state. Failures are logged, never fatal:
// a lost checkpoint only costs warmup time on the next restart.
func (t *Trader) saveCheckpoint() {
	if t.store == nil {
		return
	}
	data, err := t.engine.MarshalCheckpoint()
	if err != nil {
		log.Printf("[trader] checkpoint marshal failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.SaveCheckpointJSON(ctx, data); err != nil {
		log.Printf("[trader] checkpoint save failed: %v", err)
		return
	}
	t.prom.CheckpointsSaved.Inc()
}

func stateGaugeValue(s position.State) float64 {
	switch s {
	case position.StateFlat:
		return 0
	case position.StatePendingEntry:
		return 1
	case position.StateOpen:
		return 2
	case position.StatePendingExit:
		return 3
	}
	return -1
}

package indicator

import (
	"encoding/json"
	"fmt"
	"time"
)

// ComponentState holds the serialized state of a single indicator component.
// Fields are a union across component types; unused fields are omitted.
type ComponentState struct {
	Type   string `json:"type"` // "EMA", "SMA", "ATR", "STOCH"
	Period int    `json:"period"`

	Buf     []float64 `json:"buf,omitempty"`  // SMA window / STOCH highs
	Buf2    []float64 `json:"buf2,omitempty"` // STOCH lows
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	Multiplier float64 `json:"multiplier,omitempty"` // EMA
	PrevClose  float64 `json:"prev_close,omitempty"` // ATR
	HasPrev    bool    `json:"has_prev,omitempty"`   // ATR

	Nested *ComponentState `json:"nested,omitempty"` // STOCH %D
}

// Checkpoint holds the full serialized state of an Engine, persisted
// periodically so a restarted process resumes with warm indicators.
type Checkpoint struct {
	Version      int            `json:"version"` // schema version for forward compat
	Config       Config         `json:"config"`
	LastBarStart int64          `json:"last_bar_start"` // unix seconds, 0 if none
	Prev         Snapshot       `json:"prev"`
	Curr         Snapshot       `json:"curr"`
	HasPrev      bool           `json:"has_prev"`
	HasCurr      bool           `json:"has_curr"`
	EMAFast      ComponentState `json:"ema_fast"`
	EMASlow      ComponentState `json:"ema_slow"`
	Stoch        ComponentState `json:"stoch"`
	ATR          ComponentState `json:"atr"`
	VolAvg       ComponentState `json:"vol_avg"`
}

const checkpointVersion = 1

// Checkpoint captures the full state of the engine.
func (e *Engine) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		Version: checkpointVersion,
		Config:  e.cfg,
		Prev:    e.prev,
		Curr:    e.curr,
		HasPrev: e.hasPrev,
		HasCurr: e.hasCurr,
		EMAFast: e.emaFast.State(),
		EMASlow: e.emaSlow.State(),
		Stoch:   e.stoch.State(),
		ATR:     e.atr.State(),
		VolAvg:  e.volAvg.State(),
	}
	if e.seen {
		cp.LastBarStart = e.lastStart.Unix()
	}
	return cp
}

// MarshalCheckpoint serializes the engine state to JSON.
func (e *Engine) MarshalCheckpoint() ([]byte, error) {
	return json.Marshal(e.Checkpoint())
}

// RestoreEngine rebuilds an Engine from a serialized checkpoint.
// The checkpoint's periods must match cfg: a configuration change
// invalidates the checkpoint and the caller falls back to a cold start.
func RestoreEngine(cfg Config, data []byte) (*Engine, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint version %d not supported", cp.Version)
	}
	if cp.Config != cfg {
		return nil, fmt.Errorf("checkpoint config %+v does not match current config %+v", cp.Config, cfg)
	}

	e := NewEngine(cfg)
	if err := e.emaFast.Restore(cp.EMAFast); err != nil {
		return nil, err
	}
	if err := e.emaSlow.Restore(cp.EMASlow); err != nil {
		return nil, err
	}
	if err := e.stoch.Restore(cp.Stoch); err != nil {
		return nil, err
	}
	if err := e.atr.Restore(cp.ATR); err != nil {
		return nil, err
	}
	if err := e.volAvg.Restore(cp.VolAvg); err != nil {
		return nil, err
	}

	e.prev, e.hasPrev = cp.Prev, cp.HasPrev
	e.curr, e.hasCurr = cp.Curr, cp.HasCurr
	if cp.LastBarStart != 0 {
		e.lastStart = time.Unix(cp.LastBarStart, 0).UTC()
		e.seen = true
	}
	return e, nil
}

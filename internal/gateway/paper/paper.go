// Package paper simulates order execution without real exchange calls.
// Orders fill immediately at the submitted mark price plus configurable
// slippage, and the simulator tracks the resulting position and equity so
// the rest of the system runs unchanged in paper mode.
package paper

import (
	"context"
	"fmt"
	"log"
	"sync"

	"perpbot/internal/model"
)

// Fill records one simulated execution.
type Fill struct {
	Handle   model.OrderHandle  `json:"handle"`
	Request  model.OrderRequest `json:"request"`
	AvgPrice float64            `json:"avg_price"`
	Slippage float64            `json:"slippage"`
}

// Gateway is an in-memory model.ExecutionGateway for paper trading.
type Gateway struct {
	mu       sync.RWMutex
	mark     float64 // last known mark price
	equity   float64
	position model.ExchangePosition
	fills    map[model.OrderHandle]Fill
	orderSeq int64

	slippageBps float64 // e.g. 5 = 0.05%
}

var _ model.ExecutionGateway = (*Gateway)(nil)

// New creates a paper gateway with the given starting equity.
func New(startingEquity, slippageBps float64) *Gateway {
	return &Gateway{
		equity:      startingEquity,
		fills:       make(map[model.OrderHandle]Fill),
		slippageBps: slippageBps,
		position:    model.ExchangePosition{Side: model.SideFlat},
	}
}

// MarkPrice updates the simulated mark price. The feed loop calls this on
// every bar so market orders fill at a current price.
func (g *Gateway) MarkPrice(price float64) {
	g.mu.Lock()
	g.mark = price
	g.mu.Unlock()
}

// SubmitOrder fills immediately at the mark (or limit) price with slippage.
func (g *Gateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	price := req.Price
	if price <= 0 {
		price = g.mark
	}
	if price <= 0 {
		return "", &model.GatewayError{Op: "submit order", Err: fmt.Errorf("no mark price available")}
	}

	slip := price * g.slippageBps / 10000
	// Buys fill higher, sells fill lower.
	if req.Side == model.SideLong {
		price += slip
	} else {
		price -= slip
	}

	g.orderSeq++
	h := model.OrderHandle(fmt.Sprintf("PAPER-%d", g.orderSeq))
	g.fills[h] = Fill{Handle: h, Request: req, AvgPrice: price, Slippage: slip}
	g.apply(req, price)

	log.Printf("[paper] %s %s qty=%v price=%.2f (slip=%.2f) reduceOnly=%v order=%s",
		req.Side, req.Symbol, req.Qty, price, slip, req.ReduceOnly, h)
	return h, nil
}

// apply updates the simulated position and realizes P&L on closes.
// Caller holds g.mu.
func (g *Gateway) apply(req model.OrderRequest, price float64) {
	if req.ReduceOnly {
		if g.position.IsFlat() {
			return
		}
		pnl := (price - g.position.AvgEntryPrice) * g.position.Size * g.position.Side.Direction()
		g.equity += pnl
		g.position = model.ExchangePosition{Side: model.SideFlat}
		return
	}
	g.position = model.ExchangePosition{
		Side:          req.Side,
		Size:          req.Qty,
		AvgEntryPrice: price,
	}
}

// CancelOrder is a no-op: paper orders fill synchronously.
func (g *Gateway) CancelOrder(ctx context.Context, h model.OrderHandle) error {
	return nil
}

// QueryOrderStatus reports FILLED for any known handle.
func (g *Gateway) QueryOrderStatus(ctx context.Context, h model.OrderHandle) (model.OrderStatus, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.fills[h]; !ok {
		return "", &model.GatewayError{Op: "query order status", Err: fmt.Errorf("unknown order %s", h)}
	}
	return model.OrderFilled, nil
}

// QueryOrderFill returns the simulated fill.
func (g *Gateway) QueryOrderFill(ctx context.Context, h model.OrderHandle) (model.OrderFill, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fill, ok := g.fills[h]
	if !ok {
		return model.OrderFill{}, &model.GatewayError{Op: "query order fill", Err: fmt.Errorf("unknown order %s", h)}
	}
	return model.OrderFill{Handle: h, AvgPrice: fill.AvgPrice, Qty: fill.Request.Qty}, nil
}

// QueryPosition returns the simulated position.
func (g *Gateway) QueryPosition(ctx context.Context) (model.ExchangePosition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.position, nil
}

// QueryEquity returns the simulated equity.
func (g *Gateway) QueryEquity(ctx context.Context) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.equity, nil
}

// Fills returns a snapshot of all simulated fills.
func (g *Gateway) Fills() []Fill {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Fill, 0, len(g.fills))
	for _, f := range g.fills {
		out = append(out, f)
	}
	return out
}

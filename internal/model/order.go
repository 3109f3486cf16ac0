package model

import "fmt"

// OrderType is the order execution style.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the gateway-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
)

// OrderHandle identifies a submitted order at the gateway.
type OrderHandle string

// OrderRequest describes an order intent handed to the execution gateway.
// StopLoss/TakeProfit, when non-zero, are attached to the order so the
// exchange brackets the resulting position server-side.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"` // LONG = buy, SHORT = sell
	Type       OrderType `json:"type"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"` // 0 = market
	ReduceOnly bool      `json:"reduce_only"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
}

// OrderFill reports the confirmed execution of an order.
type OrderFill struct {
	Handle   OrderHandle `json:"handle"`
	AvgPrice float64     `json:"avg_price"`
	Qty      float64     `json:"qty"`
}

// GatewayError wraps a transient execution-gateway failure (submission or
// query). Callers retry or fall back to querying exchange state; they never
// assume success or failure from it.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

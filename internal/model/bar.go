package model

import "time"

// Bar represents one closed OHLCV kline for the traded symbol.
// Bars arrive from the market data feed in strictly increasing Start order;
// a bar whose Start does not advance past the previous one is rejected
// upstream by the indicator engine.
type Bar struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"` // bucket start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

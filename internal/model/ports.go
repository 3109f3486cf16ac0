package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the core (indicator engine, signal generator,
// risk sizer, position state machine) from concrete collaborators
// (exchange gateway, checkpoint storage, observability sinks).

// ExecutionGateway places and tracks orders against the exchange.
// Implementations: Bybit v5 REST (live/testnet) and a paper simulator.
type ExecutionGateway interface {
	// SubmitOrder places an order and returns a handle for status polling.
	// "Submitted" is not "confirmed": callers must poll QueryOrderStatus.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)

	// CancelOrder cancels a pending order.
	CancelOrder(ctx context.Context, h OrderHandle) error

	// QueryOrderStatus returns the current lifecycle state of an order.
	QueryOrderStatus(ctx context.Context, h OrderHandle) (OrderStatus, error)

	// QueryOrderFill returns fill details for a filled order.
	QueryOrderFill(ctx context.Context, h OrderHandle) (OrderFill, error)

	// QueryPosition returns the exchange-reported position for the symbol.
	QueryPosition(ctx context.Context) (ExchangePosition, error)

	// QueryEquity returns the account equity in the quote currency.
	QueryEquity(ctx context.Context) (float64, error)
}

// CheckpointStore persists opaque engine checkpoints so a restarted process
// resumes with warm indicator state instead of re-seeding from scratch.
type CheckpointStore interface {
	// SaveCheckpointJSON persists a JSON-encoded checkpoint.
	SaveCheckpointJSON(ctx context.Context, data []byte) error

	// LoadCheckpointJSON loads the most recent checkpoint as raw JSON.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpointJSON(ctx context.Context) ([]byte, error)

	// Close releases underlying resources.
	Close() error
}

// EventSink consumes structured observability events. Implementations must
// be safe for concurrent use and must never block the trading path.
type EventSink interface {
	Emit(ev Event)
}

package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"perpbot/internal/model"
)

// Client implements model.ExecutionGateway.
var _ model.ExecutionGateway = (*Client)(nil)

// orderResult is the create/cancel response payload.
type orderResult struct {
	OrderID string `json:"orderId"`
}

// SubmitOrder places an order. Returns a handle for status polling; the
// caller must confirm the fill separately.
func (c *Client) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderHandle, error) {
	body := map[string]any{
		"category":  category,
		"symbol":    req.Symbol,
		"side":      sideString(req.Side),
		"orderType": orderTypeString(req.Type),
		"qty":       formatQty(req.Qty),
	}
	if req.Type == model.OrderLimit && req.Price > 0 {
		body["price"] = formatQty(req.Price)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = formatQty(req.StopLoss)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = formatQty(req.TakeProfit)
	}

	var res orderResult
	if err := c.postPrivate(ctx, routes["order.create"], body, &res); err != nil {
		return "", &model.GatewayError{Op: "submit order", Err: err}
	}
	if res.OrderID == "" {
		return "", &model.GatewayError{Op: "submit order", Err: fmt.Errorf("empty orderId in response")}
	}
	return model.OrderHandle(res.OrderID), nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, h model.OrderHandle) error {
	body := map[string]any{
		"category": category,
		"symbol":   c.cfg.Symbol,
		"orderId":  string(h),
	}
	if err := c.postPrivate(ctx, routes["order.cancel"], body, nil); err != nil {
		return &model.GatewayError{Op: "cancel order", Err: err}
	}
	return nil
}

// realtimeOrder is one entry of the order/realtime list.
type realtimeOrder struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
	CumExecQty  string `json:"cumExecQty"`
}

type realtimeResult struct {
	List []realtimeOrder `json:"list"`
}

func (c *Client) queryOrder(ctx context.Context, h model.OrderHandle) (realtimeOrder, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", c.cfg.Symbol)
	params.Set("orderId", string(h))

	var res realtimeResult
	if err := c.getPrivate(ctx, routes["order.realtime"], params, &res); err != nil {
		return realtimeOrder{}, err
	}
	if len(res.List) == 0 {
		return realtimeOrder{}, fmt.Errorf("order %s not found", h)
	}
	return res.List[0], nil
}

// QueryOrderStatus maps Bybit's order lifecycle onto the coarse
// PENDING/FILLED/REJECTED states the position machine drives on.
func (c *Client) QueryOrderStatus(ctx context.Context, h model.OrderHandle) (model.OrderStatus, error) {
	ord, err := c.queryOrder(ctx, h)
	if err != nil {
		return "", &model.GatewayError{Op: "query order status", Err: err}
	}
	switch ord.OrderStatus {
	case "Filled":
		return model.OrderFilled, nil
	case "Cancelled", "Rejected", "Deactivated":
		return model.OrderRejected, nil
	default:
		// New, PartiallyFilled, Untriggered, PendingCancel.
		return model.OrderPending, nil
	}
}

// QueryOrderFill returns the executed price and quantity of a filled order.
func (c *Client) QueryOrderFill(ctx context.Context, h model.OrderHandle) (model.OrderFill, error) {
	ord, err := c.queryOrder(ctx, h)
	if err != nil {
		return model.OrderFill{}, &model.GatewayError{Op: "query order fill", Err: err}
	}
	avg, err := parseFloat(ord.AvgPrice)
	if err != nil {
		return model.OrderFill{}, &model.GatewayError{Op: "query order fill", Err: fmt.Errorf("avgPrice %q: %w", ord.AvgPrice, err)}
	}
	qty, err := parseFloat(ord.CumExecQty)
	if err != nil {
		return model.OrderFill{}, &model.GatewayError{Op: "query order fill", Err: fmt.Errorf("cumExecQty %q: %w", ord.CumExecQty, err)}
	}
	return model.OrderFill{Handle: h, AvgPrice: avg, Qty: qty}, nil
}

// positionEntry is one entry of the position/list response.
type positionEntry struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // "Buy", "Sell", "None"
	Size     string `json:"size"`
	AvgPrice string `json:"avgPrice"`
}

type positionResult struct {
	List []positionEntry `json:"list"`
}

// QueryPosition returns the exchange-reported position for the configured
// symbol. A missing entry means flat.
func (c *Client) QueryPosition(ctx context.Context) (model.ExchangePosition, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", c.cfg.Symbol)

	var res positionResult
	if err := c.getPrivate(ctx, routes["position.list"], params, &res); err != nil {
		return model.ExchangePosition{}, &model.GatewayError{Op: "query position", Err: err}
	}
	if len(res.List) == 0 {
		return model.ExchangePosition{Side: model.SideFlat}, nil
	}

	entry := res.List[0]
	size, err := parseFloat(entry.Size)
	if err != nil {
		return model.ExchangePosition{}, &model.GatewayError{Op: "query position", Err: fmt.Errorf("size %q: %w", entry.Size, err)}
	}
	avg, err := parseFloat(entry.AvgPrice)
	if err != nil {
		return model.ExchangePosition{}, &model.GatewayError{Op: "query position", Err: fmt.Errorf("avgPrice %q: %w", entry.AvgPrice, err)}
	}

	side := model.SideFlat
	if size > 0 {
		switch entry.Side {
		case "Buy":
			side = model.SideLong
		case "Sell":
			side = model.SideShort
		}
	}
	if side == model.SideFlat {
		return model.ExchangePosition{Side: model.SideFlat}, nil
	}
	return model.ExchangePosition{Side: side, Size: size, AvgEntryPrice: avg}, nil
}

// walletResult is the wallet-balance response payload.
type walletResult struct {
	List []struct {
		TotalEquity string `json:"totalEquity"`
	} `json:"list"`
}

// QueryEquity returns the unified account's total equity.
func (c *Client) QueryEquity(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var res walletResult
	if err := c.getPrivate(ctx, routes["wallet.balance"], params, &res); err != nil {
		return 0, &model.GatewayError{Op: "query equity", Err: err}
	}
	if len(res.List) == 0 {
		return 0, &model.GatewayError{Op: "query equity", Err: fmt.Errorf("empty wallet-balance list")}
	}
	eq, err := parseFloat(res.List[0].TotalEquity)
	if err != nil {
		return 0, &model.GatewayError{Op: "query equity", Err: fmt.Errorf("totalEquity %q: %w", res.List[0].TotalEquity, err)}
	}
	return eq, nil
}

func sideString(s model.Side) string {
	if s == model.SideShort {
		return "Sell"
	}
	return "Buy"
}

func orderTypeString(t model.OrderType) string {
	if t == model.OrderLimit {
		return "Limit"
	}
	return "Market"
}

// formatQty renders a float the way Bybit expects: decimal, no exponent,
// no trailing zeros.
func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

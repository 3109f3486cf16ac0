package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"perpbot/internal/model"
)

// klineResult is the market/kline response payload. Each row is
// [startMs, open, high, low, close, volume, turnover] as strings,
// ordered newest first.
type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

// RecentBars fetches the most recent closed bars for warmup, oldest first.
// The in-progress bar at the head of the exchange response is dropped.
// This is a public endpoint; no credentials required.
func (c *Client) RecentBars(ctx context.Context, interval string, limit int) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", c.cfg.Symbol)
	params.Set("interval", interval)
	// One extra row because the newest row is the still-open bar.
	params.Set("limit", strconv.Itoa(limit+1))

	var res klineResult
	if err := c.getPublic(ctx, routes["market.kline"], params, &res); err != nil {
		return nil, fmt.Errorf("recent bars: %w", err)
	}
	if len(res.List) == 0 {
		return nil, nil
	}

	rows := res.List[1:] // drop the in-progress bar
	bars := make([]model.Bar, 0, len(rows))
	// Reverse to oldest-first for indicator seeding.
	for i := len(rows) - 1; i >= 0; i-- {
		bar, err := parseKlineRow(c.cfg.Symbol, rows[i])
		if err != nil {
			return nil, fmt.Errorf("recent bars: row %d: %w", i, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseKlineRow(symbol string, row []string) (model.Bar, error) {
	if len(row) < 6 {
		return model.Bar{}, fmt.Errorf("short kline row: %d fields", len(row))
	}
	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Bar{}, fmt.Errorf("start %q: %w", row[0], err)
	}
	vals := [5]float64{}
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d %q: %w", i+1, row[i+1], err)
		}
		vals[i] = v
	}
	return model.Bar{
		Symbol: symbol,
		Start:  time.Unix(0, startMs*int64(time.Millisecond)).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

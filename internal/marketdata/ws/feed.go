// Package ws streams closed kline bars from the Bybit v5 public WebSocket.
//
// The read loop is decoupled from the consumer by an SPSC ring buffer so a
// slow bar pipeline can never stall the socket reader. Only confirmed
// (closed) bars are forwarded; in-progress kline updates are ignored.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"perpbot/internal/model"
	"perpbot/internal/ringbuf"
)

const (
	// MainnetURL is the Bybit v5 public stream for USDT perpetuals.
	MainnetURL = "wss://stream.bybit.com/v5/public/linear"
	// TestnetURL is the testnet equivalent.
	TestnetURL = "wss://stream-testnet.bybit.com/v5/public/linear"

	heartbeatInterval = 20 * time.Second
	readTimeout       = 60 * time.Second

	// Reconnect backoff bounds.
	minBackoff = 1 * time.Second
	maxBackoff = 60 * time.Second
)

// Config holds the feed's connection parameters.
type Config struct {
	URL      string // stream endpoint, defaults to MainnetURL
	Symbol   string // e.g. "BTCUSDT"
	Interval string // kline interval in Bybit notation, e.g. "15"

	// RingCapacity sizes the bar ring buffer. Defaults to 256.
	RingCapacity int
}

// Feed maintains the WebSocket connection and pushes closed bars downstream.
type Feed struct {
	cfg  Config
	ring *ringbuf.Ring

	// Optional hooks for metrics and health reporting.
	OnReconnect func()
	OnConnState func(connected bool)
}

// New creates a Feed. The connection is established by Run.
func New(cfg Config) *Feed {
	if cfg.URL == "" {
		cfg.URL = MainnetURL
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 256
	}
	return &Feed{cfg: cfg, ring: ringbuf.New(cfg.RingCapacity)}
}

// Overflow reports bars dropped because the ring buffer was full.
func (f *Feed) Overflow() uint64 { return f.ring.Overflow() }

// Run connects and streams closed bars into out until ctx is cancelled.
// Disconnects are retried with exponential backoff. The pump goroutine is
// the only sender on out and closes it; Run waits for the pump to finish
// before returning so no send can race the close.
func (f *Feed) Run(ctx context.Context, out chan<- model.Bar) error {
	pumpDone := make(chan struct{})
	go f.pump(ctx, out, pumpDone)
	defer func() { <-pumpDone }()

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := f.stream(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if f.OnConnState != nil {
			f.OnConnState(false)
		}
		if f.OnReconnect != nil {
			f.OnReconnect()
		}
		log.Printf("[ws] connection lost: %v, reconnecting in %s", err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// pump drains the ring buffer into the consumer channel. It is the sole
// sender on out and closes it when done.
func (f *Feed) pump(ctx context.Context, out chan<- model.Bar, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.flush(out)
			return
		case <-ticker.C:
			for {
				bar, ok := f.ring.Pop()
				if !ok {
					break
				}
				select {
				case out <- bar:
				case <-ctx.Done():
					// Hand the popped bar off if the consumer is still
					// reading, then stop.
					select {
					case out <- bar:
					default:
					}
					f.flush(out)
					return
				}
			}
		}
	}
}

// flush forwards whatever is left in the ring without blocking: bars the
// consumer no longer reads during shutdown are dropped.
func (f *Feed) flush(out chan<- model.Bar) {
	for {
		bar, ok := f.ring.Pop()
		if !ok {
			return
		}
		select {
		case out <- bar:
		default:
			return
		}
	}
}

// stream runs a single connection lifetime: dial, subscribe, read until error.
func (f *Feed) stream(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	topic := fmt.Sprintf("kline.%s.%s", f.cfg.Interval, f.cfg.Symbol)
	sub := map[string]any{"op": "subscribe", "args": []string{topic}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Printf("[ws] connected to %s, subscribed %s", f.cfg.URL, topic)
	if f.OnConnState != nil {
		f.OnConnState(true)
	}

	// Bybit expects an application-level ping every ~20s.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(raw)
	}
}

// klineMessage is the Bybit v5 kline push envelope.
type klineMessage struct {
	Topic   string `json:"topic"`
	Op      string `json:"op"`
	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Data    []struct {
		Start    int64  `json:"start"` // epoch ms of bar open
		Interval string `json:"interval"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Confirm  bool   `json:"confirm"`
	} `json:"data"`
}

func (f *Feed) handleMessage(raw []byte) {
	var msg klineMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[ws] unparseable message: %v", err)
		return
	}

	// Subscription acks and pong replies carry op/success, no topic.
	if msg.Topic == "" {
		if msg.Success != nil && !*msg.Success {
			log.Printf("[ws] op %q rejected: %s", msg.Op, msg.RetMsg)
		}
		return
	}

	for _, k := range msg.Data {
		if !k.Confirm {
			continue
		}
		bar, err := f.parseBar(k.Start, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			log.Printf("[ws] bad kline payload: %v", err)
			continue
		}
		if !f.ring.Push(bar) {
			log.Printf("[ws] ring buffer full, dropped bar %s", bar.Start.Format(time.RFC3339))
		}
	}
}

func (f *Feed) parseBar(startMs int64, open, high, low, close_, volume string) (model.Bar, error) {
	vals := [5]float64{}
	for i, s := range []string{open, high, low, close_, volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d %q: %w", i, s, err)
		}
		vals[i] = v
	}
	return model.Bar{
		Symbol: f.cfg.Symbol,
		Start:  time.Unix(0, startMs*int64(time.Millisecond)).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading agent.
type Metrics struct {
	// Bar pipeline
	BarsTotal      prometheus.Counter
	OutOfOrderBars prometheus.Counter
	BarProcessDur  prometheus.Histogram
	RingOverflow   prometheus.Counter
	WSReconnects   prometheus.Counter

	// Strategy and execution
	SignalsTotal    *prometheus.CounterVec // labels: signal
	OrdersSubmitted prometheus.Counter
	OrdersFilled    prometheus.Counter
	OrdersFailed    prometheus.Counter
	Divergences     prometheus.Counter
	MachineState    prometheus.Gauge // 0=flat, 1=pending_entry, 2=open, 3=pending_exit

	// Account
	Equity      prometheus.Gauge
	RealizedPnL prometheus.Gauge

	// Persistence
	CheckpointsSaved prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_bars_total",
			Help: "Total closed bars processed",
		}),
		OutOfOrderBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_out_of_order_bars_total",
			Help: "Bars rejected for non-increasing open time",
		}),
		BarProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpbot_bar_process_duration_seconds",
			Help:    "Full bar pipeline latency (indicators, signal, execution)",
			Buckets: prometheus.DefBuckets,
		}),
		RingOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_ring_overflow_total",
			Help: "Bars overwritten in the feed ring buffer before consumption",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_ws_reconnects_total",
			Help: "Total market data WebSocket reconnection attempts",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpbot_signals_total",
			Help: "Strategy signals emitted (by signal type)",
		}, []string{"signal"}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_orders_submitted_total",
			Help: "Orders submitted to the execution gateway",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_orders_filled_total",
			Help: "Orders confirmed filled",
		}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_orders_failed_total",
			Help: "Orders rejected or unconfirmed within the timeout",
		}),
		Divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_divergences_total",
			Help: "Reconciliations where local intent disagreed with the exchange",
		}),
		MachineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpbot_machine_state",
			Help: "Position machine state (0=flat, 1=pending_entry, 2=open, 3=pending_exit)",
		}),

		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpbot_equity",
			Help: "Current tracked account equity",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpbot_realized_pnl",
			Help: "Cumulative realized P&L since start",
		}),

		CheckpointsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpbot_checkpoints_saved_total",
			Help: "Indicator engine checkpoints persisted",
		}),
	}

	prometheus.MustRegister(
		m.BarsTotal, m.OutOfOrderBars, m.BarProcessDur, m.RingOverflow,
		m.WSReconnects, m.SignalsTotal, m.OrdersSubmitted, m.OrdersFilled,
		m.OrdersFailed, m.Divergences, m.MachineState, m.Equity,
		m.RealizedPnL, m.CheckpointsSaved,
	)
	return m
}

// HealthStatus tracks liveness of the agent's dependencies for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	StartedAt      time.Time
	WSConnected    bool
	LastBarTime    time.Time
	RedisConnected bool
	RedisLatencyMs float64
	SQLiteOK       bool
	Halted         bool
	LastCheckAt    time.Time

	// Optional dependencies: nil means "not configured", reported healthy.
	hasRedis  bool
	hasSQLite bool
}

// NewHealthStatus creates a HealthStatus with the start time set.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// SetWSConnected records the market data feed connection state.
func (h *HealthStatus) SetWSConnected(connected bool) {
	h.mu.Lock()
	h.WSConnected = connected
	h.mu.Unlock()
}

// RecordBar records the open time of the most recent processed bar.
func (h *HealthStatus) RecordBar(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

// SetHalted records whether entries are halted on a stuck position.
func (h *HealthStatus) SetHalted(halted bool) {
	h.mu.Lock()
	h.Halted = halted
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + health.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.hasRedis = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	err := db.PingContext(ctx)

	h.mu.Lock()
	h.hasSQLite = true
	h.SQLiteOK = err == nil
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be
// nil when that dependency is not configured.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisOK := !h.hasRedis || h.RedisConnected
	sqliteOK := !h.hasSQLite || h.SQLiteOK
	if !h.WSConnected || !redisOK || !sqliteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.Halted {
		overallStatus = "halted"
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Second).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		WSConnected    bool    `json:"ws_connected"`
		LastBarTime    string  `json:"last_bar_time"`
		BarAge         string  `json:"bar_age"`
		Halted         bool    `json:"halted"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		SQLiteOK       bool    `json:"sqlite_ok"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:    h.WSConnected,
		LastBarTime:    h.LastBarTime.Format(time.RFC3339),
		BarAge:         barAge,
		Halted:         h.Halted,
		RedisConnected: redisOK,
		RedisLatencyMs: h.RedisLatencyMs,
		SQLiteOK:       sqliteOK,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

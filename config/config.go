package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Trading
	Symbol         string
	KlineInterval  string // Bybit interval notation: "1", "5", "15", "60", ...
	Leverage       float64
	PositionSize   float64 // contracts for the fixed-size policy
	SizingPolicy   string  // "fixed" or "equity_fraction"
	EquityFraction float64
	QtyStep        float64
	ATRMultiplier  float64
	RiskReward     float64

	// Indicator windows
	FastEMA      int
	SlowEMA      int
	StochPeriod  int
	StochKPeriod int
	ATRPeriod    int
	VolAvgPeriod int

	// Execution
	PaperMode         bool
	Testnet           bool
	PaperEquity       float64
	PaperSlippageBps  float64
	ConfirmTimeout    time.Duration
	ReconcileInterval time.Duration
	CheckpointEvery   int
	WarmupBars        int

	// Bybit credentials (required only in live mode)
	BybitAPIKey    string
	BybitAPISecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Alerting
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		Symbol:         getEnv("SYMBOL", "BTCUSDT"),
		KlineInterval:  getEnv("KLINE_INTERVAL", "15"),
		Leverage:       getFloat("LEVERAGE", 1),
		PositionSize:   getFloat("POSITION_SIZE", 0.01),
		SizingPolicy:   getEnv("SIZING_POLICY", "fixed"),
		EquityFraction: getFloat("EQUITY_FRACTION", 0.1),
		QtyStep:        getFloat("QTY_STEP", 0.001),
		ATRMultiplier:  getFloat("ATR_MULTIPLIER", 1.75),
		RiskReward:     getFloat("RISK_REWARD_RATIO", 2.0),

		FastEMA:      getInt("FAST_EMA", 8),
		SlowEMA:      getInt("SLOW_EMA", 21),
		StochPeriod:  getInt("STOCH_PERIOD", 14),
		StochKPeriod: getInt("STOCH_K_PERIOD", 3),
		ATRPeriod:    getInt("ATR_PERIOD", 14),
		VolAvgPeriod: getInt("VOL_AVG_PERIOD", 20),

		PaperMode:         getBool("PAPER_MODE", true),
		Testnet:           getBool("TESTNET", false),
		PaperEquity:       getFloat("PAPER_EQUITY", 10000),
		PaperSlippageBps:  getFloat("PAPER_SLIPPAGE_BPS", 5),
		ConfirmTimeout:    getDuration("CONFIRM_TIMEOUT", 10*time.Second),
		ReconcileInterval: getDuration("RECONCILE_INTERVAL", 60*time.Second),
		CheckpointEvery:   getInt("CHECKPOINT_EVERY", 10),
		WarmupBars:        getInt("WARMUP_BARS", 200),

		BybitAPIKey:    getEnv("BYBIT_API_KEY", ""),
		BybitAPISecret: getEnv("BYBIT_API_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/perpbot.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}

	// Credentials become mandatory once real money is involved.
	if !cfg.PaperMode {
		cfg.BybitAPIKey = mustEnv("BYBIT_API_KEY")
		cfg.BybitAPISecret = mustEnv("BYBIT_API_SECRET")
	}

	if cfg.FastEMA >= cfg.SlowEMA {
		log.Fatalf("[config] FAST_EMA (%d) must be shorter than SLOW_EMA (%d)", cfg.FastEMA, cfg.SlowEMA)
	}
	return cfg
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid integer %q", key, v)
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("[config] %s: invalid number %q", key, v)
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid boolean %q", key, v)
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid duration %q", key, v)
	}
	return d
}

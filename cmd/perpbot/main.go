package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perpbot/config"
	"perpbot/internal/account"
	"perpbot/internal/events"
	"perpbot/internal/gateway/bybit"
	"perpbot/internal/gateway/paper"
	"perpbot/internal/indicator"
	"perpbot/internal/journal"
	"perpbot/internal/logger"
	"perpbot/internal/marketdata/ws"
	"perpbot/internal/metrics"
	"perpbot/internal/model"
	"perpbot/internal/notification"
	"perpbot/internal/position"
	"perpbot/internal/risk"
	redisstore "perpbot/internal/store/redis"
	"perpbot/internal/strategy"
	"perpbot/internal/trader"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[perpbot] starting...")

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("[perpbot] loaded .env")
	}

	cfg := config.Load()
	slogger := logger.Init("perpbot", logger.ParseLevel(cfg.LogLevel))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[perpbot] received %v, shutting down", sig)
		cancel()
	}()

	// ---- Journal (SQLite, doubles as event sink) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	jnl, err := journal.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[perpbot] journal init failed: %v", err)
	}
	defer jnl.Close()

	// ---- Checkpoint store (Redis, optional) ----
	var store model.CheckpointStore
	var redisStore *redisstore.Store
	if cfg.RedisAddr != "" {
		redisStore, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Symbol:   cfg.Symbol,
		})
		if err != nil {
			log.Printf("[perpbot] WARNING: redis init failed: %v (continuing without checkpoints)", err)
		} else {
			store = redisStore
			defer redisStore.Close()
		}
	}

	// ---- Liveness checks ----
	if redisStore != nil {
		health.StartLivenessChecker(ctx, redisStore.Client(), jnl.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, jnl.DB(), 10*time.Second)
	}

	// ---- Alerting ----
	var notifier notification.Notifier
	switch {
	case cfg.TelegramBotToken != "" && cfg.TelegramChatID != "":
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		log.Println("[perpbot] telegram alerts enabled")
	case cfg.AlertWebhookURL != "":
		notifier = notification.NewWebhookNotifier(cfg.AlertWebhookURL)
		log.Println("[perpbot] webhook alerts enabled")
	default:
		notifier = notification.NewLogNotifier()
	}

	sink := events.MultiSink{
		events.NewLogSink(slogger),
		events.NewAlertSink(notifier),
		metrics.NewSink(prom),
		jnl,
	}

	// ---- Execution gateway ----
	var gw model.ExecutionGateway
	var paperGw *paper.Gateway
	bybitClient := bybit.NewClient(bybit.Config{
		APIKey:    cfg.BybitAPIKey,
		APISecret: cfg.BybitAPISecret,
		Testnet:   cfg.Testnet,
		Symbol:    cfg.Symbol,
	})
	if cfg.PaperMode {
		paperGw = paper.New(cfg.PaperEquity, cfg.PaperSlippageBps)
		gw = paperGw
		log.Printf("[perpbot] PAPER MODE: simulated fills, equity %.2f", cfg.PaperEquity)
	} else {
		gw = bybitClient
		log.Printf("[perpbot] live trading on %s (testnet=%v)", cfg.Symbol, cfg.Testnet)
	}

	// ---- Account ----
	acct := account.New(cfg.PaperEquity)
	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	if eq, err := gw.QueryEquity(startCtx); err != nil {
		log.Printf("[perpbot] WARNING: equity query failed: %v (using configured equity)", err)
	} else {
		acct.SetEquity(eq)
		log.Printf("[perpbot] starting equity: %.2f", eq)
	}
	startCancel()
	prom.Equity.Set(acct.Equity())

	// ---- Risk sizer ----
	var policy risk.SizingPolicy
	switch cfg.SizingPolicy {
	case "equity_fraction":
		policy = risk.EquityFraction{Fraction: cfg.EquityFraction, Leverage: cfg.Leverage}
	default:
		policy = risk.FixedSize{Size: cfg.PositionSize, Leverage: cfg.Leverage}
	}
	sizer := risk.NewSizer(policy, cfg.ATRMultiplier, cfg.RiskReward, cfg.QtyStep)
	log.Printf("[perpbot] sizing policy: %s, ATR multiplier %.2f, R:R %.2f", policy.Name(), cfg.ATRMultiplier, cfg.RiskReward)

	// ---- Indicator engine (restore from checkpoint when possible) ----
	indCfg := indicator.Config{
		FastEMA:      cfg.FastEMA,
		SlowEMA:      cfg.SlowEMA,
		StochPeriod:  cfg.StochPeriod,
		StochKPeriod: cfg.StochKPeriod,
		ATRPeriod:    cfg.ATRPeriod,
		VolAvgPeriod: cfg.VolAvgPeriod,
	}
	engine := indicator.NewEngine(indCfg)
	if store != nil {
		loadCtx, loadCancel := context.WithTimeout(ctx, 5*time.Second)
		if data, err := store.LoadCheckpointJSON(loadCtx); err != nil {
			log.Printf("[perpbot] WARNING: checkpoint load failed: %v", err)
		} else if data != nil {
			if restored, err := indicator.RestoreEngine(indCfg, data); err != nil {
				log.Printf("[perpbot] WARNING: checkpoint rejected: %v (starting cold)", err)
			} else {
				engine = restored
				if last, ok := engine.LastBarStart(); ok {
					log.Printf("[perpbot] indicator state restored from checkpoint (last bar %s)", last.Format(time.RFC3339))
				}
			}
		}
		loadCancel()
	}

	// ---- Position machine ----
	machine := position.NewMachine(position.Config{
		Symbol:         cfg.Symbol,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, gw, sizer, acct, sink)

	recoverCtx, recoverCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := machine.Recover(recoverCtx); err != nil {
		recoverCancel()
		log.Fatalf("[perpbot] startup position recovery failed: %v", err)
	}
	recoverCancel()

	// ---- Trader ----
	gen := strategy.NewGenerator()
	trd := trader.New(trader.Config{
		Symbol:          cfg.Symbol,
		CheckpointEvery: cfg.CheckpointEvery,
	}, engine, gen, machine, prom, sink, store)

	// ---- Warmup from REST kline history ----
	if cfg.WarmupBars > 0 {
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		bars, err := bybitClient.RecentBars(warmCtx, cfg.KlineInterval, cfg.WarmupBars)
		warmCancel()
		if err != nil {
			log.Printf("[perpbot] WARNING: warmup backfill failed: %v (indicators will warm up live)", err)
		} else {
			trd.Warmup(bars)
			if paperGw != nil && len(bars) > 0 {
				paperGw.MarkPrice(bars[len(bars)-1].Close)
			}
		}
	}

	// ---- Market data feed ----
	wsURL := ws.MainnetURL
	if cfg.Testnet {
		wsURL = ws.TestnetURL
	}
	feed := ws.New(ws.Config{
		URL:      wsURL,
		Symbol:   cfg.Symbol,
		Interval: cfg.KlineInterval,
	})
	feed.OnReconnect = prom.WSReconnects.Inc
	feed.OnConnState = health.SetWSConnected

	feedCh := make(chan model.Bar, 256)
	go func() {
		if err := feed.Run(ctx, feedCh); err != nil {
			log.Printf("[perpbot] feed stopped: %v", err)
		}
		cancel()
	}()

	// Bridge the feed to the trader: update health, account gauges and the
	// paper mark price on every bar.
	barCh := make(chan model.Bar, 256)
	go func() {
		defer close(barCh)
		var lastOverflow uint64
		for bar := range feedCh {
			health.RecordBar(bar.Start)
			if paperGw != nil {
				paperGw.MarkPrice(bar.Close)
			}
			prom.Equity.Set(acct.Equity())
			prom.RealizedPnL.Set(acct.Realized())
			if of := feed.Overflow(); of > lastOverflow {
				prom.RingOverflow.Add(float64(of - lastOverflow))
				lastOverflow = of
			}
			health.SetHalted(machine.Halted())
			barCh <- bar
		}
	}()

	// ---- Reconciliation loop ----
	go machine.RunReconciler(ctx, cfg.ReconcileInterval)

	// ---- Run until shutdown ----
	if err := trd.Run(ctx, barCh); err != nil {
		log.Printf("[perpbot] trader stopped with error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Stop(shutdownCtx)
	shutdownCancel()
	log.Println("[perpbot] shutdown complete")
}

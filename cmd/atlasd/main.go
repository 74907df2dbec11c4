// Package main is the atlasd entrypoint: it wires the Persistent Store, the
// paper Broker Adapter, the Risk Gate, the Execution Engine, the event
// queue, the Scheduler, and the ops API into one running process, then
// blocks until SIGINT/SIGTERM.
//
// Grounded on cmd/server/main.go's overall shape — flag parsing, a
// setupLogger helper building a zap.Config by hand, construct-everything-
// then-defer-shutdown, a buffered os/signal channel — with the
// blockchain/autonomous/regime/learning/orchestrator wiring it built for a
// different system dropped entirely; nothing in this core has a slot for
// those concerns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	brk "github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/internal/broker/paper"
	"github.com/atlas/equities-core/internal/clock"
	"github.com/atlas/equities-core/internal/config"
	"github.com/atlas/equities-core/internal/eventqueue"
	"github.com/atlas/equities-core/internal/execution"
	"github.com/atlas/equities-core/internal/lossguard"
	"github.com/atlas/equities-core/internal/opsapi"
	"github.com/atlas/equities-core/internal/ports"
	"github.com/atlas/equities-core/internal/reconcile"
	"github.com/atlas/equities-core/internal/risk"
	"github.com/atlas/equities-core/internal/scheduler"
	"github.com/atlas/equities-core/internal/store"
	"github.com/atlas/equities-core/internal/telemetry"
	"github.com/atlas/equities-core/pkg/types"
)

func main() {
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	lookbackDays := flag.Int("lookback-days", 400, "calendar days of bars fetched per strategy per evaluation cycle")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "atlasd: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting atlasd",
		zap.String("brokerMode", cfg.BrokerMode),
		zap.String("databaseUrl", cfg.DatabaseURL),
		zap.String("exchangeTz", cfg.ExchangeTZ),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	loc, err := time.LoadLocation(cfg.ExchangeTZ)
	if err != nil {
		logger.Fatal("load exchange timezone", zap.Error(err))
	}
	now := time.Now().In(loc)
	holidays := append(clock.Holidays(now.Year(), loc), clock.Holidays(now.Year()+1, loc)...)
	mktClock := clock.New(loc, holidays)

	prices := newPriceCache()

	if cfg.BrokerMode != "paper" {
		logger.Fatal("unsupported broker mode: only paper is wired in this build", zap.String("brokerMode", cfg.BrokerMode))
	}
	broker := paper.New(logger, prices, paper.DefaultConfig(), decimal.NewFromInt(100000))
	if err := brk.ConnectWithBackoff(ctx, broker, brk.ConnectBackoff); err != nil {
		logger.Fatal("connect broker", zap.Error(err))
	}
	defer broker.Disconnect(context.Background())

	var notifier execution.Notifier
	if cfg.EmailFrom != "" && cfg.AlertTo != "" {
		smtpNotifier := ports.NewSMTPNotifier(ports.SMTPConfig{
			From:     cfg.EmailFrom,
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPass,
			To:       strings.Split(cfg.AlertTo, ","),
		}, logger)
		notifier = ports.CriticalNotifier{Notifier: smtpNotifier}
	} else {
		notifier = noopNotifier{logger: logger}
	}

	gate := risk.New(logger)
	losses := lossguard.New(logger)
	engine := execution.New(broker, gate, st, notifier, logger)

	reconciler := reconcile.New(st, broker, engine, logger)
	if report, err := reconciler.Run(ctx); err != nil {
		logger.Error("startup reconciliation failed", zap.Error(err))
	} else {
		logger.Info("startup reconciliation complete",
			zap.String("outcome", string(report.Outcome)), zap.Strings("actions", report.Actions))
	}

	collectors := telemetry.New()

	app := &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		broker:       broker,
		gate:         gate,
		losses:       losses,
		engine:       engine,
		prices:       prices,
		collectors:   collectors,
		lookbackDays: *lookbackDays,
	}

	queue := eventqueue.New(eventqueue.DefaultConfig(), app.dispatch, logger)
	defer queue.Stop()
	app.queue = queue

	go app.drainBrokerEvents(ctx)

	sched := scheduler.New(mktClock, scheduler.Handlers{
		DailyEvaluation:   app.runDailyEvaluation,
		Heartbeat:         app.runHeartbeat,
		SessionStartReset: app.runSessionStartReset,
		DailySummary:      app.runDailySummary,
	}, logger)

	ops := opsapi.NewServer(logger, &types.ServerConfig{
		Host:         cfg.OpsHost,
		Port:         cfg.OpsPort,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, st)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := ops.Start(); err != nil && ctx.Err() == nil {
			logger.Error("ops API stopped", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := ops.Stop(shutdownCtx); err != nil {
		logger.Error("ops API shutdown", zap.Error(err))
	}
	wg.Wait()
	logger.Info("atlasd stopped")
}

// noopNotifier is used when no SMTP destination is configured; CRITICAL
// alerts are still logged so an operator watching logs is not blind.
type noopNotifier struct{ logger *zap.Logger }

func (n noopNotifier) NotifyCritical(_ context.Context, subject, body string) error {
	n.logger.Warn("CRITICAL alert (no notifier configured)", zap.String("subject", subject), zap.String("body", body))
	return nil
}

// priceCache is the in-memory PriceSource the paper broker fills against;
// it is kept current by each evaluation cycle's most recent bar close, per
// spec §9's note that a live tick feed is an external collaborator out of
// this core's scope.
type priceCache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func newPriceCache() *priceCache {
	return &priceCache{prices: make(map[string]decimal.Decimal)}
}

func (p *priceCache) LastPrice(symbol string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.prices[symbol]
	return v, ok
}

func (p *priceCache) set(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

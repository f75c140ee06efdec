package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/config"
	"github.com/dgnsrekt/zerogex/internal/engine"
	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/logging"
	"github.com/dgnsrekt/zerogex/internal/metrics"
	"github.com/dgnsrekt/zerogex/internal/notify"
	"github.com/dgnsrekt/zerogex/internal/scheduler"
	"github.com/dgnsrekt/zerogex/internal/server"
	"github.com/dgnsrekt/zerogex/internal/sse"
	"github.com/dgnsrekt/zerogex/internal/ws"
)

// fanout publishes to every enabled stream.
type fanout []scheduler.Publisher

func (f fanout) Publish(m *gex.GEXMetrics) {
	for _, p := range f {
		p.Publish(m)
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("ZEROGEX_CONFIG"), "config file path (or set ZEROGEX_CONFIG)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before config")
	verbose := flag.Bool("verbose", false, "verbose output")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	logger, err := logging.New("gexd", *verbose, &cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("store", cfg.Store.Backend),
		zap.String("expiration", cfg.GEX.Expiration),
		zap.Duration("interval", cfg.Scheduler.Interval),
		zap.Bool("marketHoursOnly", cfg.Scheduler.MarketHoursOnly),
		zap.String("port", cfg.Server.Port),
		zap.Bool("wsEnabled", cfg.Server.WSEnabled),
		zap.Bool("sseEnabled", cfg.Server.SSEEnabled),
	)

	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		logger.Error("invalid notification config", zap.Error(err))
		return 1
	}
	notifier := notify.New(notifyCfg, logger.Named("notify"))

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e, err := engine.New(ctx, cfg, logger, engine.Options{})
	if err != nil {
		logger.Error("failed to open engine", zap.Error(err))
		return 1
	}
	defer e.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	// Push streams (optional)
	var (
		streams    server.Streams
		publishers fanout
	)
	if cfg.Server.WSEnabled {
		hub := ws.NewHub(logger.Named("ws"))
		go hub.Run(ctx)
		streams.WS = hub
		publishers = append(publishers, hub)
	}
	if cfg.Server.SSEEnabled {
		b := sse.New(e.Store, cfg.Server.SSEHeartbeat, logger.Named("sse"))
		go b.Run(ctx)
		streams.SSE = b
		publishers = append(publishers, b)
	}

	clock, err := scheduler.NewMarketClock(cfg.Scheduler.OpenTime, cfg.Scheduler.CloseTime, cfg.Location())
	if err != nil {
		logger.Error("invalid market hours", zap.Error(err))
		return 1
	}

	runner := scheduler.NewRunner(e.Calculator, clock, notifier, publishers, recorder, scheduler.Options{
		Symbols:         cfg.Symbols,
		Expiration:      e.Expiration,
		Interval:        cfg.Scheduler.Interval,
		MarketHoursOnly: cfg.Scheduler.MarketHoursOnly,
		RatePerSecond:   cfg.Scheduler.RatePerSecond,
		Workers:         cfg.Scheduler.Workers,
		StatsEvery:      cfg.Scheduler.StatsEvery,
	}, logger.Named("scheduler"))

	srv := server.NewServer(e.Calculator, e.Analyzer, e.Store, publishers, recorder, server.Options{
		Expiration:        e.Expiration,
		ThresholdMillions: cfg.GEX.KeyLevelThresholdM,
		Confidence:        cfg.GEX.Confidence,
	}, logger.Named("http"))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.NewRouter(srv, streams, reg, recorder, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		_ = runner.Run(ctx)
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		code = 1
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		code = 1
	}
	<-runnerDone

	logger.Info("daemon stopped")
	return code
}

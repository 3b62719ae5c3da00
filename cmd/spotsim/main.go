package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/spotsim/internal/config"
	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/efreitasn/spotsim/internal/engine"
	"github.com/efreitasn/spotsim/internal/handler"
	"github.com/efreitasn/spotsim/internal/journal"
	"github.com/efreitasn/spotsim/internal/oracle"
	"github.com/efreitasn/spotsim/internal/service"
	"github.com/efreitasn/spotsim/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores.
	accountStore := store.NewAccountStore()
	orderStore := store.NewOrderStore()
	txStore := store.NewTransactionStore()
	webhookStore := store.NewWebhookStore()

	symbols := domain.NewSymbolRegistry(cfg.Symbols...)

	// Prices: the static source accepts overrides, the HTTP source does not.
	var (
		static *oracle.Static
		source oracle.Source
	)
	switch cfg.Oracle {
	case "http":
		source = oracle.NewHTTP(oracle.HTTPConfig{
			BaseURL:   cfg.OracleURL,
			Timeout:   cfg.PriceTimeout,
			RateLimit: cfg.PriceRateLimit,
			Breaker:   oracle.DefaultBreakerConfig(),
		}, logger)
	default:
		static = oracle.NewStatic(cfg.StaticPrices)
		source = static
	}
	prices := oracle.NewCache(source, cfg.PriceCacheTTL)

	j, err := journal.Open(ctx, cfg.Journal, cfg.JournalDSN)
	if err != nil {
		logger.Error("failed to open journal", slog.String("journal", cfg.Journal), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer j.Close()

	webhookSvc := service.NewWebhookService(webhookStore, accountStore, cfg.WebhookTimeout, logger)

	eng := engine.New(engine.Options{
		Accounts:     accountStore,
		Orders:       orderStore,
		Transactions: txStore,
		Symbols:      symbols,
		Oracle:       prices,
		Journal:      j,
		Notifier:     webhookSvc,
		FeeRate:      &cfg.FeeRate,
		DefaultRisk: domain.RiskSettings{
			Enabled:           cfg.AutoRiskEnabled(),
			StopLossPercent:   cfg.DefaultStopLossPercent,
			TakeProfitPercent: cfg.DefaultTakeProfitPercent,
		},
		Logger: logger,
	})

	snap, err := j.Load(ctx)
	if err != nil {
		logger.Error("failed to load journal", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := eng.Restore(snap); err != nil {
		logger.Error("failed to restore state", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("state restored",
		slog.Int("accounts", len(snap.Accounts)),
		slog.Int("orders", len(snap.Orders)),
		slog.Int("transactions", len(snap.Transactions)),
	)

	accountSvc := service.NewAccountService(eng, accountStore, txStore, prices, logger)
	orderSvc := service.NewOrderService(eng, accountStore, orderStore)
	marketSvc := service.NewMarketService(prices, static, prices, symbols)

	router := handler.NewRouter(accountSvc, orderSvc, marketSvc, webhookSvc, logger)

	monitor := engine.NewPendingOrderMonitor(cfg.MonitorInterval, eng, prices, logger)
	monitor.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("oracle", cfg.Oracle),
			slog.String("journal", cfg.Journal),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Stop accepting requests first, then stop the monitor.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}

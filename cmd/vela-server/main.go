package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vela/internal/backtest"
	"vela/internal/config"
	"vela/internal/httpapi"
	"vela/internal/pricedata"
	"vela/internal/runstore"
	"vela/internal/sentiment"
	"vela/internal/util"
)

func main() {
	// Load .env if present so ALPACA_* credentials can live outside the yaml.
	_ = godotenv.Load()

	cfgPath := "config/vela.yaml"
	if p := os.Getenv("VELA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	repoOpts := []pricedata.Option{
		pricedata.WithDataset(pricedata.NewDatasetSource(cfg.Storage.DatasetDir)),
		pricedata.WithCache(pricedata.NewCacheStore(cfg.Storage.CacheDir)),
		pricedata.WithRetry(cfg.Engine.FetchMaxAttempts, time.Second),
	}
	if cfg.Alpaca.APIKey != "" {
		repoOpts = append(repoOpts, pricedata.WithRemote(
			pricedata.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, 200)))
		logger.Info("remote market data enabled")
	} else {
		logger.Info("no Alpaca credentials, running from datasets and cache only")
	}
	prices := pricedata.NewRepository(logger, repoOpts...)

	store, err := runstore.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer store.Close()

	sentimentSrc := sentiment.NewDatasetSource(cfg.Storage.SentimentDir)

	runner := backtest.NewRunner(prices, sentimentSrc, store, logger, cfg.Engine.FetchWorkers)

	srv := httpapi.NewServer(runner, store, store, logger).WithDefaults(httpapi.RunDefaults{
		InitialCapital:   cfg.Engine.InitialCapital,
		MaxOpenPositions: cfg.Engine.MaxOpenPositions,
		BuyThreshold:     cfg.Engine.BuyThreshold,
		SellThreshold:    cfg.Engine.SellThreshold,
		BenchmarkTicker:  cfg.Engine.BenchmarkTicker,
		SlippageBPS:      cfg.Engine.SlippageBPS,
		Commission:       cfg.Engine.Commission,
		RiskFreeRate:     cfg.Engine.RiskFreeRate,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("vela server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down vela server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pumpfun-ingest/core/internal/batchwriter"
	"github.com/pumpfun-ingest/core/internal/config"
	"github.com/pumpfun-ingest/core/internal/domain"
	"github.com/pumpfun-ingest/core/internal/eventbus"
	"github.com/pumpfun-ingest/core/internal/monitors"
	"github.com/pumpfun-ingest/core/internal/parser"
	"github.com/pumpfun-ingest/core/internal/solana"
	"github.com/pumpfun-ingest/core/internal/storage/memory"
	"github.com/pumpfun-ingest/core/internal/storage/postgres"
	"github.com/pumpfun-ingest/core/internal/stream"
	"github.com/pumpfun-ingest/core/internal/trade"
	"github.com/shopspring/decimal"
)

// bondingCurveProgramID and ammProgramID are the on-chain program
// addresses this feed subscribes to. Real deployments set these through
// the environment; the fallback values here apply when a variable is unset.
var (
	bondingCurveProgramID = envOr("BONDING_CURVE_PROGRAM_ID", "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	ammProgramID           = envOr("AMM_PROGRAM_ID", "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger.Info("starting ingestion daemon", "env", cfg.Env)

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to postgres")

	tokenRepo := postgres.NewTokenRepository(db, logger)
	tradeRepo := postgres.NewTradeRepository(db, logger)
	snapshotRepo := postgres.NewPriceSnapshotRepository(db, logger)
	stateRepo := postgres.NewAccountStateRepository(db, logger)

	bus := eventbus.New(logger)
	cache := memory.NewHotCache(msDuration(cfg.Cache.EvictionAfterMs))
	go cache.RunEvictionLoop(ctx, msDuration(cfg.Cache.RefreshIntervalMs))

	writer := batchwriter.New(tokenRepo, tradeRepo, snapshotRepo, stateRepo,
		cfg.Batch.BatchSize, msDuration(cfg.Batch.BatchIntervalMs), logger)

	p := parser.New(logger)
	bus.Subscribe(eventbus.TopicStreamData, func(payload any) {
		frame, ok := payload.(domain.StreamFrame)
		if !ok {
			return
		}
		for _, ev := range p.Parse(frame) {
			bus.Publish(eventbus.TopicEventsParsed, ev)
		}
	})

	handler := trade.New(bus, cache, writer, cfg.Trade.BCSaveThreshold, cfg.Trade.AMMSaveThreshold, cfg.Trade.SaveAllTokens, logger)

	refFeed := solana.NewRefPriceFeed(cfg.Upstream.RefPriceWSURL, logger)
	refUpdates := refFeed.Start(ctx)
	solUsd := make(chan decimal.Decimal, 16)
	go func() {
		for u := range refUpdates {
			select {
			case solUsd <- u.SolUsd:
			default:
			}
		}
	}()
	stopHandler := handler.Start(solUsd)
	defer stopHandler()

	geyserFactory := func() domain.StreamClient {
		return solana.NewGeyserClient(cfg.Upstream.GRPCEndpoint, cfg.Upstream.GRPCToken, logger)
	}

	manager := stream.NewManager(cfg.Upstream.PoolSize, geyserFactory, bus, msDuration(cfg.Upstream.HealthCheckMs), logger)

	// SpecializedMonitors (C8) own dedicated upstream subscriptions, separate
	// from the general trade feed the manager pools above, so graduation
	// detection never waits behind a burst of ordinary swap traffic.
	poolMonitor := monitors.NewPoolCreationMonitor(geyserFactory, ammProgramID, cache, writer, bus, logger)
	completionMonitor := monitors.NewBondingCurveCompletionMonitor(geyserFactory, bondingCurveProgramID, cache, writer, bus, logger)

	go func() {
		if err := writer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("batch writer stopped", "err", err)
		}
	}()
	go func() {
		if err := poolMonitor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("pool creation monitor stopped", "err", err)
		}
	}()
	go func() {
		if err := completionMonitor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bonding curve completion monitor stopped", "err", err)
		}
	}()

	if err := manager.Run(ctx, []string{bondingCurveProgramID, ammProgramID}); err != nil && ctx.Err() == nil {
		logger.Error("stream manager stopped", "err", err)
	}

	logger.Info("ingestion daemon shut down")
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

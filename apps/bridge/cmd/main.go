package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/api"
	"bridge/apps/bridge/internal/assets"
	"bridge/apps/bridge/internal/chain"
	"bridge/apps/bridge/internal/config"
	"bridge/apps/bridge/internal/escrow"
	"bridge/apps/bridge/internal/event_publisher"
	"bridge/apps/bridge/internal/exchange"
	"bridge/apps/bridge/internal/fees"
	"bridge/apps/bridge/internal/matcher"
	"bridge/apps/bridge/internal/reaper"
	"bridge/apps/bridge/internal/repository"
	"bridge/apps/bridge/internal/settlement"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()

	logger.Info("Starting application with configuration",
		zap.String("db_url", cfg.DbURL),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("evm_rpc_url", cfg.EvmRPCURL),
		zap.Int64("evm_chain_id", cfg.EvmChainID),
		zap.Int("api_port", cfg.APIPort),
		zap.Duration("match_interval", cfg.MatchInterval),
		zap.Duration("reap_interval", cfg.ReapInterval),
	)

	// Connect to database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Initialize database tables
	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	intentRepository := repository.NewIntentRepository(db, logger)
	offerRepository := repository.NewOfferRepository(db, logger)
	depositRepository := repository.NewDepositRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create event publisher
	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	// Start event publisher in background
	go eventPublisher.StartPublishing(ctx)

	// Currency registry and fee policy
	registry := assets.NewRegistry(assets.DefaultCurrencies())
	feePolicy := fees.NewPolicy(registry)

	// Chain adapters
	chains := chain.NewRegistry()
	evmAdapter, err := chain.NewEVMAdapter("evm", cfg.EvmRPCURL, cfg.EvmChainID, cfg.OperatorKey, cfg.EscrowAddress, logger)
	if err != nil {
		logger.Fatal("Failed to create EVM adapter", zap.Error(err))
	}
	chains.Register(evmAdapter)

	// Exchange client
	exchangeClient := exchange.NewHTTPClient(cfg.ExchangeBaseURL, cfg.ExchangeKey, cfg.ExchangeSecret, cfg.ExchangePassphrase, logger)

	// Settlement pipeline
	orchestrator := settlement.NewOrchestrator(
		exchangeClient,
		intentRepository,
		feePolicy,
		outboxRepository,
		cfg.SettleDelay,
		cfg.OrderPollEvery,
		cfg.OrderPollLimit,
		logger,
	)

	// Deposit matcher
	depositMatcher := matcher.NewMatcher(
		exchangeClient,
		intentRepository,
		depositRepository,
		orchestrator,
		outboxRepository,
		cfg.MatchInterval,
		cfg.DepositLookback,
		cfg.MatchTolerance,
		logger,
	)
	go depositMatcher.Start(ctx)

	// Escrow coordinator
	coordinator := escrow.NewCoordinator(offerRepository, chains, registry, feePolicy, outboxRepository, logger)

	// Expiration reaper
	expirationReaper := reaper.NewReaper(
		intentRepository,
		offerRepository,
		coordinator,
		depositRepository,
		outboxRepository,
		outboxRepository,
		cfg.ReapInterval,
		logger,
	)
	go expirationReaper.Start(ctx)

	// Create and start API server
	intentHandler := api.NewIntentHandler(intentRepository, registry, chains, outboxRepository, cfg.IntentTTL, logger)
	offerHandler := api.NewOfferHandler(coordinator, offerRepository, logger)
	apiServer := api.NewServer(cfg.APIPort, intentHandler, offerHandler, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	cancel()

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}

	if err := db.Close(); err != nil {
		logger.Error("Failed to close database connection", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finscope/paper-engine/api"
	"github.com/finscope/paper-engine/internal/config"
	"github.com/finscope/paper-engine/internal/engine"
	"github.com/finscope/paper-engine/internal/ledger"
	"github.com/finscope/paper-engine/internal/marketdata"
	"github.com/finscope/paper-engine/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(os.Getenv("FINSCOPE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to the ledger store
	store, err := ledger.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zapLogger.Fatal("Failed to connect to ledger store", zap.Error(err))
	}
	defer store.Close()

	// Create engine components
	orderStore := engine.NewOrderStore(store)
	oracle := marketdata.NewLedgerOracle(store)
	sim := engine.NewSimulator()
	fees := engine.NewFeeCalculator(cfg.Fees.Rate, cfg.Fees.Minimum)
	events := engine.NewPublisher(store, zapLogger)
	service := engine.NewService(orderStore, fees, events, zapLogger)

	scheduler := engine.NewScheduler(engine.SchedulerOptions{
		Interval:      cfg.Scheduler.Interval,
		BatchSize:     cfg.Scheduler.BatchSize,
		ClaimTTL:      cfg.Scheduler.ClaimTTL,
		SessionLength: cfg.Scheduler.SessionLength,
	}, service, orderStore, oracle, sim, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	// Create API server
	apiServer := api.NewServer(zapLogger, service, oracle, store)

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	scheduler.Stop()

	zapLogger.Info("Server exited properly")
}

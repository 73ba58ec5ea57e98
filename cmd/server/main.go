// Package main provides the REST front entry point. It owns none of the
// indexing pipeline: it reads sync_state/metrics directly and hands
// triggerSync/resetContract off to the same job table cmd/worker drains.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/anders94/stablecoin-wars-backend/internal/api"
	"github.com/anders94/stablecoin-wars-backend/internal/config"
	"github.com/anders94/stablecoin-wars-backend/internal/logging"
	"github.com/anders94/stablecoin-wars-backend/internal/queue"
	"github.com/anders94/stablecoin-wars-backend/internal/storage"
)

func main() {
	fmt.Println("Stablecoin Metrics Indexer API Server")
	log.Println("Server starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), logging.LogFormat(cfg.Logging.Format))

	log.Println("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	log.Println("Database connections established")

	contractRepo := storage.NewContractRepository(postgres)
	syncStateRepo := storage.NewSyncStateRepository(postgres)
	metricsRepo := storage.NewMetricsRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)

	// The server never dispatches jobs itself — cmd/worker owns that loop
	// and the catch-up/stuck-recovery/aggregation timers. It shares the job
	// table only to enqueue via triggerSync/resetContract.
	enqueuer := queue.NewEnqueuer(jobRepo, cfg.Queue.MaxAttempts)

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}

	server := api.NewServer(serverConfig, contractRepo, syncStateRepo, metricsRepo, enqueuer)

	go func() {
		if err := server.Start(); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()
	log.Printf("Server started successfully on %s:%s", cfg.Server.Host, cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

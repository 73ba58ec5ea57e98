// Package main provides the indexer worker entry point: one
// ContractProcessor per active contract, a rollup engine, and the job
// scheduler that drives them both.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/adapter"
	"github.com/anders94/stablecoin-wars-backend/internal/config"
	"github.com/anders94/stablecoin-wars-backend/internal/logging"
	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/processor"
	"github.com/anders94/stablecoin-wars-backend/internal/queue"
	"github.com/anders94/stablecoin-wars-backend/internal/ratelimit"
	"github.com/anders94/stablecoin-wars-backend/internal/rollup"
	"github.com/anders94/stablecoin-wars-backend/internal/storage"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

func main() {
	fmt.Println("Stablecoin Metrics Indexer Worker")
	log.Println("Worker starting...")

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
	batchWriter := storage.NewBatchWriter(postgres)

	rateLimitCfg := ratelimit.LoadFromEnv()
	bucket := ratelimit.NewTokenBucket(redisCache.Client())
	limiterRegistry := ratelimit.NewRegistry(bucket, rateLimitCfg.AcquireTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Loading active contracts...")
	contracts, err := contractRepo.ListActive(ctx)
	if err != nil {
		log.Fatalf("Failed to list active contracts: %v", err)
	}

	processors := make(map[uuid.UUID]*processor.ContractProcessor, len(contracts))
	for _, contract := range contracts {
		endpoint, err := contractRepo.GetEndpoint(ctx, contract.ID)
		if err != nil {
			log.Printf("Skipping contract %s: failed to load rpc endpoint: %v", contract.ID, err)
			continue
		}

		chainAdapter, err := newChainAdapter(contract.ChainType, endpoint)
		if err != nil {
			log.Printf("Skipping contract %s: %v", contract.ID, err)
			continue
		}

		p, err := processor.NewContractProcessor(processor.Config{
			Contract:          contract,
			Endpoint:          endpoint,
			Adapter:           chainAdapter,
			ContractRepo:      contractRepo,
			SyncStateRepo:     syncStateRepo,
			BatchWriter:       batchWriter,
			Limiter:           limiterRegistry,
			MaxBlocksPerBatch: cfg.Sync.DefaultMaxBlocksPerQuery,
		})
		if err != nil {
			log.Printf("Skipping contract %s: failed to build processor: %v", contract.ID, err)
			continue
		}
		processors[contract.ID] = p
	}
	log.Printf("Built %d contract processors", len(processors))

	rollupEngine, err := rollup.NewEngine(rollup.Config{
		ContractRepo: contractRepo,
		MetricsRepo:  metricsRepo,
	})
	if err != nil {
		log.Fatalf("Failed to build rollup engine: %v", err)
	}

	handlers := map[models.JobType]queue.Handler{
		models.JobDiscover: contractJobHandler(processors),
		models.JobSync:     contractJobHandler(processors),
		models.JobAggregate: func(ctx context.Context, job *models.Job) error {
			return rollupEngine.Run(ctx)
		},
	}

	scheduler, err := queue.NewScheduler(queue.Config{
		JobRepo:                jobRepo,
		SyncStateRepo:          syncStateRepo,
		Handlers:               handlers,
		Workers:                cfg.Queue.Workers,
		CatchUpInterval:        cfg.Queue.CatchUpInterval,
		StuckRecoveryInterval:  cfg.Queue.StuckRecoveryInterval,
		StuckRecoveryThreshold: cfg.Queue.StuckRecoveryThreshold,
		AggregationInterval:    cfg.Queue.AggregationInterval,
		MaxAttempts:            cfg.Queue.MaxAttempts,
		InitialBackoff:         cfg.Queue.InitialBackoff,
		DiscoveryTimeout:       cfg.Queue.DiscoveryTimeout,
		SyncTimeout:            cfg.Queue.SyncTimeout,
		AggregationTimeout:     cfg.Queue.AggregationTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}

	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Println("Scheduler started")

	for id := range processors {
		if err := scheduler.EnqueueDiscover(ctx, id); err != nil {
			log.Printf("Failed to enqueue initial discover for %s: %v", id, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutdown signal received, stopping worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownGracePeriod)
	defer shutdownCancel()

	// Every discover/sync/aggregate pass runs as a scheduler-dispatched job
	// rather than through ContractProcessor's own poll loop, so draining the
	// scheduler is sufficient: it waits for in-flight RunOnce calls to
	// return before releasing their worker slots.
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping scheduler: %v", err)
	}

	log.Println("Worker stopped. Goodbye!")
}

// contractJobHandler dispatches a discover-contract or sync-contract job to
// the matching processor's RunOnce, which internally decides whether a
// discovery pass is still needed.
func contractJobHandler(processors map[uuid.UUID]*processor.ContractProcessor) queue.Handler {
	return func(ctx context.Context, job *models.Job) error {
		if job.ContractID == nil {
			return fmt.Errorf("job %s has no contract id", job.ID)
		}
		p, ok := processors[*job.ContractID]
		if !ok {
			return fmt.Errorf("no processor registered for contract %s", *job.ContractID)
		}
		return p.RunOnce(ctx)
	}
}

func newChainAdapter(chainType types.ChainType, endpoint *models.RpcEndpoint) (adapter.ChainAdapter, error) {
	switch chainType {
	case types.ChainTypeEVM:
		a := adapter.NewEthereumAdapter(endpoint.URL, endpoint.MaxBlocksPerQuery)
		return a, nil
	case types.ChainTypeTron:
		a := adapter.NewTronAdapter(endpoint.URL, endpoint.MaxBlocksPerQuery)
		return a, nil
	case types.ChainTypeSolana:
		a := adapter.NewSolanaAdapter(endpoint.URL, endpoint.MaxBlocksPerQuery)
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported chain type %q", chainType)
	}
}

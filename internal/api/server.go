// Package api exposes the core's single programmatic interface to the
// outside world: triggerSync, resetContract, and read-only views over
// sync_state and metrics (§6). It does not itself discover, sync, or
// aggregate anything — every handler either reads storage directly or
// enqueues a job for the worker to pick up.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// ContractGetter is the subset of storage.ContractRepository this package
// needs, narrowed so handler tests can mock it without a database.
type ContractGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Contract, error)
}

// SyncStateReadResetter is the subset of storage.SyncStateRepository this
// package needs for the status view and resetContract.
type SyncStateReadResetter interface {
	Get(ctx context.Context, contractID uuid.UUID) (*models.SyncState, error)
	Reset(ctx context.Context, contractID uuid.UUID) error
}

// MetricsReadDeleter is the subset of storage.MetricsRepository this
// package needs for the metrics view and resetContract's wipe.
type MetricsReadDeleter interface {
	Range(ctx context.Context, contractID uuid.UUID, resolution types.Resolution, from, to int64) ([]*models.MetricsRow, error)
	DeleteByContract(ctx context.Context, contractID uuid.UUID) error
}

// JobEnqueuer is the subset of queue.Enqueuer this package needs for
// triggerSync and resetContract's re-enqueue of discovery.
type JobEnqueuer interface {
	EnqueueDiscover(ctx context.Context, contractID uuid.UUID) error
	EnqueueSync(ctx context.Context, contractID uuid.UUID) error
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	contractRepo  ContractGetter
	syncStateRepo SyncStateReadResetter
	metricsRepo   MetricsReadDeleter
	enqueuer      JobEnqueuer
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	contractRepo ContractGetter,
	syncStateRepo SyncStateReadResetter,
	metricsRepo MetricsReadDeleter,
	enqueuer JobEnqueuer,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		contractRepo:  contractRepo,
		syncStateRepo: syncStateRepo,
		metricsRepo:   metricsRepo,
		enqueuer:      enqueuer,
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/contracts/{id}/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/contracts/{id}/metrics", s.handleGetMetrics).Methods("GET")
	api.HandleFunc("/contracts/{id}/sync", s.handleTriggerSync).Methods("POST")
	api.HandleFunc("/contracts/{id}/reset", s.handleResetContract).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "stablecoin-metrics-indexer",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

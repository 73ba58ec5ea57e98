// Package config provides configuration management for the indexer. It
// loads configuration from environment variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Postgres  PostgresConfig
	Redis     RedisConfig
	Sync      SyncConfig
	Queue     QueueConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// PostgresConfig holds Postgres connection configuration.
type PostgresConfig struct {
	Host              string
	Port              string
	User              string
	Password          string
	Database          string
	MaxConnections    int
	StatementTimeout  time.Duration
}

// RedisConfig holds Redis connection configuration, shared by the job
// queue and the endpoint rate limiter.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	MaxBackoff     time.Duration
}

// SyncConfig tunes the contract processor's block-range walking.
type SyncConfig struct {
	DefaultMaxBlocksPerQuery int
	RpcCallTimeout           time.Duration
	ShutdownGracePeriod      time.Duration
}

// QueueConfig tunes the job scheduler's timers and retry policy.
type QueueConfig struct {
	MaxAttempts           int
	InitialBackoff         time.Duration
	DiscoveryTimeout       time.Duration
	SyncTimeout            time.Duration
	AggregationTimeout     time.Duration
	CatchUpInterval        time.Duration
	StuckRecoveryInterval  time.Duration
	StuckRecoveryThreshold time.Duration
	AggregationInterval    time.Duration
	Workers                int
}

// ServerConfig holds the REST front's listen configuration.
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

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from an optional .env file and environment
// variables, applying sensible defaults for anything unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Postgres: PostgresConfig{
			Host:             getEnv("DB_HOST", "localhost"),
			Port:             getEnv("DB_PORT", "5432"),
			User:             getEnv("DB_USER", "indexer"),
			Password:         getEnv("DB_PASSWORD", ""),
			Database:         getEnv("DB_NAME", "stablecoin_metrics"),
			MaxConnections:   getEnvAsInt("DB_MAX_CONNECTIONS", 20),
			StatementTimeout: getEnvAsMillis("DB_STATEMENT_TIMEOUT", 120000),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			MaxBackoff:     getEnvAsDuration("REDIS_MAX_BACKOFF", 30*time.Second),
		},
		Sync: SyncConfig{
			DefaultMaxBlocksPerQuery: getEnvAsInt("SYNC_DEFAULT_MAX_BLOCKS_PER_QUERY", 10000),
			RpcCallTimeout:           getEnvAsDuration("SYNC_RPC_CALL_TIMEOUT", 60*time.Second),
			ShutdownGracePeriod:      getEnvAsDuration("SYNC_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		},
		Queue: QueueConfig{
			MaxAttempts:            getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			InitialBackoff:         getEnvAsDuration("QUEUE_INITIAL_BACKOFF", 5*time.Second),
			DiscoveryTimeout:       getEnvAsDuration("QUEUE_DISCOVERY_TIMEOUT", 2*time.Hour),
			SyncTimeout:            getEnvAsDuration("QUEUE_SYNC_TIMEOUT", 24*time.Hour),
			AggregationTimeout:     getEnvAsDuration("QUEUE_AGGREGATION_TIMEOUT", 30*time.Minute),
			CatchUpInterval:        getEnvAsDuration("QUEUE_CATCH_UP_INTERVAL", 30*time.Second),
			StuckRecoveryInterval:  getEnvAsDuration("QUEUE_STUCK_RECOVERY_INTERVAL", 30*time.Second),
			StuckRecoveryThreshold: getEnvAsDuration("QUEUE_STUCK_RECOVERY_THRESHOLD", 2*time.Hour),
			AggregationInterval:    getEnvAsDuration("QUEUE_AGGREGATION_INTERVAL", time.Hour),
			Workers:                getEnvAsInt("QUEUE_WORKERS", 4),
		},
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnv("SERVER_PORT", "8080"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// DSN builds a Postgres connection string from the configuration.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Addr builds the Redis network address from the configuration.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsMillis parses an integer-milliseconds env var (e.g.
// DB_STATEMENT_TIMEOUT) into a time.Duration.
func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	ms := getEnvAsInt(key, defaultMillis)
	return time.Duration(ms) * time.Millisecond
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/config"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// testContext creates a context with timeout for tests.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testPostgresConfig points at the docker-compose Postgres instance used
// for local integration runs.
func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "stablecoin_metrics",
		User:           "indexer",
		Password:       "indexer_dev_password",
		MaxConnections: 10,
	}
}

// connectTestDB opens a pool against the integration database, skipping
// the calling test outright when one isn't reachable.
func connectTestDB(t *testing.T) *PostgresDB {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db, err := NewPostgresDB(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// seedContract inserts one company/stablecoin/network/endpoint/contract
// chain and returns the new contract's id, for repository tests that need
// a row satisfying every foreign key in §3's data model.
func seedContract(t *testing.T, db *PostgresDB, chainType types.ChainType) uuid.UUID {
	t.Helper()
	ctx := testContext(t)
	pool := db.Pool()

	var companyID, stablecoinID, networkID, endpointID, contractID uuid.UUID

	if err := pool.QueryRow(ctx, `INSERT INTO companies (name) VALUES ($1) RETURNING id`, "Test Co "+uuid.NewString()).Scan(&companyID); err != nil {
		t.Fatalf("seed company: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO stablecoins (company_id, ticker, name) VALUES ($1, $2, $3) RETURNING id`,
		companyID, "TST", "Test Stablecoin").Scan(&stablecoinID); err != nil {
		t.Fatalf("seed stablecoin: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO networks (name) VALUES ($1) RETURNING id`, "testnet-"+uuid.NewString()).Scan(&networkID); err != nil {
		t.Fatalf("seed network: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO rpc_endpoints (url, max_requests_per_second, max_blocks_per_query) VALUES ($1, $2, $3) RETURNING id`,
		"https://rpc.test.invalid", 5.0, 10000).Scan(&endpointID); err != nil {
		t.Fatalf("seed rpc endpoint: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO contracts (stablecoin_id, network_id, chain_type, token_address, decimals, rpc_endpoint_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		stablecoinID, networkID, string(chainType), "0x"+uuid.NewString(), 6, endpointID).Scan(&contractID); err != nil {
		t.Fatalf("seed contract: %v", err)
	}

	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM batch_commits WHERE contract_id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM jobs WHERE contract_id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM metrics WHERE contract_id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM block_addresses WHERE contract_id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM blocks WHERE contract_id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM sync_state WHERE contract_id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM contracts WHERE id = $1`, contractID)
		pool.Exec(context.Background(), `DELETE FROM rpc_endpoints WHERE id = $1`, endpointID)
		pool.Exec(context.Background(), `DELETE FROM networks WHERE id = $1`, networkID)
		pool.Exec(context.Background(), `DELETE FROM stablecoins WHERE id = $1`, stablecoinID)
		pool.Exec(context.Background(), `DELETE FROM companies WHERE id = $1`, companyID)
	})

	return contractID
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// ContractRepository persists Contract and its sole SyncState row.
type ContractRepository struct {
	db *PostgresDB
}

func NewContractRepository(db *PostgresDB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Get loads one contract by id.
func (r *ContractRepository) Get(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT id, stablecoin_id, network_id, chain_type, token_address, decimals,
		       rpc_endpoint_id, creation_block, creation_time, active, created_at, updated_at
		FROM contracts WHERE id = $1`, id)

	c := &models.Contract{}
	if err := row.Scan(&c.ID, &c.StablecoinID, &c.NetworkID, &c.ChainType, &c.TokenAddress, &c.Decimals,
		&c.RpcEndpointID, &c.CreationBlock, &c.CreationTime, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

// ListActive returns every contract with active=true, for the scheduler's
// catch-up and stuck-recovery passes.
func (r *ContractRepository) ListActive(ctx context.Context) ([]*models.Contract, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, stablecoin_id, network_id, chain_type, token_address, decimals,
		       rpc_endpoint_id, creation_block, creation_time, active, created_at, updated_at
		FROM contracts WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("list active contracts: %w", err)
	}
	defer rows.Close()

	var out []*models.Contract
	for rows.Next() {
		c := &models.Contract{}
		if err := rows.Scan(&c.ID, &c.StablecoinID, &c.NetworkID, &c.ChainType, &c.TokenAddress, &c.Decimals,
			&c.RpcEndpointID, &c.CreationBlock, &c.CreationTime, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCreationInfo persists a discovered creation block/time, immutable
// afterward per §3's Contract invariant.
func (r *ContractRepository) SetCreationInfo(ctx context.Context, id uuid.UUID, block uint64, creationTime time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE contracts SET creation_block = $2, creation_time = $3, updated_at = now()
		WHERE id = $1`, id, block, creationTime)
	return err
}

// SetDecimals persists the chain-discovered token decimals.
func (r *ContractRepository) SetDecimals(ctx context.Context, id uuid.UUID, decimals int) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE contracts SET decimals = $2, updated_at = now() WHERE id = $1`, id, decimals)
	return err
}

// GetEndpoint loads the RpcEndpoint a contract is bound to.
func (r *ContractRepository) GetEndpoint(ctx context.Context, contractID uuid.UUID) (*models.RpcEndpoint, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT e.id, e.url, e.max_requests_per_second, e.max_blocks_per_query, e.active
		FROM rpc_endpoints e
		JOIN contracts c ON c.rpc_endpoint_id = e.id
		WHERE c.id = $1`, contractID)

	e := &models.RpcEndpoint{}
	if err := row.Scan(&e.ID, &e.URL, &e.MaxRequestsPerSecond, &e.MaxBlocksPerQuery, &e.Active); err != nil {
		return nil, fmt.Errorf("get endpoint for contract %s: %w", contractID, err)
	}
	return e, nil
}

// SyncStateRepository manages the one-row-per-contract cursor table.
type SyncStateRepository struct {
	db *PostgresDB
}

func NewSyncStateRepository(db *PostgresDB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get loads a contract's sync state, creating the invariant-1 row on first
// access if one doesn't exist yet.
func (r *SyncStateRepository) Get(ctx context.Context, contractID uuid.UUID) (*models.SyncState, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT contract_id, last_synced_block, last_synced_at, status, error_message, updated_at
		FROM sync_state WHERE contract_id = $1`, contractID)

	s := &models.SyncState{}
	err := row.Scan(&s.ContractID, &s.LastSyncedBlock, &s.LastSyncedAt, &s.Status, &s.ErrorMessage, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return r.create(ctx, contractID)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state for %s: %w", contractID, err)
	}
	return s, nil
}

func (r *SyncStateRepository) create(ctx context.Context, contractID uuid.UUID) (*models.SyncState, error) {
	s := &models.SyncState{
		ContractID:      contractID,
		LastSyncedBlock: 0,
		Status:          types.StatusPending,
	}
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO sync_state (contract_id, last_synced_block, status, updated_at)
		VALUES ($1, 0, $2, now())
		ON CONFLICT (contract_id) DO NOTHING`, contractID, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("create sync state for %s: %w", contractID, err)
	}
	return s, nil
}

// SetStatus transitions the contract's status, optionally recording an
// error message (cleared when status is not "error").
func (r *SyncStateRepository) SetStatus(ctx context.Context, contractID uuid.UUID, status types.ContractStatus, errMsg *string) error {
	if status != types.StatusError {
		errMsg = nil
	}
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_state SET status = $2, error_message = $3, updated_at = now()
		WHERE contract_id = $1`, contractID, status, errMsg)
	return err
}

// SetCursor persists the starting cursor computed during discover(), per
// §4.3: last_synced_block = max(creationBlock-1, 0).
func (r *SyncStateRepository) SetCursor(ctx context.Context, contractID uuid.UUID, block uint64) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_state SET last_synced_block = $2, updated_at = now()
		WHERE contract_id = $1`, contractID, block)
	return err
}

// Reset implements resetContract's cursor rewind: last_synced_block=0,
// status back to pending, error cleared.
func (r *SyncStateRepository) Reset(ctx context.Context, contractID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE sync_state SET last_synced_block = 0, status = $2, error_message = NULL, updated_at = now()
		WHERE contract_id = $1`, contractID, types.StatusPending)
	return err
}

// ListStuck returns contracts in "syncing" whose sync_state hasn't been
// touched since before the threshold, for §4.5's stuck-contract recovery.
func (r *SyncStateRepository) ListStuck(ctx context.Context, threshold time.Duration) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT contract_id FROM sync_state
		WHERE status = $1 AND updated_at < now() - $2::interval`,
		types.StatusSyncing, fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("list stuck contracts: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListNeedingCatchUp returns contracts whose status is "synced" or "error",
// candidates for §4.5's catch-up timer (the queue layer filters out those
// with an in-flight job).
func (r *SyncStateRepository) ListNeedingCatchUp(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT s.contract_id FROM sync_state s
		JOIN contracts c ON c.id = s.contract_id
		WHERE c.active = true AND s.status IN ($1, $2)`,
		types.StatusSynced, types.StatusError)
	if err != nil {
		return nil, fmt.Errorf("list catch-up candidates: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

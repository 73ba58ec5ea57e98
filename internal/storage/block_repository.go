package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
)

// BlockRepository is the read side of the blocks/block_addresses tables.
// Writes go exclusively through BatchWriter, to preserve the
// one-transaction-per-batch invariant.
type BlockRepository struct {
	db *PostgresDB
}

func NewBlockRepository(db *PostgresDB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Range returns per-block summaries for a contract over [fromBlock,
// toBlock], ordered by block number ascending.
func (r *BlockRepository) Range(ctx context.Context, contractID uuid.UUID, fromBlock, toBlock uint64) ([]*models.BlockRow, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT contract_id, block_number, timestamp, minted, burned, tx_count,
		       total_transferred, total_fees_native, total_supply
		FROM blocks
		WHERE contract_id = $1 AND block_number >= $2 AND block_number <= $3
		ORDER BY block_number ASC`, contractID, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("range blocks for %s: %w", contractID, err)
	}
	defer rows.Close()

	var out []*models.BlockRow
	for rows.Next() {
		b := &models.BlockRow{}
		if err := rows.Scan(&b.ContractID, &b.BlockNumber, &b.Timestamp, &b.Minted, &b.Burned, &b.TxCount,
			&b.TotalTransferred, &b.TotalFeesNative, &b.TotalSupply); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddressesForBlock returns every address that participated in one block,
// with its role, for the block-level drill-down view.
func (r *BlockRepository) AddressesForBlock(ctx context.Context, contractID uuid.UUID, blockNumber uint64) ([]*models.BlockAddress, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT contract_id, block_number, address, address_type
		FROM block_addresses WHERE contract_id = $1 AND block_number = $2`, contractID, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("addresses for block %s/%d: %w", contractID, blockNumber, err)
	}
	defer rows.Close()

	var out []*models.BlockAddress
	for rows.Next() {
		a := &models.BlockAddress{}
		if err := rows.Scan(&a.ContractID, &a.BlockNumber, &a.Address, &a.Role); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UniqueAddressCounts computes distinct sender/receiver counts across a
// block range directly from block_addresses, for a path that must recompute
// unique_senders/unique_receivers from scratch rather than incrementally
// (§9's Open Question resolution: ordinary sync keeps incremental summing,
// and the rollup engine sums its source rows' counts).
func (r *BlockRepository) UniqueAddressCounts(ctx context.Context, contractID uuid.UUID, fromBlock, toBlock uint64) (senders, receivers int64, err error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT address) FILTER (WHERE address_type IN ('sender', 'both')),
			COUNT(DISTINCT address) FILTER (WHERE address_type IN ('receiver', 'both'))
		FROM block_addresses
		WHERE contract_id = $1 AND block_number >= $2 AND block_number <= $3`, contractID, fromBlock, toBlock)
	if err := row.Scan(&senders, &receivers); err != nil {
		return 0, 0, fmt.Errorf("unique address counts for %s: %w", contractID, err)
	}
	return senders, receivers, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// BlockRow is a per-block summary for a contract. Unique on
// (contract, block_number). Emitted for every block in a processed range,
// including blocks with zero events (timestamp NULL in that case).
type BlockRow struct {
	ContractID       uuid.UUID        `db:"contract_id"`
	BlockNumber      uint64           `db:"block_number"`
	Timestamp        *time.Time       `db:"timestamp"`
	Minted           decimal.Decimal  `db:"minted"`
	Burned           decimal.Decimal  `db:"burned"`
	TxCount          int64            `db:"tx_count"`
	TotalTransferred decimal.Decimal  `db:"total_transferred"`
	TotalFeesNative  decimal.Decimal  `db:"total_fees_native"`
	TotalSupply      *decimal.Decimal `db:"total_supply"`
}

// NewEmptyBlockRow builds the zero-valued row emitted for a block with no
// events (timestamp left nil per §4.3's per-block materialization rule).
func NewEmptyBlockRow(contractID uuid.UUID, blockNumber uint64) *BlockRow {
	return &BlockRow{
		ContractID:       contractID,
		BlockNumber:      blockNumber,
		Minted:           decimal.Zero,
		Burned:           decimal.Zero,
		TotalTransferred: decimal.Zero,
		TotalFeesNative:  decimal.Zero,
	}
}

// BlockAddress records the role an address played within one block.
// Unique on (block, address); deleted cascading with its block.
type BlockAddress struct {
	ContractID  uuid.UUID        `db:"contract_id"`
	BlockNumber uint64           `db:"block_number"`
	Address     string           `db:"address"`
	Role        types.AddressRole `db:"address_type"`
}

// Promote returns the role that results from observing role `next` for an
// address that already has role `existing` within the same block —
// invariant 5 in §3: an address seen as both sender and receiver in one
// block is recorded as "both".
func Promote(existing, next types.AddressRole) types.AddressRole {
	if existing == next {
		return existing
	}
	if existing == types.RoleBoth || next == types.RoleBoth {
		return types.RoleBoth
	}
	return types.RoleBoth
}

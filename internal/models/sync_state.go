package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// SyncState is the sole cursor for a contract: exactly one row per
// contract (invariant 1 in §3).
type SyncState struct {
	ContractID      uuid.UUID             `db:"contract_id"`
	LastSyncedBlock uint64                `db:"last_synced_block"`
	LastSyncedAt    *time.Time            `db:"last_synced_at"`
	Status          types.ContractStatus  `db:"status"`
	ErrorMessage    *string               `db:"error_message"`
	UpdatedAt       time.Time             `db:"updated_at"`
}

// Package models holds the row-shaped types persisted by the indexer.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// Contract is one (token, chain) deployment tracked by the indexer. It is
// created externally (by the CRUD REST surface) and is immutable here
// except for discovered creation info and the active flag.
type Contract struct {
	ID             uuid.UUID      `db:"id"`
	StablecoinID   uuid.UUID      `db:"stablecoin_id"`
	NetworkID      uuid.UUID      `db:"network_id"`
	ChainType      types.ChainType `db:"chain_type"`
	TokenAddress   string         `db:"token_address"`
	Decimals       int            `db:"decimals"`
	RpcEndpointID  uuid.UUID      `db:"rpc_endpoint_id"`
	CreationBlock  *uint64        `db:"creation_block"`
	CreationTime   *time.Time     `db:"creation_time"`
	Active         bool           `db:"active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// DefaultDecimals returns the chain-family default token decimal count used
// when a contract hasn't had its actual decimals discovered yet.
func DefaultDecimals(chain types.ChainType) int {
	switch chain {
	case types.ChainTypeEVM:
		return 18
	default:
		return 6
	}
}

package models

import "github.com/google/uuid"

// RpcEndpoint is a configured RPC URL with a per-second request budget,
// shared by every contract bound to it. Rate-limit scope is the endpoint
// id, not the contract.
type RpcEndpoint struct {
	ID               uuid.UUID `db:"id"`
	URL              string    `db:"url"`
	MaxRequestsPerSecond float64 `db:"max_requests_per_second"`
	MaxBlocksPerQuery int       `db:"max_blocks_per_query"`
	Active           bool      `db:"active"`
}

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
)

// RpcEndpointRepository manages the rpc_endpoints table, one row per
// configured URL. Rate-limit budgets are scoped to endpoint id, shared by
// every contract bound to it.
type RpcEndpointRepository struct {
	db *PostgresDB
}

func NewRpcEndpointRepository(db *PostgresDB) *RpcEndpointRepository {
	return &RpcEndpointRepository{db: db}
}

func (r *RpcEndpointRepository) Get(ctx context.Context, id uuid.UUID) (*models.RpcEndpoint, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT id, url, max_requests_per_second, max_blocks_per_query, active
		FROM rpc_endpoints WHERE id = $1`, id)

	e := &models.RpcEndpoint{}
	if err := row.Scan(&e.ID, &e.URL, &e.MaxRequestsPerSecond, &e.MaxBlocksPerQuery, &e.Active); err != nil {
		return nil, fmt.Errorf("get rpc endpoint %s: %w", id, err)
	}
	return e, nil
}

// ListActive returns every active endpoint, used at startup to pre-warm
// one rate limiter per endpoint id.
func (r *RpcEndpointRepository) ListActive(ctx context.Context) ([]*models.RpcEndpoint, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, url, max_requests_per_second, max_blocks_per_query, active
		FROM rpc_endpoints WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("list active rpc endpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.RpcEndpoint
	for rows.Next() {
		e := &models.RpcEndpoint{}
		if err := rows.Scan(&e.ID, &e.URL, &e.MaxRequestsPerSecond, &e.MaxBlocksPerQuery, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

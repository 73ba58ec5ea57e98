package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// MetricsRepository reads and upserts aggregation rows across all four
// resolutions.
type MetricsRepository struct {
	db *PostgresDB
}

func NewMetricsRepository(db *PostgresDB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Upsert writes one bucket, combining with any existing row at the same
// (contract, period_start, resolution) per invariant 3's accumulation
// rule: minted/burned/tx_count/unique_* sum, total_supply overwrites with
// the latest non-NULL value, start_block takes the min, end_block the max.
func (r *MetricsRepository) Upsert(ctx context.Context, m *models.MetricsRow) error {
	return upsertMetricsRow(ctx, r.db.Pool(), m)
}

// Range returns every bucket for a contract at a resolution within
// [from, to), ordered by period_start, for the query-contract's read path.
func (r *MetricsRepository) Range(ctx context.Context, contractID uuid.UUID, resolution types.Resolution, from, to int64) ([]*models.MetricsRow, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT contract_id, period_start, resolution_seconds, total_supply, minted, burned,
		       tx_count, unique_senders, unique_receivers, total_transferred,
		       total_fees_native, total_fees_usd, start_block, end_block
		FROM metrics
		WHERE contract_id = $1 AND resolution_seconds = $2
		  AND period_start >= to_timestamp($3) AND period_start < to_timestamp($4)
		ORDER BY period_start ASC`, contractID, resolution, from, to)
	if err != nil {
		return nil, fmt.Errorf("range metrics for %s: %w", contractID, err)
	}
	defer rows.Close()

	var out []*models.MetricsRow
	for rows.Next() {
		m := &models.MetricsRow{}
		if err := rows.Scan(&m.ContractID, &m.PeriodStart, &m.Resolution, &m.TotalSupply, &m.Minted, &m.Burned,
			&m.TxCount, &m.UniqueSenders, &m.UniqueReceivers, &m.TotalTransferred,
			&m.TotalFeesNative, &m.TotalFeesUSD, &m.StartBlock, &m.EndBlock); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SourceBuckets returns the RollupFactor source-resolution buckets whose
// period_start falls within the target bucket's span [targetStart,
// targetStart+targetResolution), for the rollup engine.
func (r *MetricsRepository) SourceBuckets(ctx context.Context, contractID uuid.UUID, source types.Resolution, targetStart int64, targetResolution types.Resolution) ([]*models.MetricsRow, error) {
	return r.Range(ctx, contractID, source, targetStart, targetStart+int64(targetResolution))
}

// All returns every bucket for a contract at a resolution, ordered by
// period_start, for the rollup engine's candidate-window scan.
func (r *MetricsRepository) All(ctx context.Context, contractID uuid.UUID, resolution types.Resolution) ([]*models.MetricsRow, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT contract_id, period_start, resolution_seconds, total_supply, minted, burned,
		       tx_count, unique_senders, unique_receivers, total_transferred,
		       total_fees_native, total_fees_usd, start_block, end_block
		FROM metrics
		WHERE contract_id = $1 AND resolution_seconds = $2
		ORDER BY period_start ASC`, contractID, resolution)
	if err != nil {
		return nil, fmt.Errorf("all metrics for %s/%d: %w", contractID, resolution, err)
	}
	defer rows.Close()

	var out []*models.MetricsRow
	for rows.Next() {
		m := &models.MetricsRow{}
		if err := rows.Scan(&m.ContractID, &m.PeriodStart, &m.Resolution, &m.TotalSupply, &m.Minted, &m.Burned,
			&m.TxCount, &m.UniqueSenders, &m.UniqueReceivers, &m.TotalTransferred,
			&m.TotalFeesNative, &m.TotalFeesUSD, &m.StartBlock, &m.EndBlock); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Exists reports whether a bucket has already been materialized at
// (contract, periodStart, resolution), the rollup engine's idempotency gate.
func (r *MetricsRepository) Exists(ctx context.Context, contractID uuid.UUID, periodStart time.Time, resolution types.Resolution) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM metrics WHERE contract_id = $1 AND period_start = $2 AND resolution_seconds = $3)`,
		contractID, periodStart, resolution).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check metrics exists %s/%d: %w", contractID, resolution, err)
	}
	return exists, nil
}

// Replace overwrites a bucket outright, the rollup engine's write path —
// unlike Upsert, it does not accumulate onto any prior value.
func (r *MetricsRepository) Replace(ctx context.Context, m *models.MetricsRow) error {
	return replaceMetricsRow(ctx, r.db.Pool(), m)
}

// DeleteByContract removes every bucket at every resolution for a contract,
// the wipe half of resetContract (§6).
func (r *MetricsRepository) DeleteByContract(ctx context.Context, contractID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM metrics WHERE contract_id = $1`, contractID)
	if err != nil {
		return fmt.Errorf("delete metrics for %s: %w", contractID, err)
	}
	return nil
}

// Package rollup implements the three fixed aggregation hops that turn
// daily metrics buckets into 10d, 100d, and 1000d buckets: a periodic sweep
// across every active contract, idempotent by construction, grounded in the
// same batch-then-upsert shape the contract processor uses for its own
// per-range commits.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/anders94/stablecoin-wars-backend/internal/logging"
	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// ContractRepository is the subset of storage.ContractRepository the engine
// needs to find which contracts to roll up.
type ContractRepository interface {
	ListActive(ctx context.Context) ([]*models.Contract, error)
}

// MetricsRepository is the subset of storage.MetricsRepository the engine
// needs to read source buckets and write target buckets.
type MetricsRepository interface {
	All(ctx context.Context, contractID uuid.UUID, resolution types.Resolution) ([]*models.MetricsRow, error)
	Exists(ctx context.Context, contractID uuid.UUID, periodStart time.Time, resolution types.Resolution) (bool, error)
	Replace(ctx context.Context, m *models.MetricsRow) error
}

// Config configures one Engine.
type Config struct {
	ContractRepo ContractRepository
	MetricsRepo  MetricsRepository

	// Now returns the current time; overridable in tests. Defaults to
	// time.Now.
	Now func() time.Time
}

// Engine runs the fixed 1d→10d→100d→1000d rollup ladder across every
// active contract.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ContractRepo == nil || cfg.MetricsRepo == nil {
		return nil, fmt.Errorf("contract and metrics repositories are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg}, nil
}

// Run sweeps every active contract through all three rollup levels, leaf
// first. A failure rolling up one contract or level is logged and does not
// block the rest of the sweep.
func (e *Engine) Run(ctx context.Context) error {
	contracts, err := e.cfg.ContractRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active contracts: %w", err)
	}

	log := logging.WithComponent("rollup")
	for _, c := range contracts {
		for _, level := range types.RollupLevels {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := e.runLevel(ctx, c.ID, level); err != nil {
				log.WithField("contract_id", c.ID.String()).
					WithField("target_resolution", int64(level.Target)).
					WithError(err).Warn("rollup level failed")
			}
		}
	}
	return nil
}

// runLevel computes every pending target period for one contract at one
// rollup level and upserts it. A target period is pending when at least one
// source row falls in its window, no target row exists yet for it, and
// either the window holds RollupFactor source rows or it closed at least
// one source period ago.
func (e *Engine) runLevel(ctx context.Context, contractID uuid.UUID, level types.RollupLevel) error {
	sourceRows, err := e.cfg.MetricsRepo.All(ctx, contractID, level.Source)
	if err != nil {
		return fmt.Errorf("load source rows: %w", err)
	}
	if len(sourceRows) == 0 {
		return nil
	}

	grouped := make(map[int64][]*models.MetricsRow)
	for _, row := range sourceRows {
		targetStart := models.PeriodStartFor(row.PeriodStart, level.Target)
		grouped[targetStart.Unix()] = append(grouped[targetStart.Unix()], row)
	}

	now := e.cfg.Now()
	safetyMargin := time.Duration(level.Source) * time.Second

	for key, rows := range grouped {
		targetStart := time.Unix(key, 0).UTC()

		exists, err := e.cfg.MetricsRepo.Exists(ctx, contractID, targetStart, level.Target)
		if err != nil {
			return fmt.Errorf("check existing bucket %d: %w", key, err)
		}
		if exists {
			continue
		}

		windowEnd := targetStart.Add(time.Duration(level.Target) * time.Second)
		windowClosed := !windowEnd.After(now.Add(-safetyMargin))
		if len(rows) < types.RollupFactor && !windowClosed {
			continue
		}

		supply := supplySnapshot(sourceRows, windowEnd)
		target := aggregateBucket(contractID, targetStart, level.Target, rows, supply)

		if err := e.cfg.MetricsRepo.Replace(ctx, target); err != nil {
			return fmt.Errorf("replace bucket %d: %w", key, err)
		}
	}
	return nil
}

// supplySnapshot finds the most recent total_supply known as of the end of
// a window: the snapshot carried by the window's own last source row if
// present, else the nearest preceding row's. all must be ordered ascending
// by PeriodStart.
func supplySnapshot(all []*models.MetricsRow, windowEnd time.Time) *decimal.Decimal {
	var latest *decimal.Decimal
	for _, r := range all {
		if !r.PeriodStart.Before(windowEnd) {
			break
		}
		if r.TotalSupply != nil {
			v := *r.TotalSupply
			latest = &v
		}
	}
	return latest
}

// aggregateBucket sums the accumulator fields across rows and takes
// min/max of the block range, per the rollup aggregation rule.
func aggregateBucket(contractID uuid.UUID, targetStart time.Time, targetRes types.Resolution, rows []*models.MetricsRow, supply *decimal.Decimal) *models.MetricsRow {
	m := &models.MetricsRow{
		ContractID:       contractID,
		PeriodStart:      targetStart,
		Resolution:       targetRes,
		TotalSupply:      supply,
		Minted:           decimal.Zero,
		Burned:           decimal.Zero,
		TotalTransferred: decimal.Zero,
		TotalFeesNative:  decimal.Zero,
		TotalFeesUSD:     decimal.Zero,
	}
	for _, r := range rows {
		m.Minted = m.Minted.Add(r.Minted)
		m.Burned = m.Burned.Add(r.Burned)
		m.TxCount += r.TxCount
		m.UniqueSenders += r.UniqueSenders
		m.UniqueReceivers += r.UniqueReceivers
		m.TotalTransferred = m.TotalTransferred.Add(r.TotalTransferred)
		m.TotalFeesNative = m.TotalFeesNative.Add(r.TotalFeesNative)
		m.TotalFeesUSD = m.TotalFeesUSD.Add(r.TotalFeesUSD)

		if r.StartBlock != nil && (m.StartBlock == nil || *r.StartBlock < *m.StartBlock) {
			b := *r.StartBlock
			m.StartBlock = &b
		}
		if r.EndBlock != nil && (m.EndBlock == nil || *r.EndBlock > *m.EndBlock) {
			b := *r.EndBlock
			m.EndBlock = &b
		}
	}
	return m
}

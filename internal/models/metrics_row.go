package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// MetricsRow is one aggregation bucket for a contract at a given
// resolution. Unique on (contract, period_start, resolution).
type MetricsRow struct {
	ContractID       uuid.UUID        `db:"contract_id"`
	PeriodStart      time.Time        `db:"period_start"`
	Resolution       types.Resolution `db:"resolution_seconds"`
	TotalSupply      *decimal.Decimal `db:"total_supply"`
	Minted           decimal.Decimal  `db:"minted"`
	Burned           decimal.Decimal  `db:"burned"`
	TxCount          int64            `db:"tx_count"`
	UniqueSenders    int64            `db:"unique_senders"`
	UniqueReceivers  int64            `db:"unique_receivers"`
	TotalTransferred decimal.Decimal  `db:"total_transferred"`
	TotalFeesNative  decimal.Decimal  `db:"total_fees_native"`
	TotalFeesUSD     decimal.Decimal  `db:"total_fees_usd"`
	StartBlock       *uint64          `db:"start_block"`
	EndBlock         *uint64          `db:"end_block"`
}

// NewDailyMetricsRow builds a zero-valued daily accumulator for periodStart
// (which the caller must already have aligned to UTC midnight).
func NewDailyMetricsRow(contractID uuid.UUID, periodStart time.Time) *MetricsRow {
	return &MetricsRow{
		ContractID:       contractID,
		PeriodStart:      periodStart,
		Resolution:       types.Resolution1d,
		Minted:           decimal.Zero,
		Burned:           decimal.Zero,
		TotalTransferred: decimal.Zero,
		TotalFeesNative:  decimal.Zero,
		TotalFeesUSD:     decimal.Zero,
	}
}

// PeriodStartFor aligns t to the UTC epoch boundary for resolution r, per
// invariant 3 in §3.
func PeriodStartFor(t time.Time, r types.Resolution) time.Time {
	sec := t.UTC().Unix()
	aligned := (sec / int64(r)) * int64(r)
	return time.Unix(aligned, 0).UTC()
}

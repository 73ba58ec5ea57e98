// Package processor implements the per-contract discover/sync state
// machine: one ContractProcessor per contract, advancing its sync_state
// cursor from creation block to chain head in bounded batches.
package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/anders94/stablecoin-wars-backend/internal/adapter"
	"github.com/anders94/stablecoin-wars-backend/internal/errors"
	"github.com/anders94/stablecoin-wars-backend/internal/logging"
	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/ratelimit"
	"github.com/anders94/stablecoin-wars-backend/internal/retry"
	"github.com/anders94/stablecoin-wars-backend/internal/storage"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// ContractRepository is the subset of storage.ContractRepository that
// discover() needs to persist what it learns about a contract.
type ContractRepository interface {
	SetCreationInfo(ctx context.Context, id uuid.UUID, block uint64, creationTime time.Time) error
	SetDecimals(ctx context.Context, id uuid.UUID, decimals int) error
}

// SyncStateRepository is the subset of storage.SyncStateRepository that the
// discover/sync state machine needs.
type SyncStateRepository interface {
	Get(ctx context.Context, contractID uuid.UUID) (*models.SyncState, error)
	SetStatus(ctx context.Context, contractID uuid.UUID, status types.ContractStatus, errMsg *string) error
	SetCursor(ctx context.Context, contractID uuid.UUID, block uint64) error
}

// BatchCommitter is the subset of storage.BatchWriter that sync() needs to
// persist one processed block range atomically.
type BatchCommitter interface {
	Write(ctx context.Context, b *storage.Batch) error
	MarkSynced(ctx context.Context, contractID uuid.UUID) error
}

// Config configures one ContractProcessor.
type Config struct {
	Contract      *models.Contract
	Endpoint      *models.RpcEndpoint
	Adapter       adapter.ChainAdapter
	ContractRepo  ContractRepository
	SyncStateRepo SyncStateRepository
	BatchWriter   BatchCommitter
	Limiter       *ratelimit.Registry

	// PollInterval is how often sync() runs once a contract has caught up
	// to the chain head. Ignored by RunOnce.
	PollInterval time.Duration

	// MaxBlocksPerBatch bounds one sync iteration's block range, further
	// bounded by the adapter's and endpoint's own limits.
	MaxBlocksPerBatch int
}

// ContractProcessor drives discover() once and then sync() repeatedly for
// one contract: Start/Stop with a running flag, stop channel, and a poll
// loop, generalized from block-range polling against tracked addresses to
// the discover/sync state machine over one contract's cursor.
type ContractProcessor struct {
	cfg Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewContractProcessor(cfg Config) (*ContractProcessor, error) {
	if cfg.Contract == nil {
		return nil, fmt.Errorf("contract cannot be nil")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("chain adapter cannot be nil")
	}
	if cfg.ContractRepo == nil || cfg.SyncStateRepo == nil || cfg.BatchWriter == nil {
		return nil, fmt.Errorf("contract, sync state, and batch writer repositories are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	maxBlocks := cfg.MaxBlocksPerBatch
	if adapterMax := cfg.Adapter.MaxBlocksPerQuery(); adapterMax > 0 && (maxBlocks <= 0 || adapterMax < maxBlocks) {
		maxBlocks = adapterMax
	}
	if cfg.Endpoint != nil && cfg.Endpoint.MaxBlocksPerQuery > 0 && cfg.Endpoint.MaxBlocksPerQuery < maxBlocks {
		maxBlocks = cfg.Endpoint.MaxBlocksPerQuery
	}
	if maxBlocks <= 0 {
		maxBlocks = 1000
	}
	cfg.MaxBlocksPerBatch = maxBlocks

	return &ContractProcessor{cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}, nil
}

// Start runs discover (if not yet done) followed by a sync poll loop,
// returning once the first discover/sync pass has completed or failed.
// The poll loop itself runs in a goroutine until Stop is called.
func (p *ContractProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor for contract %s is already running", p.cfg.Contract.ID)
	}
	p.running = true
	p.mu.Unlock()

	log := logging.WithContract(p.cfg.Contract.ID.String())

	if err := p.RunOnce(ctx); err != nil {
		log.WithError(err).Warn("initial discover/sync pass failed, will retry on next poll")
	}

	go p.pollLoop(ctx)
	return nil
}

// Stop signals the poll loop to exit and waits up to the shutdown grace
// deadline for it to finish its in-flight batch.
func (p *ContractProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("processor for contract %s stop timed out", p.cfg.Contract.ID)
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ContractProcessor) pollLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	log := logging.WithContract(p.cfg.Contract.ID.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				if errors.IsCancelled(err) {
					return
				}
				log.WithError(err).Warn("sync pass failed")
			}
		}
	}
}

// RunOnce performs one discover-if-needed-then-sync pass: discover runs
// only while the contract has never been assigned a creation block, sync
// then advances the cursor in MaxBlocksPerBatch-sized steps until it
// catches up to the chain head or the context is cancelled.
func (p *ContractProcessor) RunOnce(ctx context.Context) error {
	state, err := p.cfg.SyncStateRepo.Get(ctx, p.cfg.Contract.ID)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	if p.cfg.Contract.CreationBlock == nil {
		if err := p.discover(ctx); err != nil {
			_ = p.cfg.SyncStateRepo.SetStatus(ctx, p.cfg.Contract.ID, types.StatusError, errPtr(err))
			return err
		}
		// discover() just seeded a fresh cursor; reload so sync() doesn't
		// walk from the stale pre-discovery state fetched above.
		state, err = p.cfg.SyncStateRepo.Get(ctx, p.cfg.Contract.ID)
		if err != nil {
			return fmt.Errorf("reload sync state after discover: %w", err)
		}
	}

	if err := p.cfg.SyncStateRepo.SetStatus(ctx, p.cfg.Contract.ID, types.StatusSyncing, nil); err != nil {
		return fmt.Errorf("mark syncing: %w", err)
	}

	if err := p.sync(ctx, state); err != nil {
		if errors.IsCancelled(err) {
			return err
		}
		_ = p.cfg.SyncStateRepo.SetStatus(ctx, p.cfg.Contract.ID, types.StatusError, errPtr(err))
		return err
	}

	return nil
}

func errPtr(err error) *string {
	msg := err.Error()
	return &msg
}

// discover binary-searches (or, off the EVM family, linearly scans) for
// the contract's creation block, reads its on-chain decimals, and seeds
// the sync cursor at max(creationBlock-1, 0).
func (p *ContractProcessor) discover(ctx context.Context) error {
	current, err := acquireAndCall(ctx, p, func(ctx context.Context) (uint64, error) {
		return p.cfg.Adapter.CurrentBlock(ctx)
	})
	if err != nil {
		return fmt.Errorf("discover: current block: %w", err)
	}

	creationBlock, err := acquireAndCall(ctx, p, func(ctx context.Context) (uint64, error) {
		return p.cfg.Adapter.CreationBlock(ctx, p.cfg.Contract.TokenAddress, 0, current)
	})
	if err != nil {
		return fmt.Errorf("discover: creation block: %w", err)
	}

	creationTime, err := acquireAndCall(ctx, p, func(ctx context.Context) (int64, error) {
		return p.cfg.Adapter.BlockTimestamp(ctx, creationBlock)
	})
	if err != nil {
		return fmt.Errorf("discover: creation time: %w", err)
	}

	decimals, err := acquireAndCall(ctx, p, func(ctx context.Context) (int, error) {
		return p.cfg.Adapter.TokenDecimals(ctx, p.cfg.Contract.TokenAddress)
	})
	if err != nil {
		return fmt.Errorf("discover: decimals: %w", err)
	}

	ts := time.Unix(creationTime, 0).UTC()
	if err := p.cfg.ContractRepo.SetCreationInfo(ctx, p.cfg.Contract.ID, creationBlock, ts); err != nil {
		return fmt.Errorf("persist creation info: %w", err)
	}
	if err := p.cfg.ContractRepo.SetDecimals(ctx, p.cfg.Contract.ID, decimals); err != nil {
		return fmt.Errorf("persist decimals: %w", err)
	}

	startCursor := uint64(0)
	if creationBlock > 0 {
		startCursor = creationBlock - 1
	}
	if err := p.cfg.SyncStateRepo.SetCursor(ctx, p.cfg.Contract.ID, startCursor); err != nil {
		return fmt.Errorf("seed cursor: %w", err)
	}

	p.cfg.Contract.CreationBlock = &creationBlock
	p.cfg.Contract.CreationTime = &ts
	p.cfg.Contract.Decimals = decimals
	return nil
}

// sync advances the contract's cursor toward the chain head in
// MaxBlocksPerBatch-sized steps, committing each step as one atomic batch.
func (p *ContractProcessor) sync(ctx context.Context, state *models.SyncState) error {
	cursor := state.LastSyncedBlock

	for {
		select {
		case <-ctx.Done():
			return errors.NewCancelled()
		case <-p.stopCh:
			return errors.NewCancelled()
		default:
		}

		current, err := acquireAndCall(ctx, p, func(ctx context.Context) (uint64, error) {
			return p.cfg.Adapter.CurrentBlock(ctx)
		})
		if err != nil {
			return fmt.Errorf("sync: current block: %w", err)
		}

		if cursor >= current {
			return p.cfg.BatchWriter.MarkSynced(ctx, p.cfg.Contract.ID)
		}

		target := current
		if current-cursor > uint64(p.cfg.MaxBlocksPerBatch) {
			target = cursor + uint64(p.cfg.MaxBlocksPerBatch)
		}

		batch, err := p.processRange(ctx, cursor+1, target)
		if err != nil {
			return fmt.Errorf("sync: process range [%d,%d]: %w", cursor+1, target, err)
		}

		if err := p.cfg.BatchWriter.Write(ctx, batch); err != nil {
			return errors.NewDataIntegrity("commit batch", err)
		}

		cursor = target
	}
}

// processRange fetches every mint/burn/transfer in [fromBlock, toBlock],
// aggregates per-block summaries, per-block address roles, and one daily
// metrics bucket per UTC day touched, per invariant 3's accumulation
// contract. Blocks with no events are still materialized, timestamp-less,
// so every block number in range has a row.
func (p *ContractProcessor) processRange(ctx context.Context, fromBlock, toBlock uint64) (*storage.Batch, error) {
	transfers, err := acquireAndCall(ctx, p, func(ctx context.Context) ([]types.TransferEvent, error) {
		return p.cfg.Adapter.TransferEvents(ctx, p.cfg.Contract.TokenAddress, fromBlock, toBlock)
	})
	if err != nil {
		return nil, fmt.Errorf("transfer events: %w", err)
	}

	mintBurns, err := acquireAndCall(ctx, p, func(ctx context.Context) ([]types.MintBurnEvent, error) {
		return p.cfg.Adapter.MintBurnEvents(ctx, p.cfg.Contract.TokenAddress, fromBlock, toBlock)
	})
	if err != nil {
		return nil, fmt.Errorf("mint/burn events: %w", err)
	}
	mintBurnByKey := make(map[string]types.MintBurnEvent, len(mintBurns))
	for _, mb := range mintBurns {
		mintBurnByKey[mb.TxHash+":"+fmt.Sprint(mb.LogIndex)] = mb
	}

	txHashes := make([]string, 0, len(transfers))
	seen := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		if !seen[t.TxHash] {
			seen[t.TxHash] = true
			txHashes = append(txHashes, t.TxHash)
		}
	}
	// One RPC per hash, so each one acquires its own token: a lookup over
	// N hashes costs N tokens, never one token for the whole batch.
	fees := make(map[string]types.Fee, len(txHashes))
	for _, h := range txHashes {
		fee, err := acquireAndCall(ctx, p, func(ctx context.Context) (types.Fee, error) {
			return p.cfg.Adapter.TransactionFee(ctx, h)
		})
		if err != nil {
			return nil, fmt.Errorf("transaction fee %s: %w", h, err)
		}
		fees[h] = fee
	}

	blocks := make(map[uint64]*models.BlockRow, toBlock-fromBlock+1)
	for b := fromBlock; b <= toBlock; b++ {
		blocks[b] = models.NewEmptyBlockRow(p.cfg.Contract.ID, b)
	}

	addressRoles := make(map[string]types.AddressRole) // "block:address" -> role
	dailyBuckets := make(map[int64]*models.MetricsRow)
	blockTimestamps := make(map[uint64]time.Time)
	blockFeeSeen := make(map[uint64]map[string]bool)
	dayFeeSeen := make(map[int64]map[string]bool)

	for _, t := range transfers {
		row := blocks[t.BlockNumber]
		if row == nil {
			row = models.NewEmptyBlockRow(p.cfg.Contract.ID, t.BlockNumber)
			blocks[t.BlockNumber] = row
		}

		// Stored in base units, undivided by decimals: decimals stay
		// metadata-only (contracts.decimals), a display-layer concern.
		value, err := decimal.NewFromString(t.Value)
		if err != nil {
			return nil, errors.NewDataIntegrity(fmt.Sprintf("parse transfer value %q", t.Value), err)
		}

		// Every event seen on-chain (transfer, mint, or burn) counts once
		// toward the block's tx_count; only pure transfers count toward the
		// daily tx_count subtotal and total_transferred, per the mint/burn
		// exclusion rule.
		row.TxCount++

		if _, ok := blockTimestamps[t.BlockNumber]; !ok {
			ts, err := acquireAndCall(ctx, p, func(ctx context.Context) (int64, error) {
				return p.cfg.Adapter.BlockTimestamp(ctx, t.BlockNumber)
			})
			if err != nil {
				return nil, fmt.Errorf("block timestamp %d: %w", t.BlockNumber, err)
			}
			when := time.Unix(ts, 0).UTC()
			blockTimestamps[t.BlockNumber] = when
			row.Timestamp = &when
		}

		dayStart := models.PeriodStartFor(blockTimestamps[t.BlockNumber], types.Resolution1d)
		dayKey := dayStart.Unix()
		bucket := dailyBuckets[dayKey]
		if bucket == nil {
			bucket = models.NewDailyMetricsRow(p.cfg.Contract.ID, dayStart)
			dailyBuckets[dayKey] = bucket
		}
		b := t.BlockNumber
		if bucket.StartBlock == nil || b < *bucket.StartBlock {
			bucket.StartBlock = &b
		}
		if bucket.EndBlock == nil || b > *bucket.EndBlock {
			bucket.EndBlock = &b
		}

		// A txHash's fee is attributed once per block and once per day,
		// regardless of how many transfer/mint/burn events it produced.
		if blockFeeSeen[t.BlockNumber] == nil {
			blockFeeSeen[t.BlockNumber] = make(map[string]bool)
		}
		if dayFeeSeen[dayKey] == nil {
			dayFeeSeen[dayKey] = make(map[string]bool)
		}
		if !blockFeeSeen[t.BlockNumber][t.TxHash] || !dayFeeSeen[dayKey][t.TxHash] {
			fee := fees[t.TxHash]
			feeVal, _ := decimal.NewFromString(fee.FeeNative)
			if !blockFeeSeen[t.BlockNumber][t.TxHash] {
				row.TotalFeesNative = row.TotalFeesNative.Add(feeVal)
				blockFeeSeen[t.BlockNumber][t.TxHash] = true
			}
			if !dayFeeSeen[dayKey][t.TxHash] {
				bucket.TotalFeesNative = bucket.TotalFeesNative.Add(feeVal)
				dayFeeSeen[dayKey][t.TxHash] = true
			}
		}

		mbKey := t.TxHash + ":" + fmt.Sprint(t.LogIndex)
		if mb, ok := mintBurnByKey[mbKey]; ok {
			if mb.IsMint {
				row.Minted = row.Minted.Add(value)
				bucket.Minted = bucket.Minted.Add(value)
				promoteRole(addressRoles, t.BlockNumber, t.To, types.RoleReceiver)
			} else {
				row.Burned = row.Burned.Add(value)
				bucket.Burned = bucket.Burned.Add(value)
				promoteRole(addressRoles, t.BlockNumber, t.From, types.RoleSender)
			}
			continue
		}

		row.TotalTransferred = row.TotalTransferred.Add(value)
		bucket.TxCount++
		bucket.TotalTransferred = bucket.TotalTransferred.Add(value)
		bucket.UniqueSenders++
		bucket.UniqueReceivers++
		promoteRole(addressRoles, t.BlockNumber, t.From, types.RoleSender)
		promoteRole(addressRoles, t.BlockNumber, t.To, types.RoleReceiver)
	}

	// Snapshot total supply once, at the range's final block, and stamp it
	// onto that block's row and the daily bucket(s) it falls in.
	supplyStr, err := acquireAndCall(ctx, p, func(ctx context.Context) (string, error) {
		return p.cfg.Adapter.TotalSupply(ctx, p.cfg.Contract.TokenAddress, toBlock)
	})
	if err != nil {
		return nil, fmt.Errorf("total supply at %d: %w", toBlock, err)
	}
	supply, err := decimal.NewFromString(supplyStr)
	if err != nil {
		return nil, errors.NewDataIntegrity(fmt.Sprintf("parse total supply %q", supplyStr), err)
	}
	if row := blocks[toBlock]; row != nil {
		row.TotalSupply = &supply
	}
	if len(dailyBuckets) > 0 {
		latestDay := latestBucketKey(dailyBuckets)
		dailyBuckets[latestDay].TotalSupply = &supply
	}

	out := make([]*models.BlockRow, 0, len(blocks))
	for _, row := range blocks {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })

	addresses := make([]*models.BlockAddress, 0, len(addressRoles))
	for key, role := range addressRoles {
		blockNum, addr := splitBlockAddressKey(key)
		addresses = append(addresses, &models.BlockAddress{
			ContractID:  p.cfg.Contract.ID,
			BlockNumber: blockNum,
			Address:     addr,
			Role:        role,
		})
	}

	metrics := make([]*models.MetricsRow, 0, len(dailyBuckets))
	for _, m := range dailyBuckets {
		metrics = append(metrics, m)
	}

	return &storage.Batch{
		ContractID:   p.cfg.Contract.ID,
		FromBlock:    fromBlock,
		DailyMetrics: metrics,
		Blocks:       out,
		Addresses:    addresses,
		NewCursor:    toBlock,
	}, nil
}

func latestBucketKey(buckets map[int64]*models.MetricsRow) int64 {
	var latest int64 = -1
	for k := range buckets {
		if k > latest {
			latest = k
		}
	}
	return latest
}

func promoteRole(roles map[string]types.AddressRole, block uint64, address string, role types.AddressRole) {
	if address == "" {
		return
	}
	key := blockAddressKey(block, address)
	if existing, ok := roles[key]; ok {
		roles[key] = models.Promote(existing, role)
	} else {
		roles[key] = role
	}
}

func blockAddressKey(block uint64, address string) string {
	return fmt.Sprintf("%d:%s", block, address)
}

func splitBlockAddressKey(key string) (uint64, string) {
	var block uint64
	var addr string
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			fmt.Sscanf(key[:i], "%d", &block)
			addr = key[i+1:]
			break
		}
	}
	return block, addr
}

// acquireAndCall gates one adapter call through this contract's endpoint
// rate limiter, then retries the call with exponential backoff (500ms,
// 5 attempts) to absorb transient RPC failures.
func acquireAndCall[T any](ctx context.Context, p *ContractProcessor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.cfg.Limiter != nil && p.cfg.Endpoint != nil {
		if err := p.cfg.Limiter.Acquire(ctx, p.cfg.Endpoint.ID, p.cfg.Endpoint.MaxRequestsPerSecond, ratelimit.DefaultBurst); err != nil {
			return zero, err
		}
	}

	var result T
	cfg := retry.DefaultRetryConfig()
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxAttempts = 5

	res := retry.WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		r, err := fn(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if !res.Success {
		return zero, res.LastError
	}
	return result, nil
}

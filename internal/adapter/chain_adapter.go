// Package adapter implements one ChainAdapter per chain family, the only
// surface through which the rest of the indexer talks to a blockchain.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// ChainAdapter is the capability set every chain family implements per
// §4.1. No adapter subclasses another; ChainType tags which implementation
// backs a given contract.
type ChainAdapter interface {
	// Connect establishes the underlying RPC client. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect releases the underlying RPC client.
	Disconnect() error

	// IsConnected reports whether Connect has succeeded and Disconnect
	// hasn't been called since.
	IsConnected() bool

	// CurrentBlock returns the chain's current head block number.
	CurrentBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the unix timestamp of the given block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)

	// CreationBlock discovers the block a contract was deployed in. The EVM
	// adapter binary-searches over code-existence probes with a linear-scan
	// fallback; the Tron and Solana adapters scan linearly.
	CreationBlock(ctx context.Context, tokenAddress string, searchFrom, searchTo uint64) (uint64, error)

	// TokenDecimals reads the ERC-20-equivalent decimals() value.
	TokenDecimals(ctx context.Context, tokenAddress string) (int, error)

	// TotalSupply reads the token's total supply at a given block, in
	// base units, as a decimal string.
	TotalSupply(ctx context.Context, tokenAddress string, blockNumber uint64) (string, error)

	// TransferEvents returns every Transfer event for tokenAddress in
	// [fromBlock, toBlock], ordered by (block, log index).
	TransferEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]types.TransferEvent, error)

	// MintBurnEvents classifies TransferEvents into mints and burns per
	// the chain's zero-address convention.
	MintBurnEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]types.MintBurnEvent, error)

	// TransactionFee looks up the fee paid by one transaction, retrying
	// the lookup with exponential backoff before tolerating a zero fee
	// rather than failing the whole batch, per §4.1/§4.4.
	TransactionFee(ctx context.Context, txHash string) (types.Fee, error)

	// MaxBlocksPerQuery is the largest block range this adapter's
	// configured endpoint will serve in one call to TransferEvents.
	MaxBlocksPerQuery() int
}

// ZeroAddress is the per-chain-family convention marking a mint (from) or
// burn (to) transfer. The EVM and Tron adapters compare against their entry
// here. The Solana entry is the system program address; the Solana adapter
// does not use it and classifies a transfer with an empty From as a mint
// and one with an empty To as a burn.
var ZeroAddress = map[types.ChainType]string{
	types.ChainTypeEVM:    "0x0000000000000000000000000000000000000000",
	types.ChainTypeTron:   "410000000000000000000000000000000000000000",
	types.ChainTypeSolana: "11111111111111111111111111111111",
}

// AdapterError wraps an adapter failure with the chain, operation, and
// cause, so the processor can classify it into the §7 error taxonomy.
type AdapterError struct {
	Chain types.ChainType
	Op    string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("chain adapter [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

func NewAdapterError(chain types.ChainType, op string, err error) *AdapterError {
	return &AdapterError{Chain: chain, Op: op, Err: err}
}

// callTimeout bounds every individual RPC call issued by an adapter, per
// §5's hard per-call timeout rule.
const callTimeout = 60 * time.Second

func withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

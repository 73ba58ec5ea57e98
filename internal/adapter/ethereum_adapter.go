package adapter

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/anders94/stablecoin-wars-backend/internal/circuitbreaker"
	"github.com/anders94/stablecoin-wars-backend/internal/retry"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// transferEventSig is the ERC-20 Transfer(address,address,uint256) topic
// hash, shared by every ERC-20-compatible token.
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	selectorDecimals    = "0x313ce567"
	selectorTotalSupply = "0x18160ddd"
)

// EthereumAdapter implements ChainAdapter for Ethereum and other
// EVM-compatible chains. Every RPC call is wrapped by a circuit breaker
// scoped to this adapter's endpoint, so a failing endpoint stops taking
// load instead of retrying into a wall.
type EthereumAdapter struct {
	rpcURL  string
	client  *ethclient.Client
	breaker *circuitbreaker.CircuitBreaker
	maxBlocksPerQuery int
}

// NewEthereumAdapter builds an adapter bound to one RPC endpoint. Connect
// must be called before use.
func NewEthereumAdapter(rpcURL string, maxBlocksPerQuery int) *EthereumAdapter {
	if maxBlocksPerQuery <= 0 {
		maxBlocksPerQuery = 2000
	}
	return &EthereumAdapter{
		rpcURL:            rpcURL,
		maxBlocksPerQuery: maxBlocksPerQuery,
		breaker:           circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("evm:" + rpcURL)),
	}
}

func (a *EthereumAdapter) Connect(ctx context.Context) error {
	if a.client != nil {
		return nil
	}
	client, err := ethclient.DialContext(ctx, a.rpcURL)
	if err != nil {
		return NewAdapterError(types.ChainTypeEVM, "Connect", err)
	}
	a.client = client
	return nil
}

func (a *EthereumAdapter) Disconnect() error {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	return nil
}

func (a *EthereumAdapter) IsConnected() bool {
	return a.client != nil
}

func (a *EthereumAdapter) MaxBlocksPerQuery() int {
	return a.maxBlocksPerQuery
}

// call runs fn through the circuit breaker with a hard per-call timeout.
func (a *EthereumAdapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	err := a.breaker.Execute(ctx, func() error { return fn(ctx) })
	if err != nil {
		return NewAdapterError(types.ChainTypeEVM, op, err)
	}
	return nil
}

func (a *EthereumAdapter) CurrentBlock(ctx context.Context) (uint64, error) {
	var block uint64
	err := a.call(ctx, "CurrentBlock", func(ctx context.Context) error {
		b, err := a.client.BlockNumber(ctx)
		block = b
		return err
	})
	return block, err
}

func (a *EthereumAdapter) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	var ts int64
	err := a.call(ctx, "BlockTimestamp", func(ctx context.Context) error {
		header, err := a.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		ts = int64(header.Time)
		return nil
	})
	return ts, err
}

// hasCode probes whether a contract exists at tokenAddress at the given
// block, used by CreationBlock's binary search.
func (a *EthereumAdapter) hasCode(ctx context.Context, tokenAddress string, blockNumber uint64) (bool, error) {
	var present bool
	err := a.call(ctx, "CodeAt", func(ctx context.Context) error {
		code, err := a.client.CodeAt(ctx, common.HexToAddress(tokenAddress), new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		present = len(code) > 0
		return nil
	})
	return present, err
}

// CreationBlock binary-searches [searchFrom, searchTo] for the earliest
// block at which tokenAddress has code, per §4.2. Falls back to a linear
// scan if the binary search's monotonicity assumption is violated (code
// present below the claimed boundary — possible after a chain
// reorganization the caller's search window predates).
func (a *EthereumAdapter) CreationBlock(ctx context.Context, tokenAddress string, searchFrom, searchTo uint64) (uint64, error) {
	lo, hi := searchFrom, searchTo
	for lo < hi {
		mid := lo + (hi-lo)/2
		present, err := a.hasCode(ctx, tokenAddress, mid)
		if err != nil {
			return 0, NewAdapterError(types.ChainTypeEVM, "CreationBlock", err)
		}
		if present {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	present, err := a.hasCode(ctx, tokenAddress, lo)
	if err != nil {
		return 0, NewAdapterError(types.ChainTypeEVM, "CreationBlock", err)
	}
	if present {
		return lo, nil
	}

	// Binary search found no boundary within the window; fall back to a
	// linear scan forward from searchFrom.
	for b := searchFrom; b <= searchTo; b++ {
		present, err := a.hasCode(ctx, tokenAddress, b)
		if err != nil {
			return 0, NewAdapterError(types.ChainTypeEVM, "CreationBlock", err)
		}
		if present {
			return b, nil
		}
	}
	return 0, NewAdapterError(types.ChainTypeEVM, "CreationBlock", fmt.Errorf("no code found for %s in [%d,%d]", tokenAddress, searchFrom, searchTo))
}

func (a *EthereumAdapter) callContract(ctx context.Context, tokenAddress, selector string, blockNumber *uint64) ([]byte, error) {
	var result []byte
	err := a.call(ctx, "CallContract", func(ctx context.Context) error {
		to := common.HexToAddress(tokenAddress)
		data := common.FromHex(selector)
		msg := ethereum.CallMsg{To: &to, Data: data}

		var blockArg *big.Int
		if blockNumber != nil {
			blockArg = new(big.Int).SetUint64(*blockNumber)
		}
		res, err := a.client.CallContract(ctx, msg, blockArg)
		result = res
		return err
	})
	return result, err
}

func (a *EthereumAdapter) TokenDecimals(ctx context.Context, tokenAddress string) (int, error) {
	data, err := a.callContract(ctx, tokenAddress, selectorDecimals, nil)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, NewAdapterError(types.ChainTypeEVM, "TokenDecimals", fmt.Errorf("empty response for %s", tokenAddress))
	}
	return int(new(big.Int).SetBytes(data).Uint64()), nil
}

func (a *EthereumAdapter) TotalSupply(ctx context.Context, tokenAddress string, blockNumber uint64) (string, error) {
	data, err := a.callContract(ctx, tokenAddress, selectorTotalSupply, &blockNumber)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", NewAdapterError(types.ChainTypeEVM, "TotalSupply", fmt.Errorf("empty response for %s", tokenAddress))
	}
	return new(big.Int).SetBytes(data).String(), nil
}

func (a *EthereumAdapter) TransferEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]types.TransferEvent, error) {
	var logs []ethtypes.Log
	err := a.call(ctx, "TransferEvents", func(ctx context.Context) error {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []common.Address{common.HexToAddress(tokenAddress)},
			Topics:    [][]common.Hash{{transferEventSig}},
		}
		raw, err := a.client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = raw
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]types.TransferEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		from := common.BytesToAddress(l.Topics[1].Bytes()).Hex()
		to := common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		value := new(big.Int).SetBytes(l.Data).String()

		events = append(events, types.TransferEvent{
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash.Hex(),
			From:        from,
			To:          to,
			Value:       value,
			LogIndex:    int(l.Index),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func (a *EthereumAdapter) MintBurnEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]types.MintBurnEvent, error) {
	transfers, err := a.TransferEvents(ctx, tokenAddress, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	zero := strings.ToLower(ZeroAddress[types.ChainTypeEVM])
	var out []types.MintBurnEvent
	for _, t := range transfers {
		isMint := strings.ToLower(t.From) == zero
		isBurn := strings.ToLower(t.To) == zero
		if isMint || isBurn {
			out = append(out, types.MintBurnEvent{TransferEvent: t, IsMint: isMint})
		}
	}
	return out, nil
}

// TransactionFee retries the receipt lookup with exponential backoff
// (500ms, 5 attempts, per §4.1) before tolerating a zero fee rather than
// failing the batch, per §4.4.
func (a *EthereumAdapter) TransactionFee(ctx context.Context, txHash string) (types.Fee, error) {
	var fee types.Fee
	cfg := retry.DefaultRetryConfig()
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxAttempts = 5

	res := retry.WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		return a.call(ctx, "TransactionFee", func(ctx context.Context) error {
			receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(txHash))
			if err != nil {
				return err
			}
			gasUsed := new(big.Int).SetUint64(receipt.GasUsed)
			price := receipt.EffectiveGasPrice
			if price == nil {
				price = big.NewInt(0)
			}
			native := new(big.Int).Mul(gasUsed, price)
			fee = types.Fee{FeeNative: native.String()}
			return nil
		})
	})
	if !res.Success {
		return types.Fee{FeeNative: "0"}, nil
	}
	return fee, nil
}

// ValidateAddress reports whether address is a well-formed EVM address.
func (a *EthereumAdapter) ValidateAddress(address string) bool {
	matched, _ := regexp.MatchString("^0x[a-fA-F0-9]{40}$", address)
	return matched
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anders94/stablecoin-wars-backend/internal/circuitbreaker"
	"github.com/anders94/stablecoin-wars-backend/internal/retry"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// SolanaAdapter implements ChainAdapter against the Solana JSON-RPC API.
// SPL token mints have no EVM-style contract bytecode or log topics, so
// this adapter reads slots, getTokenSupply, and getSignaturesForAddress /
// getTransaction directly rather than reusing the EVM adapter's shape.
// No Solana SDK exists anywhere in the retrieved pack, so this is the
// second deliberate stdlib-only (net/http + encoding/json) adapter.
type SolanaAdapter struct {
	rpcURL            string
	httpClient        *http.Client
	breaker           *circuitbreaker.CircuitBreaker
	maxBlocksPerQuery int
	connected         bool
}

func NewSolanaAdapter(rpcURL string, maxBlocksPerQuery int) *SolanaAdapter {
	if maxBlocksPerQuery <= 0 {
		maxBlocksPerQuery = 1000
	}
	return &SolanaAdapter{
		rpcURL:            rpcURL,
		httpClient:        &http.Client{Timeout: callTimeout},
		maxBlocksPerQuery: maxBlocksPerQuery,
		breaker:           circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("solana:" + rpcURL)),
	}
}

func (a *SolanaAdapter) Connect(ctx context.Context) error {
	a.connected = true
	return nil
}

func (a *SolanaAdapter) Disconnect() error {
	a.connected = false
	return nil
}

func (a *SolanaAdapter) IsConnected() bool { return a.connected }

func (a *SolanaAdapter) MaxBlocksPerQuery() int { return a.maxBlocksPerQuery }

func (a *SolanaAdapter) rpcCall(ctx context.Context, method string, params []interface{}, out interface{}) error {
	ctx, cancel := withCallTimeout(ctx)
	defer cancel()

	return a.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.rpcURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("solana rpc %s: status %d: %s", method, resp.StatusCode, string(respBody))
		}

		var parsed jsonRPCResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return err
		}
		if parsed.Error != nil {
			return fmt.Errorf("solana rpc %s: %d %s", method, parsed.Error.Code, parsed.Error.Message)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(parsed.Result, out)
	})
}

func (a *SolanaAdapter) CurrentBlock(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := a.rpcCall(ctx, "getSlot", []interface{}{map[string]string{"commitment": "confirmed"}}, &slot); err != nil {
		return 0, NewAdapterError(types.ChainTypeSolana, "CurrentBlock", err)
	}
	return slot, nil
}

func (a *SolanaAdapter) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	var ts *int64
	if err := a.rpcCall(ctx, "getBlockTime", []interface{}{blockNumber}, &ts); err != nil {
		return 0, NewAdapterError(types.ChainTypeSolana, "BlockTimestamp", err)
	}
	if ts == nil {
		return 0, NewAdapterError(types.ChainTypeSolana, "BlockTimestamp", fmt.Errorf("no block time for slot %d", blockNumber))
	}
	return *ts, nil
}

type solanaAccountInfo struct {
	Value *struct {
		Data []string `json:"data"`
	} `json:"value"`
}

// CreationBlock scans forward from searchFrom for the earliest slot at
// which the mint account exists. Solana's getAccountInfo has no
// presence-at-historical-slot guarantee comparable to an EVM archive
// node's eth_getCode, so this walks the range linearly rather than
// binary-searching it the way the EVM adapter does.
func (a *SolanaAdapter) CreationBlock(ctx context.Context, tokenAddress string, searchFrom, searchTo uint64) (uint64, error) {
	for s := searchFrom; s <= searchTo; s++ {
		var info solanaAccountInfo
		err := a.rpcCall(ctx, "getAccountInfo", []interface{}{
			tokenAddress,
			map[string]interface{}{"commitment": "confirmed", "minContextSlot": s, "encoding": "base64"},
		}, &info)
		if err != nil {
			return 0, NewAdapterError(types.ChainTypeSolana, "CreationBlock", err)
		}
		if info.Value != nil {
			return s, nil
		}
	}
	return 0, NewAdapterError(types.ChainTypeSolana, "CreationBlock", fmt.Errorf("no mint account found for %s in [%d,%d]", tokenAddress, searchFrom, searchTo))
}

type solanaMintSupply struct {
	Value *struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"value"`
}

func (a *SolanaAdapter) TokenDecimals(ctx context.Context, tokenAddress string) (int, error) {
	var result solanaMintSupply
	if err := a.rpcCall(ctx, "getTokenSupply", []interface{}{tokenAddress}, &result); err != nil {
		return 0, NewAdapterError(types.ChainTypeSolana, "TokenDecimals", err)
	}
	if result.Value == nil {
		return 0, NewAdapterError(types.ChainTypeSolana, "TokenDecimals", fmt.Errorf("no supply info for mint %s", tokenAddress))
	}
	return result.Value.Decimals, nil
}

func (a *SolanaAdapter) TotalSupply(ctx context.Context, tokenAddress string, blockNumber uint64) (string, error) {
	var result solanaMintSupply
	err := a.rpcCall(ctx, "getTokenSupply", []interface{}{
		tokenAddress,
		map[string]interface{}{"commitment": "confirmed", "minContextSlot": blockNumber},
	}, &result)
	if err != nil {
		return "", NewAdapterError(types.ChainTypeSolana, "TotalSupply", err)
	}
	if result.Value == nil {
		return "", NewAdapterError(types.ChainTypeSolana, "TotalSupply", fmt.Errorf("no supply info for mint %s", tokenAddress))
	}
	return result.Value.Amount, nil
}

type solanaSignature struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       interface{} `json:"err"`
}

type solanaTokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UiTokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

type solanaTransaction struct {
	Slot uint64 `json:"slot"`
	Meta *struct {
		Fee              uint64               `json:"fee"`
		PreTokenBalances  []solanaTokenBalance `json:"preTokenBalances"`
		PostTokenBalances []solanaTokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction *struct {
		Signatures []string `json:"signatures"`
	} `json:"transaction"`
}

// accountDelta is one token account's net balance change for the mint
// across a transaction, the raw input pairTransferDeltas consumes.
type accountDelta struct {
	idx    int
	owner  string
	amount *big.Int // signed: negative means the account sent, positive received
}

// pairTransferDeltas matches decreasing (sender) deltas against increasing
// (receiver) deltas of equal magnitude within the same transaction into one
// transfer event each, the wallet-to-wallet case. A delta left unpaired —
// the mint authority crediting an account with no corresponding debit, or
// a burn instruction debiting an account with no corresponding credit — is
// emitted with the missing side left blank for MintBurnEvents to classify.
func pairTransferDeltas(slot uint64, txHash string, deltas []accountDelta) []types.TransferEvent {
	var negs, poss []accountDelta
	for _, d := range deltas {
		switch d.amount.Sign() {
		case -1:
			negs = append(negs, d)
		case 1:
			poss = append(poss, d)
		}
	}

	var events []types.TransferEvent
	usedPos := make([]bool, len(poss))
	for _, n := range negs {
		abs := new(big.Int).Neg(n.amount)
		matched := -1
		for pi, p := range poss {
			if !usedPos[pi] && p.amount.Cmp(abs) == 0 {
				matched = pi
				break
			}
		}
		to := ""
		if matched >= 0 {
			usedPos[matched] = true
			to = poss[matched].owner
		}
		events = append(events, types.TransferEvent{
			BlockNumber: slot,
			TxHash:      txHash,
			From:        n.owner,
			To:          to,
			Value:       abs.String(),
			LogIndex:    n.idx,
		})
	}
	for pi, p := range poss {
		if usedPos[pi] {
			continue
		}
		events = append(events, types.TransferEvent{
			BlockNumber: slot,
			TxHash:      txHash,
			From:        "",
			To:          p.owner,
			Value:       p.amount.String(),
			LogIndex:    p.idx,
		})
	}
	return events
}

// TransferEvents walks confirmed signatures for tokenAddress and inspects
// each transaction's pre/post SPL token balances for the mint, the
// standard way to recover transfer amounts on Solana since there is no
// universal per-mint event log the way EVM chains have Transfer topics.
// A wallet-to-wallet transfer touches two token accounts in the same
// transaction — one debited, one credited by the same amount — so the
// per-account deltas are paired via pairTransferDeltas before any
// mint/burn fallback is considered.
func (a *SolanaAdapter) TransferEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]types.TransferEvent, error) {
	var sigs []solanaSignature
	err := a.rpcCall(ctx, "getSignaturesForAddress", []interface{}{
		tokenAddress,
		map[string]interface{}{"commitment": "confirmed"},
	}, &sigs)
	if err != nil {
		return nil, NewAdapterError(types.ChainTypeSolana, "TransferEvents", err)
	}

	var events []types.TransferEvent
	for _, sig := range sigs {
		if sig.Slot < fromBlock || sig.Slot > toBlock || sig.Err != nil {
			continue
		}

		var tx solanaTransaction
		err := a.rpcCall(ctx, "getTransaction", []interface{}{
			sig.Signature,
			map[string]interface{}{"commitment": "confirmed", "encoding": "json", "maxSupportedTransactionVersion": 0},
		}, &tx)
		if err != nil || tx.Meta == nil {
			continue
		}

		pre := indexBalances(tx.Meta.PreTokenBalances, tokenAddress)
		post := indexBalances(tx.Meta.PostTokenBalances, tokenAddress)

		indices := map[int]string{}
		for idx, b := range post {
			indices[idx] = b.Owner
		}
		for idx, b := range pre {
			if _, ok := indices[idx]; !ok {
				indices[idx] = b.Owner
			}
		}

		var deltas []accountDelta
		for idx, owner := range indices {
			preAmount := new(big.Int)
			if b, ok := pre[idx]; ok {
				preAmount.SetString(b.UiTokenAmount.Amount, 10)
			}
			postAmount := new(big.Int)
			if b, ok := post[idx]; ok {
				postAmount.SetString(b.UiTokenAmount.Amount, 10)
			}

			delta := new(big.Int).Sub(postAmount, preAmount)
			if delta.Sign() == 0 {
				continue
			}
			deltas = append(deltas, accountDelta{idx: idx, owner: owner, amount: delta})
		}

		events = append(events, pairTransferDeltas(tx.Slot, sig.Signature, deltas)...)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func indexBalances(balances []solanaTokenBalance, mint string) map[int]solanaTokenBalance {
	out := make(map[int]solanaTokenBalance)
	for _, b := range balances {
		if b.Mint == mint {
			out[b.AccountIndex] = b
		}
	}
	return out
}

// MintBurnEvents classifies transfers with an empty counterpart account
// (present in TransferEvents' delta reconstruction above) as mints and
// burns, the SPL equivalent of the zero-address convention.
func (a *SolanaAdapter) MintBurnEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]types.MintBurnEvent, error) {
	transfers, err := a.TransferEvents(ctx, tokenAddress, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	var out []types.MintBurnEvent
	for _, t := range transfers {
		isMint := t.From == ""
		isBurn := t.To == ""
		if isMint || isBurn {
			out = append(out, types.MintBurnEvent{TransferEvent: t, IsMint: isMint})
		}
	}
	return out, nil
}

// TransactionFee retries the transaction lookup with exponential backoff
// (500ms, 5 attempts, per §4.1) before tolerating a zero fee rather than
// failing the batch, per §4.4.
func (a *SolanaAdapter) TransactionFee(ctx context.Context, txHash string) (types.Fee, error) {
	var fee types.Fee
	cfg := retry.DefaultRetryConfig()
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxAttempts = 5

	res := retry.WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		var tx solanaTransaction
		if err := a.rpcCall(ctx, "getTransaction", []interface{}{
			txHash,
			map[string]interface{}{"commitment": "confirmed", "encoding": "json", "maxSupportedTransactionVersion": 0},
		}, &tx); err != nil {
			return err
		}
		if tx.Meta == nil {
			return fmt.Errorf("no transaction meta for %s", txHash)
		}
		fee = types.Fee{FeeNative: fmt.Sprintf("%d", tx.Meta.Fee)}
		return nil
	})
	if !res.Success {
		return types.Fee{FeeNative: "0"}, nil
	}
	return fee, nil
}

// ValidateAddress checks a base58-shaped Solana public key. No checksum
// validation, a coarse pattern-only check.
func (a *SolanaAdapter) ValidateAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for _, c := range address {
		if !strings.ContainsRune(base58Alphabet, c) {
			return false
		}
	}
	return true
}

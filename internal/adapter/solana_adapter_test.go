package adapter

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSolanaAdapter_ValidateAddress(t *testing.T) {
	a := NewSolanaAdapter("https://rpc.test.invalid", 0)

	cases := []struct {
		address string
		valid   bool
	}{
		{"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", true},
		{"too-short", false},
		{"this-address-contains-invalid-characters-!!", false},
		{"", false},
	}
	for _, c := range cases {
		if got := a.ValidateAddress(c.address); got != c.valid {
			t.Errorf("ValidateAddress(%q) = %v, want %v", c.address, got, c.valid)
		}
	}
}

func solanaJSONRPCServer(t *testing.T, result interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := json.Marshal(result)
		resp := jsonRPCResponse{Result: raw}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestSolanaAdapter_CurrentBlock(t *testing.T) {
	srv := solanaJSONRPCServer(t, 123456)
	defer srv.Close()

	a := NewSolanaAdapter(srv.URL, 0)
	slot, err := a.CurrentBlock(context.Background())
	if err != nil {
		t.Fatalf("CurrentBlock() error = %v", err)
	}
	if slot != 123456 {
		t.Errorf("expected slot 123456, got %d", slot)
	}
}

func TestSolanaAdapter_BlockTimestamp(t *testing.T) {
	ts := int64(1700000000)
	srv := solanaJSONRPCServer(t, &ts)
	defer srv.Close()

	a := NewSolanaAdapter(srv.URL, 0)
	got, err := a.BlockTimestamp(context.Background(), 1)
	if err != nil {
		t.Fatalf("BlockTimestamp() error = %v", err)
	}
	if got != ts {
		t.Errorf("expected timestamp %d, got %d", ts, got)
	}
}

func TestSolanaAdapter_ConnectDisconnect(t *testing.T) {
	a := NewSolanaAdapter("https://rpc.test.invalid", 0)
	if a.IsConnected() {
		t.Error("expected not connected before Connect")
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !a.IsConnected() {
		t.Error("expected connected after Connect")
	}
	if err := a.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if a.IsConnected() {
		t.Error("expected not connected after Disconnect")
	}
}

func TestIndexBalances_FiltersByMint(t *testing.T) {
	balances := []solanaTokenBalance{
		{AccountIndex: 0, Mint: "mintA", Owner: "ownerA"},
		{AccountIndex: 1, Mint: "mintB", Owner: "ownerB"},
		{AccountIndex: 2, Mint: "mintA", Owner: "ownerC"},
	}
	out := indexBalances(balances, "mintA")
	if len(out) != 2 {
		t.Fatalf("expected 2 balances for mintA, got %d", len(out))
	}
	if out[0].Owner != "ownerA" || out[2].Owner != "ownerC" {
		t.Errorf("unexpected filtered balances: %+v", out)
	}
}

func delta(idx int, owner string, amount int64) accountDelta {
	return accountDelta{idx: idx, owner: owner, amount: big.NewInt(amount)}
}

func TestPairTransferDeltas_WalletToWalletPairsIntoOneTransfer(t *testing.T) {
	deltas := []accountDelta{
		delta(0, "alice", -100),
		delta(1, "bob", 100),
	}
	events := pairTransferDeltas(42, "sig1", deltas)
	if len(events) != 1 {
		t.Fatalf("expected 1 paired transfer event, got %d: %+v", len(events), events)
	}
	ev := events[0]
	if ev.From != "alice" || ev.To != "bob" || ev.Value != "100" {
		t.Errorf("unexpected paired event: %+v", ev)
	}
}

func TestPairTransferDeltas_UnpairedDeltasFallBackToMintBurn(t *testing.T) {
	deltas := []accountDelta{
		delta(0, "mintedTo", 50),  // no matching debit: a MintTo
		delta(1, "burnedFrom", -30), // no matching credit: a Burn
	}
	events := pairTransferDeltas(42, "sig2", deltas)
	if len(events) != 2 {
		t.Fatalf("expected 2 unpaired events, got %d: %+v", len(events), events)
	}
	for _, ev := range events {
		switch ev.To {
		case "mintedTo":
			if ev.From != "" || ev.Value != "50" {
				t.Errorf("unexpected mint event: %+v", ev)
			}
		case "":
			if ev.From != "burnedFrom" || ev.Value != "30" {
				t.Errorf("unexpected burn event: %+v", ev)
			}
		default:
			t.Errorf("unexpected event: %+v", ev)
		}
	}
}

func TestPairTransferDeltas_MixedTransferAndMintInSameTransaction(t *testing.T) {
	deltas := []accountDelta{
		delta(0, "alice", -100),
		delta(1, "bob", 100),
		delta(2, "carol", 25), // unmatched, a mint
	}
	events := pairTransferDeltas(7, "sig3", deltas)
	if len(events) != 2 {
		t.Fatalf("expected 2 events (1 paired transfer + 1 mint), got %d: %+v", len(events), events)
	}
	var sawTransfer, sawMint bool
	for _, ev := range events {
		if ev.From == "alice" && ev.To == "bob" {
			sawTransfer = true
		}
		if ev.From == "" && ev.To == "carol" {
			sawMint = true
		}
	}
	if !sawTransfer || !sawMint {
		t.Errorf("expected both a paired transfer and a mint, got %+v", events)
	}
}

func TestPairTransferDeltas_ExactMagnitudeRequired(t *testing.T) {
	// Two sends of different sizes against one receive: only the
	// exact-magnitude match pairs; the other falls back to a burn.
	deltas := []accountDelta{
		delta(0, "alice", -100),
		delta(1, "dave", -40),
		delta(2, "bob", 100),
	}
	events := pairTransferDeltas(7, "sig4", deltas)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	var pairedAliceBob, unmatchedDave bool
	for _, ev := range events {
		if ev.From == "alice" && ev.To == "bob" && ev.Value == "100" {
			pairedAliceBob = true
		}
		if ev.From == "dave" && ev.To == "" && ev.Value == "40" {
			unmatchedDave = true
		}
	}
	if !pairedAliceBob || !unmatchedDave {
		t.Errorf("expected alice->bob paired and dave unmatched, got %+v", events)
	}
}

// solanaRouterServer dispatches by RPC method name, the shape TransferEvents
// needs: one getSignaturesForAddress call followed by one getTransaction
// call per signature.
func solanaRouterServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		result, ok := results[req.Method]
		if !ok {
			t.Fatalf("unexpected RPC method %q", req.Method)
		}
		raw, _ := json.Marshal(result)
		resp := jsonRPCResponse{Result: raw}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestSolanaAdapter_TransferEventsPairsWalletToWalletTransfer(t *testing.T) {
	const mint = "mintXYZ"
	tx := solanaTransaction{
		Slot: 10,
		Meta: &struct {
			Fee               uint64               `json:"fee"`
			PreTokenBalances  []solanaTokenBalance `json:"preTokenBalances"`
			PostTokenBalances []solanaTokenBalance `json:"postTokenBalances"`
		}{
			Fee: 5000,
			PreTokenBalances: []solanaTokenBalance{
				{AccountIndex: 0, Mint: mint, Owner: "alice", UiTokenAmount: struct {
					Amount string `json:"amount"`
				}{Amount: "100"}},
				{AccountIndex: 1, Mint: mint, Owner: "bob", UiTokenAmount: struct {
					Amount string `json:"amount"`
				}{Amount: "0"}},
			},
			PostTokenBalances: []solanaTokenBalance{
				{AccountIndex: 0, Mint: mint, Owner: "alice", UiTokenAmount: struct {
					Amount string `json:"amount"`
				}{Amount: "0"}},
				{AccountIndex: 1, Mint: mint, Owner: "bob", UiTokenAmount: struct {
					Amount string `json:"amount"`
				}{Amount: "100"}},
			},
		},
	}

	srv := solanaRouterServer(t, map[string]interface{}{
		"getSignaturesForAddress": []solanaSignature{{Signature: "sig1", Slot: 10}},
		"getTransaction":          tx,
	})
	defer srv.Close()

	a := NewSolanaAdapter(srv.URL, 0)
	transfers, err := a.TransferEvents(context.Background(), mint, 0, 100)
	if err != nil {
		t.Fatalf("TransferEvents() error = %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer event, got %d: %+v", len(transfers), transfers)
	}
	if transfers[0].From != "alice" || transfers[0].To != "bob" || transfers[0].Value != "100" {
		t.Errorf("unexpected transfer: %+v", transfers[0])
	}

	mintBurns, err := a.MintBurnEvents(context.Background(), mint, 0, 100)
	if err != nil {
		t.Fatalf("MintBurnEvents() error = %v", err)
	}
	if len(mintBurns) != 0 {
		t.Errorf("expected a paired transfer to produce no mint/burn events, got %+v", mintBurns)
	}
}

func TestSolanaAdapter_TransactionFeeRetriesBeforeZeroFallback(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		tx := solanaTransaction{Meta: &struct {
			Fee               uint64               `json:"fee"`
			PreTokenBalances  []solanaTokenBalance `json:"preTokenBalances"`
			PostTokenBalances []solanaTokenBalance `json:"postTokenBalances"`
		}{Fee: 5000}}
		raw, _ := json.Marshal(tx)
		json.NewEncoder(w).Encode(jsonRPCResponse{Result: raw})
	}))
	defer srv.Close()

	a := NewSolanaAdapter(srv.URL, 0)
	fee, err := a.TransactionFee(context.Background(), "sig1")
	if err != nil {
		t.Fatalf("TransactionFee() error = %v", err)
	}
	if fee.FeeNative != "5000" {
		t.Errorf("expected fee 5000 after retries succeeded, got %q", fee.FeeNative)
	}
	if attempts < 3 {
		t.Errorf("expected at least 3 attempts before success, got %d", attempts)
	}
}

func TestSolanaAdapter_TransactionFeeZeroAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewSolanaAdapter(srv.URL, 0)
	fee, err := a.TransactionFee(context.Background(), "sig1")
	if err != nil {
		t.Fatalf("TransactionFee() error = %v, want nil (zero-fee fallback)", err)
	}
	if fee.FeeNative != "0" {
		t.Errorf("expected zero fee after exhausting retries, got %q", fee.FeeNative)
	}
}

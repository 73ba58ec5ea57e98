package storage

import (
	"testing"
	"time"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

func TestContractRepository_GetAndListActive(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewContractRepository(db)

	c, err := repo.Get(ctx, contractID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.ID != contractID {
		t.Errorf("expected id %s, got %s", contractID, c.ID)
	}
	if !c.Active {
		t.Error("expected newly seeded contract to be active")
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	found := false
	for _, a := range active {
		if a.ID == contractID {
			found = true
		}
	}
	if !found {
		t.Error("expected seeded contract in ListActive results")
	}
}

func TestContractRepository_SetCreationInfoAndDecimals(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewContractRepository(db)

	creationTime := time.Now().UTC().Truncate(time.Second)
	if err := repo.SetCreationInfo(ctx, contractID, 12345, creationTime); err != nil {
		t.Fatalf("SetCreationInfo() error = %v", err)
	}
	if err := repo.SetDecimals(ctx, contractID, 18); err != nil {
		t.Fatalf("SetDecimals() error = %v", err)
	}

	c, err := repo.Get(ctx, contractID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.CreationBlock == nil || *c.CreationBlock != 12345 {
		t.Errorf("expected creation block 12345, got %v", c.CreationBlock)
	}
	if c.Decimals != 18 {
		t.Errorf("expected decimals 18, got %d", c.Decimals)
	}
}

func TestContractRepository_GetEndpoint(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewContractRepository(db)

	endpoint, err := repo.GetEndpoint(ctx, contractID)
	if err != nil {
		t.Fatalf("GetEndpoint() error = %v", err)
	}
	if endpoint.URL == "" {
		t.Error("expected a non-empty endpoint url")
	}
}

func TestSyncStateRepository_GetCreatesDefaultRow(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewSyncStateRepository(db)

	state, err := repo.Get(ctx, contractID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state.Status != types.StatusPending {
		t.Errorf("expected default status pending, got %s", state.Status)
	}
	if state.LastSyncedBlock != 0 {
		t.Errorf("expected default cursor 0, got %d", state.LastSyncedBlock)
	}
}

func TestSyncStateRepository_SetCursorAndStatusThenReset(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewSyncStateRepository(db)
	if _, err := repo.Get(ctx, contractID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if err := repo.SetCursor(ctx, contractID, 500); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}
	if err := repo.SetStatus(ctx, contractID, types.StatusSynced, nil); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	state, err := repo.Get(ctx, contractID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state.LastSyncedBlock != 500 {
		t.Errorf("expected cursor 500, got %d", state.LastSyncedBlock)
	}
	if state.Status != types.StatusSynced {
		t.Errorf("expected status synced, got %s", state.Status)
	}

	if err := repo.Reset(ctx, contractID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	state, err = repo.Get(ctx, contractID)
	if err != nil {
		t.Fatalf("Get() after reset error = %v", err)
	}
	if state.LastSyncedBlock != 0 || state.Status != types.StatusPending {
		t.Errorf("expected reset to pending/0, got status=%s cursor=%d", state.Status, state.LastSyncedBlock)
	}
}

func TestSyncStateRepository_ListStuckAndListNeedingCatchUp(t *testing.T) {
	db := connectTestDB(t)
	ctx := testContext(t)
	contractID := seedContract(t, db, types.ChainTypeEVM)

	repo := NewSyncStateRepository(db)
	if _, err := repo.Get(ctx, contractID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if err := repo.SetStatus(ctx, contractID, types.StatusSyncing, nil); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	stuck, err := repo.ListStuck(ctx, 0)
	if err != nil {
		t.Fatalf("ListStuck() error = %v", err)
	}
	foundStuck := false
	for _, id := range stuck {
		if id == contractID {
			foundStuck = true
		}
	}
	if !foundStuck {
		t.Error("expected contract stuck in syncing to be returned by ListStuck")
	}

	if err := repo.SetStatus(ctx, contractID, types.StatusSynced, nil); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	catchUp, err := repo.ListNeedingCatchUp(ctx)
	if err != nil {
		t.Fatalf("ListNeedingCatchUp() error = %v", err)
	}
	foundCatchUp := false
	for _, id := range catchUp {
		if id == contractID {
			foundCatchUp = true
		}
	}
	if !foundCatchUp {
		t.Error("expected synced contract to be returned by ListNeedingCatchUp")
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

func TestHandleGetStatus_InvalidContractID(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/contracts/not-a-uuid/status", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestHandleGetStatus_ReturnsSyncState(t *testing.T) {
	id := uuid.New()
	server := NewServer(
		&ServerConfig{RequestsPerSecond: 1000, Burst: 1000},
		&mockContractGetter{},
		&mockSyncStateReadResetter{
			getFunc: func(ctx context.Context, gotID uuid.UUID) (*models.SyncState, error) {
				if gotID != id {
					t.Errorf("expected id %s, got %s", id, gotID)
				}
				return &models.SyncState{ContractID: gotID, LastSyncedBlock: 42, Status: types.StatusSynced}, nil
			},
		},
		&mockMetricsReadDeleter{},
		&mockJobEnqueuer{},
	)

	req := httptest.NewRequest("GET", "/api/contracts/"+id.String()+"/status", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var state models.SyncState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.LastSyncedBlock != 42 {
		t.Errorf("expected last_synced_block 42, got %d", state.LastSyncedBlock)
	}
}

func TestHandleGetMetrics_RejectsBadRange(t *testing.T) {
	id := uuid.New()
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/contracts/"+id.String()+"/metrics?from=100&to=50", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for to before from, got %d", w.Code)
	}
}

func TestHandleGetMetrics_RejectsUnknownResolution(t *testing.T) {
	id := uuid.New()
	server := createTestServer()

	req := httptest.NewRequest("GET", "/api/contracts/"+id.String()+"/metrics?resolution=7", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unsupported resolution, got %d", w.Code)
	}
}

func TestHandleTriggerSync_EnqueuesSyncJob(t *testing.T) {
	id := uuid.New()
	var enqueuedID uuid.UUID
	server := NewServer(
		&ServerConfig{RequestsPerSecond: 1000, Burst: 1000},
		&mockContractGetter{},
		&mockSyncStateReadResetter{},
		&mockMetricsReadDeleter{},
		&mockJobEnqueuer{
			syncFunc: func(ctx context.Context, gotID uuid.UUID) error {
				enqueuedID = gotID
				return nil
			},
		},
	)

	req := httptest.NewRequest("POST", "/api/contracts/"+id.String()+"/sync", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if enqueuedID != id {
		t.Errorf("expected sync enqueued for %s, got %s", id, enqueuedID)
	}
}

func TestHandleTriggerSync_UnknownContract(t *testing.T) {
	id := uuid.New()
	server := NewServer(
		&ServerConfig{RequestsPerSecond: 1000, Burst: 1000},
		&mockContractGetter{
			getFunc: func(ctx context.Context, gotID uuid.UUID) (*models.Contract, error) {
				return nil, pgx.ErrNoRows
			},
		},
		&mockSyncStateReadResetter{},
		&mockMetricsReadDeleter{},
		&mockJobEnqueuer{},
	)

	req := httptest.NewRequest("POST", "/api/contracts/"+id.String()+"/sync", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown contract, got %d", w.Code)
	}
}

func TestHandleResetContract_WipesMetricsAndReenqueuesDiscovery(t *testing.T) {
	id := uuid.New()
	var deletedID, resetID, discoveredID uuid.UUID
	server := NewServer(
		&ServerConfig{RequestsPerSecond: 1000, Burst: 1000},
		&mockContractGetter{},
		&mockSyncStateReadResetter{
			resetFunc: func(ctx context.Context, gotID uuid.UUID) error {
				resetID = gotID
				return nil
			},
		},
		&mockMetricsReadDeleter{
			deleteFunc: func(ctx context.Context, gotID uuid.UUID) error {
				deletedID = gotID
				return nil
			},
		},
		&mockJobEnqueuer{
			discoverFunc: func(ctx context.Context, gotID uuid.UUID) error {
				discoveredID = gotID
				return nil
			},
		},
	)

	req := httptest.NewRequest("POST", "/api/contracts/"+id.String()+"/reset", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if deletedID != id || resetID != id || discoveredID != id {
		t.Errorf("expected every step to run for %s, got delete=%s reset=%s discover=%s", id, deletedID, resetID, discoveredID)
	}
}

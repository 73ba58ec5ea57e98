package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/anders94/stablecoin-wars-backend/internal/models"
	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

type mockContractGetter struct {
	getFunc func(ctx context.Context, id uuid.UUID) (*models.Contract, error)
}

func (m *mockContractGetter) Get(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &models.Contract{ID: id, ChainType: types.ChainTypeEVM, Active: true}, nil
}

type mockSyncStateReadResetter struct {
	getFunc   func(ctx context.Context, id uuid.UUID) (*models.SyncState, error)
	resetFunc func(ctx context.Context, id uuid.UUID) error
}

func (m *mockSyncStateReadResetter) Get(ctx context.Context, id uuid.UUID) (*models.SyncState, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &models.SyncState{ContractID: id, Status: types.StatusSynced}, nil
}

func (m *mockSyncStateReadResetter) Reset(ctx context.Context, id uuid.UUID) error {
	if m.resetFunc != nil {
		return m.resetFunc(ctx, id)
	}
	return nil
}

type mockMetricsReadDeleter struct {
	rangeFunc  func(ctx context.Context, id uuid.UUID, resolution types.Resolution, from, to int64) ([]*models.MetricsRow, error)
	deleteFunc func(ctx context.Context, id uuid.UUID) error
}

func (m *mockMetricsReadDeleter) Range(ctx context.Context, id uuid.UUID, resolution types.Resolution, from, to int64) ([]*models.MetricsRow, error) {
	if m.rangeFunc != nil {
		return m.rangeFunc(ctx, id, resolution, from, to)
	}
	return nil, nil
}

func (m *mockMetricsReadDeleter) DeleteByContract(ctx context.Context, id uuid.UUID) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

type mockJobEnqueuer struct {
	discoverFunc func(ctx context.Context, id uuid.UUID) error
	syncFunc     func(ctx context.Context, id uuid.UUID) error
}

func (m *mockJobEnqueuer) EnqueueDiscover(ctx context.Context, id uuid.UUID) error {
	if m.discoverFunc != nil {
		return m.discoverFunc(ctx, id)
	}
	return nil
}

func (m *mockJobEnqueuer) EnqueueSync(ctx context.Context, id uuid.UUID) error {
	if m.syncFunc != nil {
		return m.syncFunc(ctx, id)
	}
	return nil
}

func createTestServer() *Server {
	return NewServer(
		&ServerConfig{
			Host:              "localhost",
			Port:              "0",
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
		&mockContractGetter{},
		&mockSyncStateReadResetter{},
		&mockMetricsReadDeleter{},
		&mockJobEnqueuer{},
	)
}

func TestHealthCheck(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

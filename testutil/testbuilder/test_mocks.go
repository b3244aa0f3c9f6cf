package testbuilder

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
)

const (
	AXLPing = "Ping"
	AXLList = "List"
	AXLGet  = "Get"

	RepoUpsertRecords        = "UpsertRecords"
	RepoCountRecords         = "CountRecords"
	RepoListRecords          = "ListRecords"
	RepoOpenSyncHistory      = "OpenSyncHistory"
	RepoCloseSyncHistory     = "CloseSyncHistory"
	RepoGetLatestSyncHistory = "GetLatestSyncHistory"
	RepoGetOpenSyncHistory   = "GetOpenSyncHistory"
)

// ********
//
// MockAXLClient is a mock implementation of the axl.Client interface
//
// ********
type MockAXLClient struct {
	mock.Mock
}

var _ axl.Client = (*MockAXLClient)(nil)

func (m *MockAXLClient) Ping(ctx context.Context, target models.SyncTarget) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

func (m *MockAXLClient) List(ctx context.Context, req axl.ListRequest) (*axl.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*axl.Page), args.Error(1)
}

func (m *MockAXLClient) Get(ctx context.Context, target models.SyncTarget, entityType models.EntityType, id string) (models.RawRecord, error) {
	args := m.Called(ctx, target, entityType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.RawRecord), args.Error(1)
}

// ********
//
// MockEntityRecordRepository is a mock implementation of the
// repository.EntityRecordRepository interface
//
// ********
type MockEntityRecordRepository struct {
	mock.Mock
}

var _ repository.EntityRecordRepository = (*MockEntityRecordRepository)(nil)

func (m *MockEntityRecordRepository) UpsertRecords(ctx context.Context, records []models.EntityRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *MockEntityRecordRepository) CountRecords(ctx context.Context, entityType models.EntityType, scopeID string) (int, error) {
	args := m.Called(ctx, entityType, scopeID)
	return args.Int(0), args.Error(1)
}

func (m *MockEntityRecordRepository) ListRecords(ctx context.Context, entityType models.EntityType, scopeID string) ([]models.EntityRecord, error) {
	args := m.Called(ctx, entityType, scopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EntityRecord), args.Error(1)
}

// ********
//
// MockSyncHistoryRepository is a mock implementation of the
// repository.SyncHistoryRepository interface
//
// ********
type MockSyncHistoryRepository struct {
	mock.Mock
}

var _ repository.SyncHistoryRepository = (*MockSyncHistoryRepository)(nil)

func (m *MockSyncHistoryRepository) OpenSyncHistory(ctx context.Context, history *models.SyncHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockSyncHistoryRepository) CloseSyncHistory(ctx context.Context, history *models.SyncHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockSyncHistoryRepository) GetLatestSyncHistory(ctx context.Context, kind models.TargetKind, id string) (*models.SyncHistory, error) {
	args := m.Called(ctx, kind, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncHistory), args.Error(1)
}

func (m *MockSyncHistoryRepository) GetOpenSyncHistory(ctx context.Context, kind models.TargetKind, id string) (*models.SyncHistory, error) {
	args := m.Called(ctx, kind, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncHistory), args.Error(1)
}

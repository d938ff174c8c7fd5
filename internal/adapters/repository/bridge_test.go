package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-inbox/internal/core/domain"
)

type MockStateBridge struct {
	mock.Mock
}

func (m *MockStateBridge) LoadState(ctx context.Context) (*domain.Snapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*domain.Snapshot)
	return snap, args.Error(1)
}

func (m *MockStateBridge) SaveState(ctx context.Context, snap *domain.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockStateBridge) DeleteConnection(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockSnapshotCache struct {
	mock.Mock
}

func (m *MockSnapshotCache) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*domain.Snapshot)
	return snap, args.Error(1)
}

func (m *MockSnapshotCache) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockSnapshotCache) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestBridge_LoadPrefersCache(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	cache.On("LoadSnapshot", mock.Anything).Return(snap, nil)

	got, err := NewBridge(db, cache).LoadState(context.Background())

	require.NoError(t, err)
	assert.Same(t, snap, got)
	db.AssertNotCalled(t, "LoadState", mock.Anything)
}

func TestBridge_LoadMissReadsDatabaseAndWarmsCache(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	cache.On("LoadSnapshot", mock.Anything).Return(nil, nil)
	db.On("LoadState", mock.Anything).Return(snap, nil)
	cache.On("SaveSnapshot", mock.Anything, snap).Return(nil)

	got, err := NewBridge(db, cache).LoadState(context.Background())

	require.NoError(t, err)
	assert.Same(t, snap, got)
	cache.AssertExpectations(t)
}

func TestBridge_LoadCacheErrorFallsBack(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	cache.On("LoadSnapshot", mock.Anything).Return(nil, assert.AnError)
	db.On("LoadState", mock.Anything).Return(snap, nil)
	cache.On("SaveSnapshot", mock.Anything, snap).Return(assert.AnError)

	got, err := NewBridge(db, cache).LoadState(context.Background())

	require.NoError(t, err)
	assert.Same(t, snap, got)
}

func TestBridge_LoadDatabaseError(t *testing.T) {
	db := new(MockStateBridge)
	db.On("LoadState", mock.Anything).Return(nil, assert.AnError)

	_, err := NewBridge(db, nil).LoadState(context.Background())

	assert.ErrorIs(t, err, assert.AnError)
}

func TestBridge_LoadWithoutBackends(t *testing.T) {
	snap, err := NewBridge(nil, nil).LoadState(context.Background())

	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
}

func TestBridge_SaveWritesBoth(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	db.On("SaveState", mock.Anything, snap).Return(nil)
	cache.On("SaveSnapshot", mock.Anything, snap).Return(nil)

	require.NoError(t, NewBridge(db, cache).SaveState(context.Background(), snap))

	db.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestBridge_SaveDatabaseErrorLeavesCache(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	db.On("SaveState", mock.Anything, snap).Return(assert.AnError)

	err := NewBridge(db, cache).SaveState(context.Background(), snap)

	assert.ErrorIs(t, err, assert.AnError)
	cache.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything)
}

func TestBridge_SaveCacheErrorInvalidates(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	db.On("SaveState", mock.Anything, snap).Return(nil)
	cache.On("SaveSnapshot", mock.Anything, snap).Return(assert.AnError)
	cache.On("Invalidate", mock.Anything).Return(nil)

	err := NewBridge(db, cache).SaveState(context.Background(), snap)

	assert.NoError(t, err)
	cache.AssertCalled(t, "Invalidate", mock.Anything)
}

func TestBridge_SaveCacheOnlyReportsError(t *testing.T) {
	cache := new(MockSnapshotCache)
	snap := testSnapshot()
	cache.On("SaveSnapshot", mock.Anything, snap).Return(assert.AnError)
	cache.On("Invalidate", mock.Anything).Return(nil)

	err := NewBridge(nil, cache).SaveState(context.Background(), snap)

	assert.ErrorIs(t, err, assert.AnError)
}

func TestBridge_DeleteConnection(t *testing.T) {
	db := new(MockStateBridge)
	cache := new(MockSnapshotCache)
	db.On("DeleteConnection", mock.Anything, "conn-1").Return(nil)
	db.On("DeleteConnection", mock.Anything, "conn-2").Return(assert.AnError)

	b := NewBridge(db, cache)
	require.NoError(t, b.DeleteConnection(context.Background(), "conn-1"))
	assert.ErrorIs(t, b.DeleteConnection(context.Background(), "conn-2"), assert.AnError)

	// The cache is refreshed by the save that follows, never here.
	cache.AssertNotCalled(t, "Invalidate", mock.Anything)
	cache.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything)
}

func TestBridge_DeleteConnectionWithoutDatabase(t *testing.T) {
	b := NewBridge(nil, new(MockSnapshotCache))
	assert.NoError(t, b.DeleteConnection(context.Background(), "conn-1"))
}

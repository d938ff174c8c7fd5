package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/store"
)

// ============================================================================
// Mock Adapter
// ============================================================================

// MockAdapter mocks PlatformAdapter interface
type MockAdapter struct {
	mock.Mock
	platform domain.Platform
}

func newMockAdapter(platform domain.Platform) *MockAdapter {
	return &MockAdapter{platform: platform}
}

func (m *MockAdapter) Platform() domain.Platform {
	return m.platform
}

func (m *MockAdapter) ValidateCredential(ctx context.Context, credential string) (ports.CredentialCheck, error) {
	args := m.Called(ctx, credential)
	return args.Get(0).(ports.CredentialCheck), args.Error(1)
}

func (m *MockAdapter) DeriveCredential(ctx context.Context, broader, accountID string) (string, error) {
	args := m.Called(ctx, broader, accountID)
	return args.String(0), args.Error(1)
}

func (m *MockAdapter) RefreshCredential(ctx context.Context, credential string) (string, error) {
	args := m.Called(ctx, credential)
	return args.String(0), args.Error(1)
}

func (m *MockAdapter) ListThreads(ctx context.Context, credential, accountID string) ([]ports.NativeThread, error) {
	args := m.Called(ctx, credential, accountID)
	if result := args.Get(0); result != nil {
		return result.([]ports.NativeThread), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdapter) ListMessages(ctx context.Context, credential, threadID string) ([]ports.NativeMessage, error) {
	args := m.Called(ctx, credential, threadID)
	if result := args.Get(0); result != nil {
		return result.([]ports.NativeMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdapter) FetchProfile(ctx context.Context, credential, participantID string) (ports.Profile, error) {
	args := m.Called(ctx, credential, participantID)
	return args.Get(0).(ports.Profile), args.Error(1)
}

func (m *MockAdapter) Send(ctx context.Context, credential string, payload ports.OutboundPayload) (ports.SendResult, error) {
	args := m.Called(ctx, credential, payload)
	return args.Get(0).(ports.SendResult), args.Error(1)
}

func (m *MockAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *MockAdapter) ParseWebhookPayload(payload []byte) ([]ports.WebhookEvent, error) {
	args := m.Called(payload)
	if result := args.Get(0); result != nil {
		return result.([]ports.WebhookEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// ============================================================================
// Mock Repositories
// ============================================================================

// MockWebhookRepository mocks WebhookRepository interface
type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

// MockPurger mocks WebhookLogPurger interface
type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) PurgeWebhookLogs(ctx context.Context, olderThan time.Duration, limit int) (int64, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).(int64), args.Error(1)
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	registry *store.Registry
	creds    *CredentialManager
	fb       *MockAdapter
	ig       *MockAdapter
	adapters map[domain.Platform]ports.PlatformAdapter
}

// newFixture wires an in-memory store with mock adapters for both platforms
func newFixture() *fixture {
	s := store.New(nil)
	reg := store.NewRegistry(s)
	fb := newMockAdapter(domain.PlatformFacebook)
	ig := newMockAdapter(domain.PlatformInstagram)
	adapters := map[domain.Platform]ports.PlatformAdapter{
		domain.PlatformFacebook:  fb,
		domain.PlatformInstagram: ig,
	}
	return &fixture{
		store:    s,
		registry: reg,
		creds:    NewCredentialManager(reg, adapters, time.Hour),
		fb:       fb,
		ig:       ig,
		adapters: adapters,
	}
}

func (f *fixture) addConnection(platform domain.Platform, accountID, credential string) domain.Connection {
	conn, err := f.registry.Add(context.Background(), domain.Connection{
		Platform:    platform,
		AccountID:   accountID,
		DisplayName: "Acme " + accountID,
		Credential:  credential,
		Connected:   true,
	})
	if err != nil {
		panic(err)
	}
	return conn
}

var validCheck = ports.CredentialCheck{Valid: true}

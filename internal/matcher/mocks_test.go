package matcher_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"pairchat/backend/internal/models"
)

type MockBans struct {
	mock.Mock
}

func (m *MockBans) IsUserBanned(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockStore lets tests inject storage failures.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) AttemptMatch(ctx context.Context, req models.MatchRequest) (*models.MatchOutcome, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*models.MatchOutcome)
	return out, args.Error(1)
}

func (m *MockStore) CancelWaiting(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetWaitingEntry(ctx context.Context, userID string) (*models.WaitingEntry, error) {
	args := m.Called(ctx, userID)
	entry, _ := args.Get(0).(*models.WaitingEntry)
	return entry, args.Error(1)
}

func (m *MockStore) GetActiveSessionForUser(ctx context.Context, userID string) (*models.Session, error) {
	args := m.Called(ctx, userID)
	session, _ := args.Get(0).(*models.Session)
	return session, args.Error(1)
}

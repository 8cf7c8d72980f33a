package janitor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/janitor"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage/storagetest"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeleteStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestSweep_Cutoffs(t *testing.T) {
	store := new(MockStore)
	store.On("DeleteMessagesBefore", mock.Anything, t0.Add(-config.MessageRetention)).Return(int64(3), nil)
	store.On("DeleteStaleWaiting", mock.Anything, t0.Add(-config.WaitingEntryTTL)).Return(int64(0), errors.New("db down"))

	j := janitor.New(store, time.Minute)
	j.Now = func() time.Time { return t0 }

	res := j.Sweep(context.Background())
	assert.Equal(t, janitor.Result{Messages: 3}, res)
	store.AssertExpectations(t)
}

func TestSweep_RemovesExpiredRows(t *testing.T) {
	ctx := context.Background()
	clock := storagetest.NewClock(t0)
	store := storagetest.NewService(t, clock)

	session := &models.Session{User1ID: "A", User2ID: "B", Status: models.SessionActive, CreatedAt: t0}
	require.NoError(t, store.DB.Create(session).Error)
	require.NoError(t, store.AppendMessage(ctx, &models.Message{SessionID: session.ID, SenderID: "A", Content: "old"}))

	_, err := store.AttemptMatch(ctx, models.MatchRequest{UserID: "C", Interests: models.Interests{"chess"}, Language: "en", AgeGroup: "any"})
	require.NoError(t, err)

	clock.Advance(config.MessageRetention + time.Second)
	require.NoError(t, store.AppendMessage(ctx, &models.Message{SessionID: session.ID, SenderID: "B", Content: "new"}))

	j := janitor.New(store, time.Minute)
	j.Now = clock.Now

	res := j.Sweep(ctx)
	assert.Equal(t, janitor.Result{Messages: 1, Waiting: 1}, res)

	msgs, err := store.ListMessages(ctx, session.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content)
}

func TestRun_StopsWithContext(t *testing.T) {
	var sweeps atomic.Int32
	store := new(MockStore)
	store.On("DeleteMessagesBefore", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { sweeps.Add(1) }).
		Return(int64(0), nil)
	store.On("DeleteStaleWaiting", mock.Anything, mock.Anything).Return(int64(0), nil)

	j := janitor.New(store, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

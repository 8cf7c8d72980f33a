package chathub_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
)

const waitFor = time.Second

func startHub(t *testing.T, events chathub.EventSource, handler chathub.InboundHandler) *chathub.ManagerService {
	t.Helper()
	hub := chathub.NewManagerService(events, handler)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, c *mockClient) models.Event {
	t.Helper()
	select {
	case ev := <-c.Send:
		return ev
	case <-time.After(waitFor):
		t.Fatalf("no event for %s", c.UserID)
		return models.Event{}
	}
}

type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) PostMessage(ctx context.Context, sessionID, authorID, content, msgType string) (*models.Message, error) {
	args := m.Called(ctx, sessionID, authorID, content, msgType)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *mockRelay) RelaySignal(ctx context.Context, sessionID, fromID string, payload json.RawMessage) error {
	args := m.Called(ctx, sessionID, fromID, payload)
	return args.Error(0)
}

func TestManager_RegisterUnregister(t *testing.T) {
	hub := startHub(t, nil, nil)
	clientA := newMockClient("user_A")

	require.True(t, hub.Register(clientA))
	assert.Eventually(t, func() bool { return hub.IsConnected("user_A") }, waitFor, 5*time.Millisecond)

	hub.Unregister(clientA)
	assert.Eventually(t, func() bool { return !hub.IsConnected("user_A") }, waitFor, 5*time.Millisecond)
	assert.True(t, clientA.isClosed())
}

func TestManager_NewConnectionReplacesOld(t *testing.T) {
	hub := startHub(t, nil, nil)
	first := newMockClient("user_A")
	second := newMockClient("user_A")

	hub.Register(first)
	hub.Register(second)
	assert.Eventually(t, first.isClosed, waitFor, 5*time.Millisecond)

	// A late unregister of the replaced client must not drop the new one.
	hub.Unregister(first)
	hub.EventsCh <- models.Event{Type: models.EventMessage, Recipients: []string{"user_A"}}

	ev := receive(t, second)
	assert.Equal(t, models.EventMessage, ev.Type)
	assert.True(t, hub.IsConnected("user_A"))
	assert.False(t, second.isClosed())
}

func TestManager_DeliversOnlyToRecipients(t *testing.T) {
	hub := startHub(t, nil, nil)
	clientA := newMockClient("user_A")
	clientB := newMockClient("user_B")
	hub.Register(clientA)
	hub.Register(clientB)

	hub.EventsCh <- models.Event{Type: models.EventSessionEnded, SessionID: "s1", Recipients: []string{"user_B"}}

	ev := receive(t, clientB)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Empty(t, clientA.Send)
}

func TestManager_SlowConsumerDisconnected(t *testing.T) {
	hub := startHub(t, nil, nil)
	slow := newMockClient("user_A")
	slow.Send = make(chan models.Event, 1)
	hub.Register(slow)

	for i := 0; i < 3; i++ {
		hub.EventsCh <- models.Event{Type: models.EventMessage, Recipients: []string{"user_A"}}
	}

	assert.Eventually(t, func() bool { return !hub.IsConnected("user_A") }, waitFor, 5*time.Millisecond)
	assert.True(t, slow.isClosed())
}

func TestManager_IncomingFrameGoesToHandler(t *testing.T) {
	called := make(chan struct{})
	relay := new(mockRelay)
	relay.On("PostMessage", mock.Anything, "s1", "user_A", "hello", models.MessageText).
		Run(func(mock.Arguments) { close(called) }).
		Return(&models.Message{ID: 1}, nil).Once()

	hub := startHub(t, nil, chathub.RelayHandler{Relay: relay})
	hub.Submit(chathub.Incoming{UserID: "user_A", Frame: chathub.Frame{Type: chathub.FrameMessage, SessionID: "s1", Content: "hello"}})

	select {
	case <-called:
	case <-time.After(waitFor):
		t.Fatal("handler was not called")
	}
	relay.AssertExpectations(t)
}

// TestManager_FramesHandledInOrderPerUser verifies one user's frames reach the
// handler in submission order while other users are not held up.
func TestManager_FramesHandledInOrderPerUser(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	release := make(chan struct{})
	relay := new(mockRelay)
	relay.On("PostMessage", mock.Anything, "s1", "user_A", mock.Anything, models.MessageText).
		Run(func(args mock.Arguments) {
			if args.String(3) == "m0" {
				<-release
			}
			mu.Lock()
			got = append(got, args.String(3))
			mu.Unlock()
		}).
		Return(&models.Message{}, nil)
	relay.On("PostMessage", mock.Anything, "s2", "user_B", "hi", models.MessageText).
		Run(func(mock.Arguments) { close(release) }).
		Return(&models.Message{}, nil).Once()

	hub := startHub(t, nil, chathub.RelayHandler{Relay: relay})
	for i := 0; i < 5; i++ {
		hub.Submit(chathub.Incoming{UserID: "user_A", Frame: chathub.Frame{Type: chathub.FrameMessage, SessionID: "s1", Content: fmt.Sprintf("m%d", i)}})
	}
	// user_B's frame must be handled while user_A's first one is blocked.
	hub.Submit(chathub.Incoming{UserID: "user_B", Frame: chathub.Frame{Type: chathub.FrameMessage, SessionID: "s2", Content: "hi"}})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, got)
}

func TestManager_HandlerErrorReturnedToSender(t *testing.T) {
	relay := new(mockRelay)
	relay.On("RelaySignal", mock.Anything, "s1", "user_A", mock.Anything).
		Return(apperr.New(apperr.SessionClosed, "session is closed"))

	hub := startHub(t, nil, chathub.RelayHandler{Relay: relay})
	clientA := newMockClient("user_A")
	hub.Register(clientA)

	hub.Submit(chathub.Incoming{UserID: "user_A", Frame: chathub.Frame{
		Type:      chathub.FrameSignal,
		SessionID: "s1",
		Signal:    json.RawMessage(`{"kind":"hangup"}`),
	}})

	ev := receive(t, clientA)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Contains(t, ev.Error, string(apperr.SessionClosed))
}

func TestManager_UnknownFrameRejected(t *testing.T) {
	hub := startHub(t, nil, chathub.RelayHandler{Relay: new(mockRelay)})
	clientA := newMockClient("user_A")
	hub.Register(clientA)

	hub.Submit(chathub.Incoming{UserID: "user_A", Frame: chathub.Frame{Type: "bogus"}})

	ev := receive(t, clientA)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Contains(t, ev.Error, string(apperr.Validation))
}

func TestManager_RestorerCreatesMissingClient(t *testing.T) {
	hub := startHub(t, nil, nil)
	restored := newMockClient("tg:42")
	hub.SetClientRestorer(func(userID string) (chathub.Client, error) {
		if userID != "tg:42" {
			return nil, errors.New("unknown user")
		}
		return restored, nil
	})

	hub.EventsCh <- models.Event{Type: models.EventMatched, Recipients: []string{"tg:42", "other"}}

	ev := receive(t, restored)
	assert.Equal(t, models.EventMatched, ev.Type)
	assert.Equal(t, 1, restored.runCount())
	assert.True(t, hub.IsConnected("tg:42"))
	assert.False(t, hub.IsConnected("other"))
}

func TestManager_ConcurrentRestoresCreateOneClient(t *testing.T) {
	hub := startHub(t, nil, nil)
	var calls atomic.Int32
	hub.SetClientRestorer(func(userID string) (chathub.Client, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return newMockClient(userID), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.RestoreClientSession("tg:7"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, hub.IsConnected("tg:7"))
}

type fakeSessions struct {
	sessions map[string]*models.Session
}

func (f fakeSessions) GetActiveSessionIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f fakeSessions) GetSessionByID(_ context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return s, nil
}

func TestManager_RecoverActiveSessions(t *testing.T) {
	hub := chathub.NewManagerService(nil, nil)
	restored := map[string]bool{}
	hub.SetClientRestorer(func(userID string) (chathub.Client, error) {
		restored[userID] = true
		return newMockClient(userID), nil
	})

	hub.RecoverActiveSessions(context.Background(), fakeSessions{sessions: map[string]*models.Session{
		"s1": {ID: "s1", User1ID: "tg:1", User2ID: "tg:2", Status: models.SessionActive},
	}})

	assert.Equal(t, map[string]bool{"tg:1": true, "tg:2": true}, restored)
	assert.True(t, hub.IsConnected("tg:1"))
	assert.True(t, hub.IsConnected("tg:2"))
}

func TestManager_PubSubFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	bus := storage.NewRedisStore(rdb)

	hub := startHub(t, bus, nil)
	clientB := newMockClient("user_B")
	hub.Register(clientB)

	ctx := context.Background()
	// The subscription is established asynchronously; publish until it lands.
	assert.Eventually(t, func() bool {
		err := bus.PublishEvent(ctx, models.Event{
			Type:       models.EventMessage,
			SessionID:  "s1",
			Recipients: []string{"user_B"},
			Message:    &models.Message{ID: 7, Content: "hello"},
		})
		if err != nil {
			return false
		}
		select {
		case ev := <-clientB.Send:
			return ev.Message != nil && ev.Message.Content == "hello"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

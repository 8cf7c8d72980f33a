// Package chathub pushes realtime events to connected users. Events arrive
// over Redis pub/sub so every server instance delivers to the connections it
// holds, whichever instance produced the event.
package chathub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
)

// inboxSize bounds the frames one user may have waiting for the handler.
const inboxSize = 16

// ClientRestorer builds a client for a user who has no live connection on
// this instance, e.g. a Telegram chat after a restart.
type ClientRestorer func(userID string) (Client, error)

// EventSource is the shared event bus.
type EventSource interface {
	SubscribeEvents(ctx context.Context) *redis.PubSub
}

// SessionLister lists active sessions for recovery.
type SessionLister interface {
	GetActiveSessionIDs(ctx context.Context) ([]string, error)
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
}

// InboundHandler executes frames sent by realtime clients.
type InboundHandler interface {
	HandleFrame(ctx context.Context, userID string, frame Frame) error
}

type ManagerService struct {
	mu      sync.RWMutex
	Clients map[string]Client
	// restoreMu serializes RestoreClientSession so a user gets one client.
	restoreMu sync.Mutex

	// Channels
	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Incoming
	EventsCh     chan models.Event
	frameDoneCh  chan string

	// inboxes is owned by the Run goroutine.
	inboxes map[string]*inbox

	Events         EventSource
	Handler        InboundHandler
	ClientRestorer ClientRestorer

	done chan struct{}
	log  *slog.Logger
}

// NewManagerService creates a hub. events may be nil, in which case only
// events passed to EventsCh directly are delivered.
func NewManagerService(events EventSource, handler InboundHandler) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Incoming, 64),
		EventsCh:     make(chan models.Event, 256),
		frameDoneCh:  make(chan string, 64),
		inboxes:      make(map[string]*inbox),
		Events:       events,
		Handler:      handler,
		done:         make(chan struct{}),
		log:          logger.With("component", "chathub"),
	}
}

func (m *ManagerService) SetClientRestorer(restorer ClientRestorer) {
	m.ClientRestorer = restorer
}

// Run processes registrations, inbound frames and events until ctx ends.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)

	if m.Events != nil {
		m.StartPubSubListener(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return

		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case in := <-m.IncomingCh:
			m.dispatch(ctx, in)

		case userID := <-m.frameDoneCh:
			m.frameDone(userID)

		case event := <-m.EventsCh:
			m.deliver(event)
		}
	}
}

// Register hands a client to the hub; it returns false once the hub stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Submit queues an inbound frame from a client.
func (m *ManagerService) Submit(in Incoming) {
	select {
	case m.IncomingCh <- in:
	case <-m.done:
	}
}

// IsConnected reports whether userID has a registered client.
func (m *ManagerService) IsConnected(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.Clients[userID]
	return ok
}

func (m *ManagerService) register(c Client) {
	m.mu.Lock()
	old, ok := m.Clients[c.GetUserID()]
	m.Clients[c.GetUserID()] = c
	m.mu.Unlock()

	if ok && old != c {
		// One connection per user; the newest wins.
		old.Close()
	}
	m.log.Debug("client registered", "user_id", c.GetUserID())
}

func (m *ManagerService) unregister(c Client) {
	m.mu.Lock()
	current, ok := m.Clients[c.GetUserID()]
	if !ok || current != c {
		m.mu.Unlock()
		return
	}
	delete(m.Clients, c.GetUserID())
	m.mu.Unlock()

	c.Close()
	m.log.Debug("client unregistered", "user_id", c.GetUserID())
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	clients := m.Clients
	m.Clients = make(map[string]Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// inbox queues one user's frames for a single worker, so they are handled in
// the order they were read.
type inbox struct {
	frames  chan Incoming
	pending int
}

func (m *ManagerService) dispatch(ctx context.Context, in Incoming) {
	box, ok := m.inboxes[in.UserID]
	if !ok {
		box = &inbox{frames: make(chan Incoming, inboxSize)}
		m.inboxes[in.UserID] = box
		go m.drain(ctx, box.frames)
	}
	select {
	case box.frames <- in:
		box.pending++
	default:
		event := errorEvent(in.Frame.SessionID, apperr.New(apperr.RateLimited, "too many pending frames"))
		event.Recipients = []string{in.UserID}
		m.deliver(event)
	}
}

// frameDone retires the inbox once its worker has handled everything queued.
// A later frame starts a fresh worker.
func (m *ManagerService) frameDone(userID string) {
	box, ok := m.inboxes[userID]
	if !ok {
		return
	}
	box.pending--
	if box.pending == 0 {
		close(box.frames)
		delete(m.inboxes, userID)
	}
}

func (m *ManagerService) drain(ctx context.Context, frames <-chan Incoming) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-frames:
			if !ok {
				return
			}
			m.handleIncoming(ctx, in)
			select {
			case m.frameDoneCh <- in.UserID:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *ManagerService) handleIncoming(ctx context.Context, in Incoming) {
	if m.Handler == nil {
		return
	}
	err := m.Handler.HandleFrame(ctx, in.UserID, in.Frame)
	if err == nil {
		return
	}
	// Sends to client channels happen only on the Run goroutine.
	event := errorEvent(in.Frame.SessionID, err)
	event.Recipients = []string{in.UserID}
	select {
	case m.EventsCh <- event:
	case <-ctx.Done():
	}
}

// deliver routes an event to each recipient connected to this instance.
func (m *ManagerService) deliver(event models.Event) {
	for _, userID := range event.Recipients {
		m.deliverLocal(userID, event)
	}
}

func (m *ManagerService) deliverLocal(userID string, event models.Event) {
	m.mu.RLock()
	client, ok := m.Clients[userID]
	m.mu.RUnlock()

	if !ok {
		if err := m.RestoreClientSession(userID); err != nil {
			m.log.Warn("failed to restore client", "user_id", userID, "err", err)
			return
		}
		m.mu.RLock()
		client, ok = m.Clients[userID]
		m.mu.RUnlock()
		if !ok {
			return
		}
	}

	select {
	case client.GetSendChannel() <- event:
	default:
		// Slow consumer; drop the connection rather than stall the hub.
		m.log.Warn("client send buffer full, disconnecting", "user_id", userID)
		m.unregister(client)
	}
}

// RestoreClientSession creates a client through the restorer when the user
// has none. Without a restorer it does nothing. Safe for concurrent use.
func (m *ManagerService) RestoreClientSession(userID string) error {
	if m.ClientRestorer == nil {
		return nil
	}
	m.restoreMu.Lock()
	defer m.restoreMu.Unlock()

	if m.IsConnected(userID) {
		return nil
	}

	client, err := m.ClientRestorer(userID)
	if err != nil {
		return err
	}
	if client == nil {
		return nil
	}

	m.mu.Lock()
	if _, taken := m.Clients[userID]; taken {
		// A connection registered while the restorer ran.
		m.mu.Unlock()
		client.Close()
		return nil
	}
	m.Clients[userID] = client
	m.mu.Unlock()
	client.Run()
	m.log.Info("restored client session", "user_id", userID)
	return nil
}

// RecoverActiveSessions restores clients for participants of every active
// session, so pushes reach them before they send anything.
func (m *ManagerService) RecoverActiveSessions(ctx context.Context, sessions SessionLister) {
	ids, err := sessions.GetActiveSessionIDs(ctx)
	if err != nil {
		m.log.Error("failed to list active sessions", "err", err)
		return
	}

	for _, id := range ids {
		session, err := sessions.GetSessionByID(ctx, id)
		if err != nil {
			m.log.Warn("active session vanished during recovery", "session_id", id, "err", err)
			continue
		}
		for _, userID := range session.Participants() {
			if err := m.RestoreClientSession(userID); err != nil {
				m.log.Warn("failed to restore client", "user_id", userID, "err", err)
			}
		}
	}
	m.log.Info("recovery complete", "active_sessions", len(ids))
}

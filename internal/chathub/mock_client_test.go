package chathub_test

import (
	"sync"

	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/models"
)

type mockClient struct {
	UserID string
	Send   chan models.Event

	mu     sync.Mutex
	runs   int
	closed bool
}

var _ chathub.Client = (*mockClient)(nil)

func newMockClient(userID string) *mockClient {
	return &mockClient{UserID: userID, Send: make(chan models.Event, 8)}
}

func (c *mockClient) GetUserID() string                   { return c.UserID }
func (c *mockClient) GetSendChannel() chan<- models.Event { return c.Send }

func (c *mockClient) Run() {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
}

func (c *mockClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *mockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockClient) runCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

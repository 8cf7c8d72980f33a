package chathub

import (
	"encoding/json"

	"pairchat/backend/internal/models"
)

// Client is the interface for any type of connection (e.g., WebSocket, Telegram).
// It abstracts the underlying communication mechanism, allowing the hub to manage
// different client types uniformly.
type Client interface {
	// GetUserID returns the identifier of the user the connection belongs to.
	GetUserID() string

	// GetSendChannel returns the channel the hub pushes events for this user into.
	GetSendChannel() chan<- models.Event

	// Run starts the client's pumps.
	Run()
	// Close releases the connection. The hub calls it exactly once, when the
	// client leaves the registry.
	Close()
}

// Frame types a connected client may send.
const (
	FrameMessage = "message"
	FrameSignal  = "signal"
)

// Frame is one inbound request from a realtime client.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Content   string `json:"content,omitempty"`
	// Signal is the signaling payload of a FrameSignal.
	Signal json.RawMessage `json:"signal,omitempty"`
}

// Incoming pairs a frame with the user who sent it.
type Incoming struct {
	UserID string
	Frame  Frame
}

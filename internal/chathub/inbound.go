package chathub

import (
	"context"
	"encoding/json"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/models"
)

// MessageRelay is the part of the relay that realtime frames drive.
type MessageRelay interface {
	PostMessage(ctx context.Context, sessionID, authorID, content, msgType string) (*models.Message, error)
	RelaySignal(ctx context.Context, sessionID, fromID string, payload json.RawMessage) error
}

// RelayHandler executes frames through the message relay. Results reach the
// sender through the events the relay publishes.
type RelayHandler struct {
	Relay MessageRelay
}

func (h RelayHandler) HandleFrame(ctx context.Context, userID string, frame Frame) error {
	switch frame.Type {
	case FrameMessage:
		_, err := h.Relay.PostMessage(ctx, frame.SessionID, userID, frame.Content, models.MessageText)
		return err
	case FrameSignal:
		return h.Relay.RelaySignal(ctx, frame.SessionID, userID, frame.Signal)
	default:
		return apperr.New(apperr.Validation, "unknown frame type")
	}
}

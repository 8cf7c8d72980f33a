package chathub

import (
	"context"
	"encoding/json"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/models"
)

// StartPubSubListener forwards events from the shared bus into EventsCh
// until ctx ends.
func (m *ManagerService) StartPubSubListener(ctx context.Context) {
	pubsub := m.Events.SubscribeEvents(ctx)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					m.log.Warn("dropping malformed event", "err", err)
					continue
				}
				select {
				case m.EventsCh <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func errorEvent(sessionID string, err error) models.Event {
	return models.Event{
		Type:      models.EventError,
		SessionID: sessionID,
		Error:     string(apperr.KindOf(err)) + ": " + apperr.Message(err),
	}
}

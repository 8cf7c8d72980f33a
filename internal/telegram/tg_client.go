package telegram

import (
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/localization"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
)

// Client implements chathub.Client for a Telegram chat. It has no read side;
// updates are received centrally by BotService.
type Client struct {
	UserID    string
	ChatID    int64
	Send      chan models.Event
	Bot       Sender
	Localizer *localization.Localizer
	// Language resolves the chat's interface language at send time.
	Language func(userID string) string
	// OnEvent, if set, sees every event before it is rendered.
	OnEvent func(chatID int64, event models.Event)

	closeOnce sync.Once
}

func (c *Client) GetUserID() string                   { return c.UserID }
func (c *Client) GetSendChannel() chan<- models.Event { return c.Send }

func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// writePump turns hub events into Telegram messages.
func (c *Client) writePump() {
	for event := range c.Send {
		if c.OnEvent != nil {
			c.OnEvent(c.ChatID, event)
		}

		lang := localization.DefaultLanguage
		if c.Language != nil {
			lang = c.Language(c.UserID)
		}
		text, ok := renderEvent(c.Localizer, lang, c.UserID, event)
		if !ok {
			continue
		}
		if _, err := c.Bot.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
			logger.Warn("failed to deliver event to telegram", "component", "telegram", "chat_id", c.ChatID, "type", event.Type, "err", err)
		}
	}
}

// renderEvent returns the text shown for event, or false when the chat should
// not see it.
func renderEvent(loc *localization.Localizer, lang, userID string, event models.Event) (string, bool) {
	switch event.Type {
	case models.EventMatched:
		var interests []string
		if event.Partner != nil {
			interests = event.Partner.Interests
		}
		return loc.Format(lang, "match_found", strings.Join(interests, ", ")), true

	case models.EventMessage:
		msg := event.Message
		if msg == nil || msg.SenderID == userID {
			return "", false
		}
		if msg.Type == models.MessageText {
			return msg.Content, true
		}
		return loc.Format(lang, "attachment_received", msg.Type, msg.Content), true

	case models.EventSessionEnded:
		if event.SenderID == userID {
			return loc.GetString(lang, "you_left"), true
		}
		return loc.GetString(lang, "partner_left"), true

	case models.EventError:
		return loc.GetString(lang, errorKey(event.Error)), true
	}
	// Signaling needs a WebRTC client.
	return "", false
}

// errorKey picks the message for an error event, whose text starts with the
// error kind.
func errorKey(text string) string {
	kind, _, _ := strings.Cut(text, ":")
	return errorKeyForKind(apperr.Kind(kind))
}

func errorKeyForKind(kind apperr.Kind) string {
	switch kind {
	case apperr.Blocked:
		return "message_blocked"
	case apperr.TooLong:
		return "message_too_long"
	case apperr.SessionClosed, apperr.NotFound, apperr.Forbidden:
		return "not_in_chat"
	}
	return "error_generic"
}

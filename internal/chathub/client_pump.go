package chathub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"pairchat/backend/internal/models"
)

// readPump decodes frames from the socket and submits them to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("websocket read failed", "user_id", c.UserID, "err", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.Hub.log.Debug("invalid frame", "user_id", c.UserID, "err", err)
			c.Hub.Submit(Incoming{UserID: c.UserID, Frame: Frame{Type: "invalid"}})
			continue
		}
		c.Hub.Submit(Incoming{UserID: c.UserID, Frame: frame})
	}
}

// writePump writes events from Send to the socket, one JSON message per
// event, and keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeEvent(event); err != nil {
				return
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.writeEvent(<-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) writeEvent(event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		c.Hub.log.Error("failed to encode event", "user_id", c.UserID, "err", err)
		return nil
	}
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// pingPeriod must be shorter than pongWait so the ping lands before
	// the read deadline does.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send control frames; anything longer is a
	// misbehaving client.
	maxMessageSize = 512
)

// streamMessage is the wire envelope pushed to subscribers.
type streamMessage struct {
	Type  string       `json:"type"`
	Entry *audit.Entry `json:"entry,omitempty"`
}

const (
	messageTypeEntry = "audit.entry"
)

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan *audit.Entry
	principal access.Principal
	attached  time.Time
}

// writePump pushes entries and pings until the send channel closes or
// a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case entry, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(streamMessage{Type: messageTypeEntry, Entry: entry}); err != nil {
				c.hub.logger.Debug("write failed, detaching subscriber",
					zap.String("actor_id", c.principal.ID), zap.Error(err))
				c.hub.detach(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.detach(c)
				return
			}
		}
	}
}

// readPump drains and discards client frames so pongs and close frames
// are processed. The feed is one way.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

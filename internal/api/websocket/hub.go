// Package websocket carries the live audit entry feed. The hub is a
// fan-out sink on top of the append path: the log is the system of
// record, and a slow or absent subscriber never costs an append.
package websocket

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
)

const (
	// broadcastBuffer absorbs append bursts before entries are dropped
	// from the live feed.
	broadcastBuffer = 1024

	// sendBuffer is per client. A subscriber that falls this far behind
	// starts losing entries rather than slowing the hub.
	sendBuffer = 64
)

// Hub tracks subscribers and feeds them appended audit entries. It
// satisfies the streamer interface, so the audit service can treat the
// live feed like any other downstream sink.
type Hub struct {
	logger *zap.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan *audit.Entry
	done       chan struct{}

	clients map[*client]struct{}
	count   atomic.Int64
	dropped atomic.Int64

	upgrader websocket.Upgrader
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.With(zap.String("component", "audit_stream")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *audit.Entry, broadcastBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Run owns the client set until the context ends, then closes every
// connection. Launch it before the server accepts traffic.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.logger.Info("subscriber attached",
				zap.String("actor_id", c.principal.ID),
				zap.String("role", string(c.principal.Role)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(int64(len(h.clients)))

		case entry := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- entry:
				default:
					// The feed drops for this subscriber; the log does
					// not.
					h.dropped.Add(1)
				}
			}

		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(0)
			return
		}
	}
}

// detach hands the client back to Run, or drops it on the floor when
// the hub has already stopped.
func (h *Hub) detach(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// StreamEntry offers the entry to the feed without ever blocking the
// append path.
func (h *Hub) StreamEntry(ctx context.Context, entry *audit.Entry) error {
	select {
	case h.broadcast <- entry:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Serve upgrades the request and attaches the caller to the feed. The
// caller is already authenticated and authorized; the hub only manages
// the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, principal access.Principal) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own error response.
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan *audit.Entry, sendBuffer),
		principal: principal,
		attached:  time.Now().UTC(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount reports how many subscribers are attached.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Dropped reports how many entries have been dropped from the feed
// since startup.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var _ events.AuditStreamer = (*Hub)(nil)

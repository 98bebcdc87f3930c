package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"attendance-guard/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Upgrader accepts any origin; dashboard streams authenticate with a viewer token.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Producer feeds a stream. It calls push with each new frame and returns when
// ctx is done or it can no longer produce.
type Producer func(ctx context.Context, push func([]byte)) error

// Hub tracks open dashboard streams so they can be closed on shutdown.
type Hub struct {
	register   chan *client
	unregister chan *client
	clients    map[*client]struct{}
	done       chan struct{}
}

// NewHub creates a hub; call Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run tracks clients until ctx is done, then closes every open stream.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.DashboardStreams.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				metrics.DashboardStreams.Dec()
			}
		case <-ctx.Done():
			for c := range h.clients {
				c.cancel()
				c.conn.Close()
				metrics.DashboardStreams.Dec()
			}
			h.clients = map[*client]struct{}{}
			return
		}
	}
}

// Serve streams frames from produce to conn until either side stops. It
// blocks for the lifetime of the connection.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, produce Producer) {
	ctx, cancel := context.WithCancel(ctx)
	c := &client{conn: conn, send: make(chan []byte, 1), cancel: cancel}

	select {
	case h.register <- c:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}
	defer func() {
		cancel()
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	go c.writePump(ctx)
	go func() {
		if err := produce(ctx, c.push); err != nil {
			log.Printf("ws: stream producer stopped: %v", err)
		}
		cancel()
		conn.Close()
	}()
	c.readPump()
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// push queues frame, replacing an unsent older frame.
func (c *client) push(frame []byte) {
	select {
	case c.send <- frame:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

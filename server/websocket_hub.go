package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one websocket connection, optionally filtered to a single run
type wsClient struct {
	hub   *Hub
	conn  *websocket.Conn
	runID string
	send  chan []byte
}

type hubMessage struct {
	runID string
	data  []byte
}

// Hub fans run messages out to websocket clients
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan hubMessage
	done       chan struct{}
	once       sync.Once
}

// NewHub creates a hub, call Run to start it
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan hubMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer h.once.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case m := <-h.broadcast:
			for c := range h.clients {
				if c.runID != "" && c.runID != m.runID {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					// slow consumer
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// BroadcastMessage queues raw JSON for every client. It never blocks the caller.
func (h *Hub) BroadcastMessage(data []byte) {
	h.BroadcastRun("", data)
}

// BroadcastRun queues raw JSON for clients following runID and unfiltered clients
func (h *Hub) BroadcastRun(runID string, data []byte) {
	select {
	case h.broadcast <- hubMessage{runID: runID, data: data}:
	case <-h.done:
	default:
		AppLogger.WarnWithFields("websocket broadcast dropped", map[string]interface{}{
			"runId": runID,
		})
	}
}

// Publish sends a run message to websocket clients
func (h *Hub) Publish(m *Message) {
	data, err := m.ToJSON()
	if err != nil {
		AppLogger.Error("failed to encode websocket message: %v", err)
		return
	}
	h.BroadcastRun(m.RunID, data)
}

// ServeWS upgrades the request and follows ?runId= when given
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		AppLogger.Warn("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:   h,
		conn:  conn,
		runID: c.Query("runId"),
		send:  make(chan []byte, clientSendSize),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards client input and detects closed connections
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				AppLogger.Warn("websocket closed unexpectedly: %v", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

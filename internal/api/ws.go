package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradepilot/internal/events"
	"tradepilot/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected websocket consumer.
type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan events.Event
}

// wsHub fans engine events out to websocket clients. Each client only
// receives events for its own user, plus system-wide events that carry no
// user.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
	log     *logging.Logger
}

func newWSHub(bus *events.EventBus) *wsHub {
	hub := &wsHub{
		clients: make(map[*wsClient]bool),
		log:     logging.WithComponent("ws"),
	}
	bus.SubscribeAll(hub.broadcast)
	return hub
}

func (h *wsHub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	for client := range h.clients {
		if ev.UserID != "" && ev.UserID != client.userID {
			continue
		}
		select {
		case client.send <- ev:
		default:
			// Slow consumer; drop the connection rather than the engine.
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *wsHub) register(client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	return true
}

func (h *wsHub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *wsHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		userID: s.userID(c),
		conn:   conn,
		send:   make(chan events.Event, 64),
	}
	if !s.hub.register(client) {
		conn.Close()
		return
	}

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pings/pongs work and disconnects are
// noticed.
func (s *Server) readPump(client *wsClient) {
	defer s.hub.unregister(client)
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local wallet frontends
	},
}

const (
	// clientQueueSize bounds each subscriber's pending event queue. A
	// balance scan can emit a burst of utxo_discovered events per page;
	// a subscriber that cannot drain this many is evicted rather than
	// allowed to stall the scan stream for everyone else.
	clientQueueSize = 64

	writeWait = 5 * time.Second
)

// wsClient is one subscriber with its own buffered send queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans wallet events (UTXO discoveries, scan progress, broadcast
// confirmations) out to subscribed clients. All client-set mutation goes
// through the register/unregister channels, so Run is the only goroutine
// touching the map.
type Hub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
	}
}

// Run owns the client set. Events are handed to each client's queue
// without blocking; a full queue marks the client too slow and it is
// dropped on the spot.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			log.Printf("[WsHub] Client connected. Total clients: %d", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("[WsHub] Client disconnected. Total clients: %d", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					log.Printf("[WsHub] Dropped slow client. Total clients: %d", len(h.clients))
				}
			}
		}
	}
}

// Broadcast queues data for delivery to every subscriber.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// Subscribe upgrades the request and attaches the client to the hub.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WsHub] Failed to upgrade websocket: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, clientQueueSize)}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump drains the client's queue onto the wire. It exits when the
// hub closes the queue, taking the connection down with it.
func (c *wsClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("[WsHub] Write error: %v", err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump discards inbound frames — the stream is push-only — but a read
// error is how client disconnects surface.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WsHub] Read error: %v", err)
			}
			return
		}
	}
}

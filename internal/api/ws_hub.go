// Package api — WebSocket hub for real-time probability broadcasting.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicholasRutherford/play-money/internal/metrics"
)

// pingInterval is how often idle connections are pinged. Shortened in tests.
var pingInterval = 30 * time.Second

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type          string            `json:"type"`
	MarketID      string            `json:"market_id"`
	OptionID      string            `json:"option_id,omitempty"`
	Side          string            `json:"side,omitempty"`
	Amount        string            `json:"amount,omitempty"`
	Probabilities map[string]string `json:"probabilities,omitempty"` // optionID → probability
}

// wsClient serializes writes to one connection. gorilla/websocket forbids
// concurrent writers, and both the hub's broadcast loop and the per-client
// ping goroutine write to the same connection.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// WSHub manages WebSocket connections and broadcasts messages to all
// connected clients when market probabilities change.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			var dead []*wsClient
			for client := range h.clients {
				if err := client.write(websocket.TextMessage, msg); err != nil {
					dead = append(dead, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range dead {
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.conn.Close()
					metrics.WebSocketClients.Dec()
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}

	h.register <- client

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- client }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[client]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := client.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}

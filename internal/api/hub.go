package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"race-sync-service/internal/logger"
	"race-sync-service/internal/sync"
)

const (
	// MessageTypeConnected is sent once to every new client.
	MessageTypeConnected = "connected"

	writeTimeout = 5 * time.Second
)

// Message is the envelope written to dashboard clients.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hub fans sync events out to connected WebSocket clients.
type Hub struct {
	originPatterns []string

	clients   map[*websocket.Conn]bool
	clientsMu stdsync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewHub accepts WebSocket connections from the given CORS origins.
func NewHub(origins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		originPatterns: originPatterns(origins),
		clients:        make(map[*websocket.Conn]bool),
		broadcast:      make(chan Message, 100),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// originPatterns reduces origins like "https://dash.example.com" to the host
// patterns the websocket library matches against.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Notify queues e for broadcast. It drops the event when the queue is full.
func (h *Hub) Notify(e sync.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Log.Warn("Failed to marshal event", zap.Error(err))
		return
	}
	msg := Message{Type: string(e.Type), Timestamp: e.Time, Data: data}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		logger.Log.Warn("Broadcast channel full, dropping message", zap.String("type", msg.Type))
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Log.Warn("Failed to marshal message", zap.Error(err))
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					logger.Log.Info("Failed to send to client", zap.Error(err))
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	logger.Log.Info("Dashboard client connected", zap.Int("clients", count))

	welcome, _ := json.Marshal(Message{Type: MessageTypeConnected, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	go h.readLoop(conn)
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	logger.Log.Info("Dashboard client disconnected", zap.Int("clients", count))
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"memorial-server/shared/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время на запись одного сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания следующего pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов, должен быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не шлёт, кроме control frames.
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client is one WebSocket connection of a visitor.
type Client struct {
	Recipient string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub keeps one connection per recipient namespace and pushes notifications to it.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
}

// NewHub creates the hub and starts its registration loop.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("WebSocketHub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for key, c := range h.clients {
				close(c.send)
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			// новое соединение вытесняет старое
			if old, ok := h.clients[c.Recipient]; ok {
				h.logger.Info("Replacing existing connection", zap.String("recipient", c.Recipient))
				close(old.send)
			}
			h.clients[c.Recipient] = c
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[c.Recipient]; ok && current == c {
				delete(h.clients, c.Recipient)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

// Stop closes every connection and ends the loop.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Connected reports whether recipient has a live connection.
func (h *Hub) Connected(recipient string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[recipient]
	return ok
}

// Notify sends note to its recipient if connected. Never blocks.
func (h *Hub) Notify(_ context.Context, note models.Notification) {
	body, err := json.Marshal(note)
	if err != nil {
		h.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}
	h.SendTo(note.Recipient, body)
}

// SendTo queues message for recipient. False when offline or its queue is full.
func (h *Hub) SendTo(recipient string, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[recipient]
	if !ok {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		h.logger.Warn("Send queue full, dropping notification", zap.String("recipient", recipient))
		return false
	}
}

// Serve registers conn for recipient and pumps until the connection closes.
func (h *Hub) Serve(ctx context.Context, recipient string, conn *websocket.Conn) {
	c := &Client{Recipient: recipient, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-ctx.Done():
		_ = conn.Close()
		return
	}
	log := h.logger.With(zap.String("recipient", recipient))
	log.Info("WebSocket connection established")
	go h.writePump(c, log)
	h.readPump(c, log)
}

func (h *Hub) readPump(c *Client, log *zap.Logger) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
		log.Info("WebSocket connection closed")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *Client, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("Failed to write notification", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

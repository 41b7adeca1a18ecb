// Package feed streams integrity events to connected reviewers over websocket.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/screening-bot/internal/domain"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Message is the frame sent to feed clients.
type Message struct {
	Type   string        `json:"type"`
	Change domain.Change `json:"change"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Hub tracks connected reviewers and broadcasts changes to them.
type Hub struct {
	mu             sync.Mutex
	clients        map[*client]struct{}
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHub creates a hub accepting the given origins. "*" accepts any origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:        make(map[*client]struct{}),
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Name implements projection.Sink.
func (h *Hub) Name() string { return "feed" }

// Apply implements projection.Sink by broadcasting every change.
// Clients that cannot keep up are disconnected.
func (h *Hub) Apply(_ context.Context, batch []domain.Change) error {
	for _, change := range batch {
		data, err := json.Marshal(Message{Type: "change", Change: change})
		if err != nil {
			return fmt.Errorf("marshal feed message: %w", err)
		}
		h.broadcast(data)
	}
	return nil
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("feed client too slow, disconnecting", "remote", c.remote)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept feed websocket", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer), remote: r.RemoteAddr}
	h.register(c)
	defer h.unregister(c)
	h.logger.Info("feed client connected", "remote", c.remote)

	// Clients only listen; CloseRead handles control frames and reports disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("feed client disconnected", "remote", c.remote)
			return
		case data, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("failed to write feed message", "remote", c.remote, "error", err)
				return
			}
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if err := c.conn.Close(websocket.StatusNormalClosure, "feed closed"); err != nil {
		h.logger.Debug("failed to close feed websocket", "remote", c.remote, "error", err)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("feed origin rejected", "origin", origin)
	return false
}

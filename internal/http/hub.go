package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"conti/internal/events"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from arbitrary origins; the bearer token is
	// the actual access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn   *websocket.Conn
	userID string
}

// Hub fans ledger events out to connected websocket clients. Events are
// delivered only to connections belonging to the event's user.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan *events.LedgerEvent
	register   chan *wsClient
	unregister chan *wsClient

	mu       sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan *events.LedgerEvent, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the hub loop. Safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	defer close(h.doneCh)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			slog.Info("Websocket client connected",
				"user_id", client.userID,
				"total_clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			slog.Info("Websocket client disconnected",
				"user_id", client.userID,
				"remaining_clients", len(h.clients))

		case event := <-h.broadcast:
			payload, err := event.ToJSON()
			if err != nil {
				slog.Error("Failed to marshal ledger event", "error", err)
				continue
			}
			for client := range h.clients {
				if client.userID != event.UserID {
					continue
				}
				if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					slog.Error("Failed to send to websocket client",
						"user_id", client.userID,
						"error", err)
					client.conn.Close()
					delete(h.clients, client)
				}
			}

		case <-h.stopCh:
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			return
		}
	}
}

// Stop closes every connection and ends the hub loop.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.stopOnce.Do(func() {
		close(h.stopCh)
		<-h.doneCh
	})
}

// NotifyEntityChanged queues a change notification for the user's
// connections. Drops the event when the hub is saturated; clients
// resync periodically anyway.
func (h *Hub) NotifyEntityChanged(userID, entityType, entityID string) {
	event := events.NewLedgerEvent(events.KindEntityChanged, userID, entityType, entityID)
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("Websocket broadcast queue full, dropping event",
			"user_id", userID,
			"entity_type", entityType)
	}
}

// PublishLedgerEvent lets the hub stand in as the ledger's publisher when
// no message broker is configured.
func (h *Hub) PublishLedgerEvent(_ context.Context, event *events.LedgerEvent) error {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("Websocket broadcast queue full, dropping event",
			"user_id", event.UserID,
			"kind", event.Kind)
	}
	return nil
}

// Forward pushes an externally consumed event into the hub. Used to bridge
// broker deliveries onto websocket connections.
func (h *Hub) Forward(event *events.LedgerEvent) error {
	return h.PublishLedgerEvent(context.Background(), event)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing auth token", http.StatusUnauthorized)
		return
	}
	userID, err := s.auth.Verify(tokenStr)
	if err != nil {
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, userID: userID}
	h := s.hub
	h.register <- client

	// Reader loop exists only to detect disconnects; clients never send.
	go func() {
		defer func() { h.unregister <- client }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

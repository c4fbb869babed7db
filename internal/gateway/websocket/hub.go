// Package websocket streams hub activity events to connected observers.
// Clients connect at /ws and receive every event published on the bus;
// subscribing to specific task IDs narrows the stream to those tasks.
package websocket

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/common/logger"
	"github.com/caephub/caephub/internal/events/bus"
)

// Hub manages all WebSocket client connections and fans bus events out.
type Hub struct {
	clients map[*Client]bool

	// Clients narrowed to specific task IDs
	taskSubscribers map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	events     chan *bus.Event

	sub bus.Subscription

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:         make(map[*Client]bool),
		taskSubscribers: make(map[int64]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		events:          make(chan *bus.Event, 256),
		logger:          log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Start subscribes the hub to the event bus and runs the fan-out loop until
// ctx is cancelled.
func (h *Hub) Start(ctx context.Context, eventBus bus.EventBus) error {
	sub, err := eventBus.Subscribe(">", func(ctx context.Context, event *bus.Event) error {
		select {
		case h.events <- event:
		default:
			// The fan-out loop is behind; the stream is observational, drop.
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.sub = sub

	go h.run(ctx)
	return nil
}

func (h *Hub) run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			if h.sub != nil {
				_ = h.sub.Unsubscribe()
			}
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

// closeAllClients closes all client connections.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.taskSubscribers = make(map[int64]map[*Client]bool)
}

// removeClient removes a client from the hub and its task subscriptions.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for taskID := range client.subscriptions {
			if clients, ok := h.taskSubscribers[taskID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.taskSubscribers, taskID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// dispatch sends an event to every client whose filter admits it. Clients
// without task filters receive the full stream.
func (h *Hub) dispatch(event *bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	taskID, hasTask := eventTaskID(event)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if len(client.subscriptions) > 0 {
			if !hasTask || !client.subscriptions[taskID] {
				continue
			}
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by the write pump
		}
	}
}

// eventTaskID extracts the task ID an event refers to, if any.
func eventTaskID(event *bus.Event) (int64, bool) {
	raw, ok := event.Data["task_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SubscribeToTask narrows a client's stream to the given task.
func (h *Hub) SubscribeToTask(client *Client, taskID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.taskSubscribers[taskID]; !ok {
		h.taskSubscribers[taskID] = make(map[*Client]bool)
	}
	h.taskSubscribers[taskID][client] = true
	client.subscriptions[taskID] = true

	h.logger.Debug("Client subscribed to task",
		zap.String("client_id", client.ID),
		zap.Int64("task_id", taskID))
}

// UnsubscribeFromTask removes a task from a client's filter.
func (h *Hub) UnsubscribeFromTask(client *Client, taskID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, taskID)
	if clients, ok := h.taskSubscribers[taskID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.taskSubscribers, taskID)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

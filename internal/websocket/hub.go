package websocket

import (
	"encoding/json"
	"strings"
	"sync"

	"lumina-be/internal/pkg/logger"
)

// Category separates discussion groups from supervisor dashboards. A broadcast to one
// category never reaches the other.
type Category string

const (
	CategoryGroup      Category = "group"
	CategorySupervisor Category = "supervisor"
)

// ParseCategory maps the ?channel= query value to a category. Anything unknown is a group.
func ParseCategory(channel string) Category {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "supervisor", "teacher":
		return CategorySupervisor
	default:
		return CategoryGroup
	}
}

type Hub struct {
	// Live clients per category
	clients map[Category]map[*Client]struct{}

	// Lock for safe map access
	mu sync.RWMutex

	// Dedicated Logger
	logger logger.ILogger
}

func NewHub(log logger.ILogger) *Hub {
	return &Hub{
		clients: map[Category]map[*Client]struct{}{
			CategoryGroup:      {},
			CategorySupervisor: {},
		},
		logger: log,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	set, ok := h.clients[client.Category]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.Category] = set
	}
	set[client] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	h.logger.Info("Hub", "Client registered", map[string]interface{}{
		"client_id": client.ID,
		"category":  string(client.Category),
		"live":      total,
	})
}

// Unregister removes the client, closes its outbound queue and ends its session.
// Calling it again, or for a client never registered, does nothing.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	set := h.clients[client.Category]
	_, ok := set[client]
	if ok {
		delete(set, client)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	client.closeSend()
	if client.Session != nil {
		client.Session.Close()
	}
	h.logger.Info("Hub", "Client unregistered", map[string]interface{}{
		"client_id": client.ID,
		"category":  string(client.Category),
	})
}

func (h *Hub) Count(category Category) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[category])
}

// Broadcast sends v as one JSON text frame to every live client of the category and
// returns how many accepted it. Clients that cannot take the frame are logged and skipped.
func (h *Hub) Broadcast(category Category, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[category]))
	for c := range h.clients[category] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Enqueue(Frame{Data: data}); err != nil {
			h.logger.Warn("Hub", "Broadcast skipped client", map[string]interface{}{
				"client_id": c.ID,
				"category":  string(category),
				"error":     err.Error(),
			})
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Package notify fans out the "log changed" signal to live websocket
// clients.
package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/store"
)

const MessageTypeChanged = "changed"

// Message is what clients receive.
type Message struct {
	Type      string          `json:"type"`
	Changed   bool            `json:"changed"`
	Size      int             `json:"size"`
	ContextID model.ContextID `json:"contextId,omitempty"`
}

type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	broadcast chan Message
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan Message, 256),
	}
}

// LogChanged implements store.Notifier. It never blocks; when the queue is
// full the signal is dropped, the next change carries the same meaning.
func (h *Hub) LogChanged(_ context.Context, c store.Change) {
	msg := Message{Type: MessageTypeChanged, Changed: true, Size: c.Size}
	if c.Appended != nil {
		msg.ContextID = c.Appended.ContextID
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Debug().Msg("Change broadcast queue full, dropping signal")
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("total_clients", n).Msg("Websocket client connected")
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("total_clients", n).Msg("Websocket client disconnected")
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve delivers queued signals until ctx is canceled, then closes every
// client. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) String() string { return "notify-hub" }

// deliver sends msg to every client; a client whose buffer is full is
// dropped.
func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

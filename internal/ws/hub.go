// Package ws holds the WebSocket fan-out layer. The hub tracks open
// connections per user and gates every broker event against that user before
// writing it to the socket, so the broker can stay a dumb broadcast.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/broker"
	"parley/internal/domain"
)

const (
	EventTypeMessage       = "message"
	EventTypeFriendRequest = "friend_request"
)

// Event is the envelope written to sockets.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Subscriber interface {
	Subscribe(channel string, handler func([]byte)) (func(), error)
}

// Presence records user activity. Satisfied by the repository.
type Presence interface {
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}

	presence Presence
	cancels  []func()
	now      func() time.Time
}

func NewHub(presence Presence) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		presence:   presence,
		now:        time.Now,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.UserID] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()

	// A fresh connection counts as activity.
	if h.presence != nil {
		if err := h.presence.Touch(context.Background(), c.UserID, h.now()); err != nil {
			log.Printf("touch presence for %s: %v", c.UserID, err)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(h.clients, c.UserID)
	}
	h.mu.Unlock()

	// Disconnecting is the last activity we will see from this user.
	if h.presence != nil {
		if err := h.presence.Touch(context.Background(), c.UserID, h.now()); err != nil {
			log.Printf("touch presence for %s: %v", c.UserID, err)
		}
	}
}

// Listen subscribes the hub to both broker channels. Call once after Run is
// going.
func (h *Hub) Listen(sub Subscriber) error {
	cancel, err := sub.Subscribe(broker.ChannelChatMessages, h.handleMessage)
	if err != nil {
		return err
	}
	h.cancels = append(h.cancels, cancel)

	cancel, err = sub.Subscribe(broker.ChannelFriendRequests, h.handleFriendRequest)
	if err != nil {
		return err
	}
	h.cancels = append(h.cancels, cancel)
	return nil
}

func (h *Hub) Close() {
	for _, cancel := range h.cancels {
		cancel()
	}
}

// handleMessage fans a chat event out to every connected recipient. The
// sender's own connections are skipped; they already hold the message from
// the send response.
func (h *Hub) handleMessage(payload []byte) {
	var event domain.MessageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("decode chat event: %v", err)
		return
	}
	envelope, err := json.Marshal(Event{Type: EventTypeMessage, Payload: payload})
	if err != nil {
		log.Printf("wrap chat event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, conns := range h.clients {
		if !event.IsRecipient(userID) {
			continue
		}
		for c := range conns {
			c.trySend(envelope)
		}
	}
}

// handleFriendRequest delivers a friend event to the receiving user only.
func (h *Hub) handleFriendRequest(payload []byte) {
	var event domain.FriendRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("decode friend event: %v", err)
		return
	}
	envelope, err := json.Marshal(Event{Type: EventTypeFriendRequest, Payload: payload})
	if err != nil {
		log.Printf("wrap friend event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[event.ToID] {
		c.trySend(envelope)
	}
}

// ConnectedUsers is a snapshot of users with at least one open socket.
func (h *Hub) ConnectedUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

type fakePresence struct {
	mu      sync.Mutex
	touched []uuid.UUID
}

func (p *fakePresence) Touch(_ context.Context, id uuid.UUID, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touched = append(p.touched, id)
	return nil
}

func (p *fakePresence) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.touched)
}

func newTestClient(hub *Hub, userID uuid.UUID) *Client {
	return &Client{Hub: hub, UserID: userID, Send: make(chan []byte, sendBufferSize)}
}

func register(t *testing.T, hub *Hub, userID uuid.UUID) *Client {
	t.Helper()
	c := newTestClient(hub, userID)
	hub.Register <- c
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, ok := hub.clients[userID][c]
		return ok
	}, time.Second, time.Millisecond)
	return c
}

func messagePayload(t *testing.T, event domain.MessageEvent) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload
}

func received(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var e Event
		require.NoError(t, json.Unmarshal(raw, &e))
		return &e
	default:
		return nil
	}
}

func TestHubGatesDirectMessages(t *testing.T) {
	hub := NewHub(&fakePresence{})
	go hub.Run()

	sender := uuid.New()
	target := uuid.New()
	other := uuid.New()

	senderConn := register(t, hub, sender)
	targetConn := register(t, hub, target)
	otherConn := register(t, hub, other)

	hub.handleMessage(messagePayload(t, domain.MessageEvent{
		ID:           uuid.New(),
		Content:      "hi",
		FromID:       sender,
		TargetType:   domain.TargetUser,
		TargetUserID: &target,
	}))

	event := received(t, targetConn)
	require.NotNil(t, event)
	assert.Equal(t, EventTypeMessage, event.Type)

	assert.Nil(t, received(t, senderConn), "sender must not get their own message")
	assert.Nil(t, received(t, otherConn))
}

func TestHubGatesGroupMessages(t *testing.T) {
	hub := NewHub(&fakePresence{})
	go hub.Run()

	sender := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	senderConn := register(t, hub, sender)
	memberConn := register(t, hub, member)
	outsiderConn := register(t, hub, outsider)

	groupID := uuid.New()
	hub.handleMessage(messagePayload(t, domain.MessageEvent{
		ID:            uuid.New(),
		FromID:        sender,
		TargetType:    domain.TargetGroup,
		TargetGroupID: &groupID,
		TargetGroup: &domain.GroupWithMembers{
			Group: domain.Group{ID: groupID},
			Users: []domain.OnlineUser{
				{User: domain.User{ID: sender}},
				{User: domain.User{ID: member}},
			},
		},
	}))

	assert.NotNil(t, received(t, memberConn))
	assert.Nil(t, received(t, senderConn))
	assert.Nil(t, received(t, outsiderConn))
}

func TestHubDeliversToEveryConnectionOfAUser(t *testing.T) {
	hub := NewHub(&fakePresence{})
	go hub.Run()

	sender := uuid.New()
	target := uuid.New()
	first := register(t, hub, target)
	second := register(t, hub, target)

	hub.handleMessage(messagePayload(t, domain.MessageEvent{
		ID:           uuid.New(),
		FromID:       sender,
		TargetType:   domain.TargetUser,
		TargetUserID: &target,
	}))

	assert.NotNil(t, received(t, first))
	assert.NotNil(t, received(t, second))
}

func TestHubRoutesFriendEventsToReceiverOnly(t *testing.T) {
	hub := NewHub(&fakePresence{})
	go hub.Run()

	from := uuid.New()
	to := uuid.New()
	fromConn := register(t, hub, from)
	toConn := register(t, hub, to)

	payload, err := json.Marshal(domain.FriendRequestEvent{FromID: from, ToID: to})
	require.NoError(t, err)
	hub.handleFriendRequest(payload)

	event := received(t, toConn)
	require.NotNil(t, event)
	assert.Equal(t, EventTypeFriendRequest, event.Type)
	assert.Nil(t, received(t, fromConn))
}

func TestHubUnregisterCleansUp(t *testing.T) {
	presence := &fakePresence{}
	hub := NewHub(presence)
	go hub.Run()

	userID := uuid.New()
	c := register(t, hub, userID)
	require.Equal(t, 1, presence.count())

	hub.Unregister <- c
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, ok := hub.clients[userID]
		return !ok
	}, time.Second, time.Millisecond)

	// Send channel is closed so WritePump exits.
	_, open := <-c.Send
	assert.False(t, open)

	// A second unregister of the same client is harmless.
	hub.Unregister <- c
	assert.Empty(t, hub.ConnectedUsers())
}

func TestHubDropsMalformedPayloads(t *testing.T) {
	hub := NewHub(&fakePresence{})
	go hub.Run()

	target := uuid.New()
	conn := register(t, hub, target)

	hub.handleMessage([]byte("not json"))
	hub.handleFriendRequest([]byte("{"))
	assert.Nil(t, received(t, conn))
}

package friends

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
	"parley/internal/repository"
)

type pairKey struct {
	from, to uuid.UUID
}

type fakeStore struct {
	users    map[uuid.UUID]domain.User
	requests map[pairKey]domain.FriendRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[uuid.UUID]domain.User),
		requests: make(map[pairKey]domain.FriendRequest),
	}
}

func (f *fakeStore) addUser(name string) uuid.UUID {
	id := uuid.New()
	f.users[id] = domain.User{ID: id, Name: name, LastSeenAt: time.Now()}
	return id
}

func (f *fakeStore) User(_ context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return &u, nil
}

func (f *fakeStore) FriendPair(_ context.Context, userID, targetID uuid.UUID) (*domain.FriendRequest, *domain.FriendRequest, error) {
	var sent, received *domain.FriendRequest
	if r, ok := f.requests[pairKey{userID, targetID}]; ok {
		sent = &r
	}
	if r, ok := f.requests[pairKey{targetID, userID}]; ok {
		received = &r
	}
	return sent, received, nil
}

func (f *fakeStore) UpsertFriendRequest(_ context.Context, fromID, toID uuid.UUID, accepted bool, now time.Time) error {
	f.requests[pairKey{fromID, toID}] = domain.FriendRequest{
		FromID: fromID, ToID: toID, Accepted: accepted, CreatedAt: now, UpdatedAt: now,
	}
	return nil
}

func (f *fakeStore) AcceptFriendRequest(_ context.Context, fromID, toID uuid.UUID, now time.Time) error {
	key := pairKey{fromID, toID}
	r, ok := f.requests[key]
	if !ok {
		return fmt.Errorf("%w: friend request", domain.ErrNotFound)
	}
	r.Accepted = true
	r.UpdatedAt = now
	f.requests[key] = r
	return nil
}

func (f *fakeStore) DeleteFriendRequest(_ context.Context, fromID, toID uuid.UUID) error {
	key := pairKey{fromID, toID}
	if _, ok := f.requests[key]; !ok {
		return fmt.Errorf("%w: friend request", domain.ErrNotFound)
	}
	delete(f.requests, key)
	return nil
}

func (f *fakeStore) DeleteFriendPair(_ context.Context, a, b uuid.UUID) error {
	delete(f.requests, pairKey{a, b})
	delete(f.requests, pairKey{b, a})
	return nil
}

func (f *fakeStore) Friends(_ context.Context, userID uuid.UUID) ([]domain.User, error) {
	seen := make(map[uuid.UUID]struct{})
	var out []domain.User
	for key, r := range f.requests {
		if !r.Accepted {
			continue
		}
		var other uuid.UUID
		switch userID {
		case key.from:
			other = key.to
		case key.to:
			other = key.from
		default:
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, f.users[other])
	}
	return out, nil
}

func (f *fakeStore) SentFriendRequests(_ context.Context, userID uuid.UUID) ([]repository.FriendRequestWithUser, error) {
	var out []repository.FriendRequestWithUser
	for key, r := range f.requests {
		if key.from == userID && !r.Accepted {
			out = append(out, repository.FriendRequestWithUser{FriendRequest: r, User: f.users[key.to]})
		}
	}
	return out, nil
}

func (f *fakeStore) ReceivedFriendRequests(_ context.Context, userID uuid.UUID) ([]repository.FriendRequestWithUser, error) {
	var out []repository.FriendRequestWithUser
	for key, r := range f.requests {
		if key.to == userID && !r.Accepted {
			out = append(out, repository.FriendRequestWithUser{FriendRequest: r, User: f.users[key.from]})
		}
	}
	return out, nil
}

type fakePublisher struct {
	channels []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) lastEvent(t *testing.T) domain.FriendRequestEvent {
	t.Helper()
	require.NotEmpty(t, p.payloads)
	var event domain.FriendRequestEvent
	require.NoError(t, json.Unmarshal(p.payloads[len(p.payloads)-1], &event))
	return event
}

func setup() (*Service, *fakeStore, *fakePublisher) {
	store := newFakeStore()
	pub := &fakePublisher{}
	return New(store, pub), store, pub
}

func TestAddFriend(t *testing.T) {
	svc, store, pub := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, ana, bob))

	status, err := svc.Status(ctx, ana, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendStatusSent, status)

	status, err = svc.Status(ctx, bob, ana)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendStatusReceived, status)

	event := pub.lastEvent(t)
	assert.Equal(t, ana, event.FromID)
	assert.Equal(t, bob, event.ToID)
	assert.False(t, event.Accepted)
}

func TestAddFriendRejectsBadStates(t *testing.T) {
	svc, store, _ := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	ctx := context.Background()

	assert.ErrorIs(t, svc.Add(ctx, ana, ana), domain.ErrValidation)
	assert.ErrorIs(t, svc.Add(ctx, ana, uuid.New()), domain.ErrNotFound)

	require.NoError(t, svc.Add(ctx, ana, bob))
	assert.ErrorIs(t, svc.Add(ctx, ana, bob), domain.ErrValidation)

	require.NoError(t, svc.Accept(ctx, bob, ana))
	assert.ErrorIs(t, svc.Add(ctx, ana, bob), domain.ErrValidation)
}

func TestAddAcceptsCrossedRequest(t *testing.T) {
	svc, store, pub := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, ana, bob))
	// Bob "adds" back instead of accepting; the pending request resolves.
	require.NoError(t, svc.Add(ctx, bob, ana))

	status, err := svc.Status(ctx, ana, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendStatusFriends, status)

	event := pub.lastEvent(t)
	assert.True(t, event.Accepted)
}

func TestAcceptFriend(t *testing.T) {
	svc, store, pub := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, ana, bob))
	require.NoError(t, svc.Accept(ctx, bob, ana))

	// Friendship holds from both sides.
	for _, pair := range [][2]uuid.UUID{{ana, bob}, {bob, ana}} {
		status, err := svc.Status(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, domain.FriendStatusFriends, status)
	}

	event := pub.lastEvent(t)
	assert.Equal(t, bob, event.FromID)
	assert.True(t, event.Accepted)

	friends, err := svc.Friends(ctx, ana)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Name)
	assert.True(t, friends[0].IsOnline)
}

func TestAcceptWithoutRequest(t *testing.T) {
	svc, store, _ := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	assert.ErrorIs(t, svc.Accept(context.Background(), bob, ana), domain.ErrNotFound)
}

func TestRejectAndCancel(t *testing.T) {
	svc, store, _ := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, ana, bob))
	require.NoError(t, svc.Reject(ctx, bob, ana))
	status, err := svc.Status(ctx, ana, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendStatusNone, status)

	// Reject needs an incoming request, cancel an outgoing one.
	assert.ErrorIs(t, svc.Reject(ctx, bob, ana), domain.ErrNotFound)
	assert.ErrorIs(t, svc.Cancel(ctx, ana, bob), domain.ErrNotFound)

	require.NoError(t, svc.Add(ctx, ana, bob))
	require.NoError(t, svc.Cancel(ctx, ana, bob))
	status, err = svc.Status(ctx, ana, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendStatusNone, status)
}

func TestRemoveFriend(t *testing.T) {
	svc, store, _ := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	ctx := context.Background()

	assert.ErrorIs(t, svc.Remove(ctx, ana, bob), domain.ErrNotFound)

	require.NoError(t, svc.Add(ctx, ana, bob))
	require.NoError(t, svc.Accept(ctx, bob, ana))
	require.NoError(t, svc.Remove(ctx, ana, bob))

	status, err := svc.Status(ctx, ana, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendStatusNone, status)

	friends, err := svc.Friends(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, friends)
}

func TestSentAndReceivedLists(t *testing.T) {
	svc, store, _ := setup()
	ana := store.addUser("ana")
	bob := store.addUser("bob")
	cara := store.addUser("cara")
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, ana, bob))
	require.NoError(t, svc.Add(ctx, cara, ana))

	sent, err := svc.Sent(ctx, ana)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "bob", sent[0].User.Name)

	received, err := svc.Received(ctx, ana)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "cara", received[0].User.Name)
}

package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsOnline(t *testing.T) {
	now := time.Now()

	assert.True(t, IsOnline(now, now))
	assert.True(t, IsOnline(now.Add(-OnlineWindow+time.Second), now))
	// The window is exclusive at the boundary.
	assert.False(t, IsOnline(now.Add(-OnlineWindow), now))
	assert.False(t, IsOnline(time.Time{}, now))
}

func TestGroupOnline(t *testing.T) {
	now := time.Now()
	viewer := uuid.New()
	other := uuid.New()

	online := func(id uuid.UUID) OnlineUser {
		return OnlineUser{User: User{ID: id, LastSeenAt: now}, IsOnline: true}
	}
	offline := func(id uuid.UUID) OnlineUser {
		return OnlineUser{User: User{ID: id}}
	}

	assert.True(t, GroupOnline([]OnlineUser{offline(viewer), online(other)}, viewer, now))
	assert.False(t, GroupOnline([]OnlineUser{offline(viewer), offline(other)}, viewer, now))
	// The viewer's own presence never makes their group look online.
	assert.False(t, GroupOnline([]OnlineUser{online(viewer)}, viewer, now))
	assert.False(t, GroupOnline(nil, viewer, now))
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OnlineWindow is how recently a user must have been seen to count as online.
const OnlineWindow = 5 * time.Minute

// IsOnline derives presence from the last-seen timestamp. Presence is never
// stored as a boolean; every read recomputes it.
func IsOnline(lastSeenAt, now time.Time) bool {
	return now.Sub(lastSeenAt) < OnlineWindow
}

func WithOnline(u User, now time.Time) OnlineUser {
	return OnlineUser{User: u, IsOnline: IsOnline(u.LastSeenAt, now)}
}

func WithOnlineAll(users []User, now time.Time) []OnlineUser {
	out := make([]OnlineUser, len(users))
	for i, u := range users {
		out[i] = WithOnline(u, now)
	}
	return out
}

// GroupOnline reports whether any member other than the viewer is online.
func GroupOnline(members []OnlineUser, viewerID uuid.UUID, now time.Time) bool {
	for _, m := range members {
		if m.ID != viewerID && m.IsOnline {
			return true
		}
	}
	return false
}

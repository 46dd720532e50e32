package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Image      string    `json:"image"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// OnlineUser is a User decorated with derived presence. The flag is computed
// on every read, never stored.
type OnlineUser struct {
	User
	IsOnline bool `json:"isOnline"`
}

type Group struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type GroupWithMembers struct {
	Group
	Users []OnlineUser `json:"users"`
}

// OnlineGroup carries group presence relative to one viewer: online iff any
// member other than the viewer is online.
type OnlineGroup struct {
	GroupWithMembers
	IsOnline bool `json:"isOnline"`
}

type MessageSource string

const (
	SourceUser   MessageSource = "User"
	SourceSystem MessageSource = "System"
)

// Message is an append-only log entry. Rows are created once by the
// dispatcher and never mutated or deleted.
type Message struct {
	ID        uuid.UUID
	Content   string
	Source    MessageSource
	FromID    uuid.UUID
	Target    Target
	CreatedAt time.Time
}

func (m Message) MarshalJSON() ([]byte, error) {
	userID, groupID := m.Target.Columns()
	return json.Marshal(struct {
		ID            uuid.UUID     `json:"id"`
		Content       string        `json:"content"`
		Source        MessageSource `json:"source"`
		FromID        uuid.UUID     `json:"fromId"`
		TargetType    TargetType    `json:"targetType"`
		TargetUserID  *uuid.UUID    `json:"targetUserId"`
		TargetGroupID *uuid.UUID    `json:"targetGroupId"`
		CreatedAt     time.Time     `json:"createdAt"`
	}{
		ID:            m.ID,
		Content:       m.Content,
		Source:        m.Source,
		FromID:        m.FromID,
		TargetType:    m.Target.Type(),
		TargetUserID:  nullablePtr(userID),
		TargetGroupID: nullablePtr(groupID),
		CreatedAt:     m.CreatedAt,
	})
}

// MessageWithSender is the row shape history queries return: the message
// joined with its sender.
type MessageWithSender struct {
	Message
	From User
}

// ConversationSummary is one participant's ledger row, hydrated for display.
type ConversationSummary struct {
	TargetType    TargetType   `json:"targetType"`
	TargetUserID  *uuid.UUID   `json:"targetUserId"`
	TargetUser    *OnlineUser  `json:"targetUser"`
	TargetGroupID *uuid.UUID   `json:"targetGroupId"`
	TargetGroup   *OnlineGroup `json:"targetGroup"`
	LastMessage   *Message     `json:"lastMessage"`
	UnreadCount   int          `json:"unreadCount"`
}

type FriendRequest struct {
	FromID    uuid.UUID `json:"fromId"`
	ToID      uuid.UUID `json:"toId"`
	Accepted  bool      `json:"accepted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func nullablePtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := id.UUID
	return &u
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageEvent is the wire shape published on the chat-messages channel and
// returned by the send and history operations. Exactly one of TargetUser /
// TargetGroup is non-nil, matching TargetType. Group events carry the full
// member list so connection gates can filter without a store round-trip.
type MessageEvent struct {
	ID            uuid.UUID         `json:"id"`
	Content       string            `json:"content"`
	CreatedAt     time.Time         `json:"createdAt"`
	Source        MessageSource     `json:"source"`
	FromID        uuid.UUID         `json:"fromId"`
	From          OnlineUser        `json:"from"`
	TargetType    TargetType        `json:"targetType"`
	TargetUserID  *uuid.UUID        `json:"targetUserId"`
	TargetUser    *OnlineUser       `json:"targetUser"`
	TargetGroupID *uuid.UUID        `json:"targetGroupId"`
	TargetGroup   *GroupWithMembers `json:"targetGroup"`
}

// IsRecipient reports whether the event should be delivered to the given
// user: the direct-message target, or a group member. The sender is never a
// recipient; their copy is the synchronous send response.
func (e *MessageEvent) IsRecipient(userID uuid.UUID) bool {
	if userID == e.FromID {
		return false
	}
	switch e.TargetType {
	case TargetUser:
		return e.TargetUserID != nil && *e.TargetUserID == userID
	case TargetGroup:
		if e.TargetGroup == nil {
			return false
		}
		for _, m := range e.TargetGroup.Users {
			if m.ID == userID {
				return true
			}
		}
	}
	return false
}

// FriendRequestEvent is published on the friend-requests channel whenever a
// request is created or accepted. Delivered to the receiving user only.
type FriendRequestEvent struct {
	FromID   uuid.UUID  `json:"fromId"`
	ToID     uuid.UUID  `json:"toId"`
	Accepted bool       `json:"accepted"`
	From     OnlineUser `json:"from"`
	To       OnlineUser `json:"to"`
}

package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMessageEventIsRecipient(t *testing.T) {
	sender := uuid.New()
	target := uuid.New()
	outsider := uuid.New()

	dm := &MessageEvent{
		FromID:       sender,
		TargetType:   TargetUser,
		TargetUserID: &target,
	}
	assert.True(t, dm.IsRecipient(target))
	assert.False(t, dm.IsRecipient(sender))
	assert.False(t, dm.IsRecipient(outsider))

	member := uuid.New()
	group := &MessageEvent{
		FromID:     sender,
		TargetType: TargetGroup,
		TargetGroup: &GroupWithMembers{
			Users: []OnlineUser{
				{User: User{ID: sender}},
				{User: User{ID: member}},
			},
		},
	}
	assert.True(t, group.IsRecipient(member))
	// The sender is a member but already holds the message from the send
	// response.
	assert.False(t, group.IsRecipient(sender))
	assert.False(t, group.IsRecipient(outsider))
}

package domain

type FriendStatus string

const (
	FriendStatusNone     FriendStatus = "none"
	FriendStatusSent     FriendStatus = "sent"
	FriendStatusReceived FriendStatus = "received"
	FriendStatusFriends  FriendStatus = "friends"
)

// DeriveFriendStatus computes the relationship between a user and a target
// from the two possible friend-request rows: sent is the row from the user to
// the target, received the row from the target to the user. An accepted row
// in either direction means friends; the status is derived on every read, not
// stored.
func DeriveFriendStatus(sent, received *FriendRequest) FriendStatus {
	if (sent != nil && sent.Accepted) || (received != nil && received.Accepted) {
		return FriendStatusFriends
	}
	if received != nil {
		return FriendStatusReceived
	}
	if sent != nil {
		return FriendStatusSent
	}
	return FriendStatusNone
}

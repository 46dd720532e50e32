// Package friends manages friend-request rows and the 4-state relationship
// derived from them. Status is recomputed from the two possible rows on every
// read; accepting writes the reciprocal accepted row so friendship holds in
// both directions.
package friends

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"parley/internal/broker"
	"parley/internal/domain"
	"parley/internal/repository"
)

type Store interface {
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FriendPair(ctx context.Context, userID, targetID uuid.UUID) (sent, received *domain.FriendRequest, err error)
	UpsertFriendRequest(ctx context.Context, fromID, toID uuid.UUID, accepted bool, now time.Time) error
	AcceptFriendRequest(ctx context.Context, fromID, toID uuid.UUID, now time.Time) error
	DeleteFriendRequest(ctx context.Context, fromID, toID uuid.UUID) error
	DeleteFriendPair(ctx context.Context, a, b uuid.UUID) error
	Friends(ctx context.Context, userID uuid.UUID) ([]domain.User, error)
	SentFriendRequests(ctx context.Context, userID uuid.UUID) ([]repository.FriendRequestWithUser, error)
	ReceivedFriendRequests(ctx context.Context, userID uuid.UUID) ([]repository.FriendRequestWithUser, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Service struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

func New(store Store, publisher Publisher) *Service {
	return &Service{store: store, publisher: publisher, now: time.Now}
}

func (s *Service) Status(ctx context.Context, userID, targetID uuid.UUID) (domain.FriendStatus, error) {
	sent, received, err := s.store.FriendPair(ctx, userID, targetID)
	if err != nil {
		return "", err
	}
	return domain.DeriveFriendStatus(sent, received), nil
}

// Add sends a friend request to the target. If the target already asked, the
// pending request is accepted instead of stacking a second one.
func (s *Service) Add(ctx context.Context, userID, targetID uuid.UUID) error {
	if userID == targetID {
		return fmt.Errorf("%w: cannot befriend yourself", domain.ErrValidation)
	}
	target, err := s.store.User(ctx, targetID)
	if err != nil {
		return err
	}

	status, err := s.Status(ctx, userID, targetID)
	if err != nil {
		return err
	}
	switch status {
	case domain.FriendStatusFriends:
		return fmt.Errorf("%w: already friends with %s", domain.ErrValidation, target.Name)
	case domain.FriendStatusSent:
		return fmt.Errorf("%w: friend request to %s already sent", domain.ErrValidation, target.Name)
	case domain.FriendStatusReceived:
		return s.accept(ctx, userID, targetID)
	}

	if err := s.store.UpsertFriendRequest(ctx, userID, targetID, false, s.now()); err != nil {
		return err
	}
	s.publishEvent(ctx, userID, targetID, false)
	return nil
}

// Accept accepts a pending request from the target.
func (s *Service) Accept(ctx context.Context, userID, targetID uuid.UUID) error {
	status, err := s.Status(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if status != domain.FriendStatusReceived {
		return fmt.Errorf("%w: no friend request from %s", domain.ErrNotFound, targetID)
	}
	return s.accept(ctx, userID, targetID)
}

func (s *Service) accept(ctx context.Context, userID, targetID uuid.UUID) error {
	now := s.now()
	if err := s.store.AcceptFriendRequest(ctx, targetID, userID, now); err != nil {
		return err
	}
	// Reciprocal accepted row, so either direction proves friendship.
	if err := s.store.UpsertFriendRequest(ctx, userID, targetID, true, now); err != nil {
		return err
	}
	s.publishEvent(ctx, userID, targetID, true)
	return nil
}

// Reject discards a pending request from the target.
func (s *Service) Reject(ctx context.Context, userID, targetID uuid.UUID) error {
	status, err := s.Status(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if status != domain.FriendStatusReceived {
		return fmt.Errorf("%w: no friend request from %s", domain.ErrNotFound, targetID)
	}
	return s.store.DeleteFriendRequest(ctx, targetID, userID)
}

// Cancel withdraws the user's own pending request.
func (s *Service) Cancel(ctx context.Context, userID, targetID uuid.UUID) error {
	status, err := s.Status(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if status != domain.FriendStatusSent {
		return fmt.Errorf("%w: no friend request to %s", domain.ErrNotFound, targetID)
	}
	return s.store.DeleteFriendRequest(ctx, userID, targetID)
}

// Remove ends an existing friendship, deleting both directions.
func (s *Service) Remove(ctx context.Context, userID, targetID uuid.UUID) error {
	status, err := s.Status(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if status != domain.FriendStatusFriends {
		return fmt.Errorf("%w: not friends with %s", domain.ErrNotFound, targetID)
	}
	return s.store.DeleteFriendPair(ctx, userID, targetID)
}

func (s *Service) Friends(ctx context.Context, userID uuid.UUID) ([]domain.OnlineUser, error) {
	users, err := s.store.Friends(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.WithOnlineAll(users, s.now()), nil
}

// OnlineFriends returns only the friends currently online.
func (s *Service) OnlineFriends(ctx context.Context, userID uuid.UUID) ([]domain.OnlineUser, error) {
	friends, err := s.Friends(ctx, userID)
	if err != nil {
		return nil, err
	}
	online := friends[:0]
	for _, f := range friends {
		if f.IsOnline {
			online = append(online, f)
		}
	}
	return online, nil
}

func (s *Service) Sent(ctx context.Context, userID uuid.UUID) ([]repository.FriendRequestWithUser, error) {
	return s.store.SentFriendRequests(ctx, userID)
}

func (s *Service) Received(ctx context.Context, userID uuid.UUID) ([]repository.FriendRequestWithUser, error) {
	return s.store.ReceivedFriendRequests(ctx, userID)
}

// publishEvent notifies the receiving side over the friend-requests channel.
// Best-effort: a miss only delays the notification until the next poll.
func (s *Service) publishEvent(ctx context.Context, fromID, toID uuid.UUID, accepted bool) {
	from, err := s.store.User(ctx, fromID)
	if err != nil {
		log.Printf("load friend event sender %s: %v", fromID, err)
		return
	}
	to, err := s.store.User(ctx, toID)
	if err != nil {
		log.Printf("load friend event target %s: %v", toID, err)
		return
	}

	now := s.now()
	payload, err := json.Marshal(domain.FriendRequestEvent{
		FromID:   fromID,
		ToID:     toID,
		Accepted: accepted,
		From:     domain.WithOnline(*from, now),
		To:       domain.WithOnline(*to, now),
	})
	if err != nil {
		log.Printf("marshal friend event: %v", err)
		return
	}
	if err := s.publisher.Publish(ctx, broker.ChannelFriendRequests, payload); err != nil {
		log.Printf("publish friend event: %v", err)
	}
}

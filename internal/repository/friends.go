package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain"
)

// FriendRequestWithUser pairs a pending request with the user on its far end.
type FriendRequestWithUser struct {
	domain.FriendRequest
	User domain.User
}

// FriendPair loads the two possible request rows between a user and a target:
// sent (user → target) and received (target → user). Either may be nil.
func (s *Store) FriendPair(ctx context.Context, userID, targetID uuid.UUID) (sent, received *domain.FriendRequest, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, accepted, created_at, updated_at
		FROM friend_requests
		WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)`,
		userID, targetID)
	if err != nil {
		return nil, nil, &domain.StorageError{Op: "get friend pair", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var fr domain.FriendRequest
		if err := rows.Scan(&fr.FromID, &fr.ToID, &fr.Accepted, &fr.CreatedAt, &fr.UpdatedAt); err != nil {
			return nil, nil, &domain.StorageError{Op: "scan friend request", Err: err}
		}
		if fr.FromID == userID {
			sent = &fr
		} else {
			received = &fr
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &domain.StorageError{Op: "get friend pair", Err: err}
	}
	return sent, received, nil
}

// UpsertFriendRequest creates the (from, to) row, or flips an existing one to
// the given accepted state.
func (s *Store) UpsertFriendRequest(ctx context.Context, fromID, toID uuid.UUID, accepted bool, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friend_requests (from_id, to_id, accepted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (from_id, to_id)
		DO UPDATE SET accepted = EXCLUDED.accepted, updated_at = EXCLUDED.updated_at`,
		fromID, toID, accepted, now)
	if err != nil {
		return &domain.StorageError{Op: "upsert friend request", Err: err}
	}
	return nil
}

func (s *Store) AcceptFriendRequest(ctx context.Context, fromID, toID uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE friend_requests SET accepted = true, updated_at = $3
		WHERE from_id = $1 AND to_id = $2`, fromID, toID, now)
	if err != nil {
		return &domain.StorageError{Op: "accept friend request", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "accept friend request", Err: err}
	}
	if affected == 0 {
		return fmt.Errorf("%w: friend request %s -> %s", domain.ErrNotFound, fromID, toID)
	}
	return nil
}

func (s *Store) DeleteFriendRequest(ctx context.Context, fromID, toID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friend_requests WHERE from_id = $1 AND to_id = $2`, fromID, toID)
	if err != nil {
		return &domain.StorageError{Op: "delete friend request", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "delete friend request", Err: err}
	}
	if affected == 0 {
		return fmt.Errorf("%w: friend request %s -> %s", domain.ErrNotFound, fromID, toID)
	}
	return nil
}

// DeleteFriendPair removes both directions of the relationship.
func (s *Store) DeleteFriendPair(ctx context.Context, a, b uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM friend_requests
		WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)`, a, b)
	if err != nil {
		return &domain.StorageError{Op: "delete friend pair", Err: err}
	}
	return nil
}

// Friends returns users with an accepted request in either direction.
func (s *Store) Friends(ctx context.Context, userID uuid.UUID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.name, u.image, u.last_seen_at
		FROM users u
		JOIN friend_requests fr
		  ON (fr.from_id = u.id AND fr.to_id = $1) OR (fr.to_id = u.id AND fr.from_id = $1)
		WHERE fr.accepted`, userID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list friends", Err: err}
	}
	defer rows.Close()

	var friends []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Image, &u.LastSeenAt); err != nil {
			return nil, &domain.StorageError{Op: "scan friend", Err: err}
		}
		friends = append(friends, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list friends", Err: err}
	}
	return friends, nil
}

// SentFriendRequests returns the user's pending outgoing requests with the
// target users attached.
func (s *Store) SentFriendRequests(ctx context.Context, userID uuid.UUID) ([]FriendRequestWithUser, error) {
	return s.pendingRequests(ctx, `
		SELECT fr.from_id, fr.to_id, fr.accepted, fr.created_at, fr.updated_at,
		       u.id, u.name, u.image, u.last_seen_at
		FROM friend_requests fr
		JOIN users u ON u.id = fr.to_id
		WHERE fr.from_id = $1 AND NOT fr.accepted`, userID)
}

// ReceivedFriendRequests returns the user's pending incoming requests with
// the senders attached.
func (s *Store) ReceivedFriendRequests(ctx context.Context, userID uuid.UUID) ([]FriendRequestWithUser, error) {
	return s.pendingRequests(ctx, `
		SELECT fr.from_id, fr.to_id, fr.accepted, fr.created_at, fr.updated_at,
		       u.id, u.name, u.image, u.last_seen_at
		FROM friend_requests fr
		JOIN users u ON u.id = fr.from_id
		WHERE fr.to_id = $1 AND NOT fr.accepted`, userID)
}

func (s *Store) pendingRequests(ctx context.Context, query string, userID uuid.UUID) ([]FriendRequestWithUser, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list friend requests", Err: err}
	}
	defer rows.Close()

	var requests []FriendRequestWithUser
	for rows.Next() {
		var r FriendRequestWithUser
		if err := rows.Scan(&r.FromID, &r.ToID, &r.Accepted, &r.CreatedAt, &r.UpdatedAt,
			&r.User.ID, &r.User.Name, &r.User.Image, &r.User.LastSeenAt); err != nil {
			return nil, &domain.StorageError{Op: "scan friend request", Err: err}
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list friend requests", Err: err}
	}
	return requests, nil
}

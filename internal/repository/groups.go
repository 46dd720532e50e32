package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"parley/internal/domain"
)

func (s *Store) Group(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name FROM groups WHERE id = $1`, id)

	var g domain.Group
	if err := row.Scan(&g.ID, &g.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: group %s", domain.ErrNotFound, id)
		}
		return nil, &domain.StorageError{Op: "get group", Err: err}
	}
	return &g, nil
}

func (s *Store) GroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list groups", Err: err}
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, &domain.StorageError{Op: "scan group", Err: err}
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list groups", Err: err}
	}
	return groups, nil
}

func (s *Store) IsGroupMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&exists)
	if err != nil {
		return false, &domain.StorageError{Op: "check membership", Err: err}
	}
	return exists, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.image, u.last_seen_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1`, groupID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list members", Err: err}
	}
	defer rows.Close()

	var members []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Image, &u.LastSeenAt); err != nil {
			return nil, &domain.StorageError{Op: "scan member", Err: err}
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list members", Err: err}
	}
	return members, nil
}

func (s *Store) groupMembersByGroup(ctx context.Context, groupIDs []uuid.UUID) (map[uuid.UUID][]domain.User, error) {
	members := make(map[uuid.UUID][]domain.User, len(groupIDs))
	if len(groupIDs) == 0 {
		return members, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT gm.group_id, u.id, u.name, u.image, u.last_seen_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ANY($1)`, pq.Array(groupIDs))
	if err != nil {
		return nil, &domain.StorageError{Op: "list members", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var groupID uuid.UUID
		var u domain.User
		if err := rows.Scan(&groupID, &u.ID, &u.Name, &u.Image, &u.LastSeenAt); err != nil {
			return nil, &domain.StorageError{Op: "scan member", Err: err}
		}
		members[groupID] = append(members[groupID], u)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list members", Err: err}
	}
	return members, nil
}

func (s *Store) groupsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Group, error) {
	groups := make(map[uuid.UUID]domain.Group, len(ids))
	if len(ids) == 0 {
		return groups, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM groups WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, &domain.StorageError{Op: "get groups", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, &domain.StorageError{Op: "scan group", Err: err}
		}
		groups[g.ID] = g
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "get groups", Err: err}
	}
	return groups, nil
}

// CreateGroup creates the group, its member rows, the seed system message and
// every member's ledger row in one transaction. The creator's row starts read,
// everyone else's starts with the seed message unread.
func (s *Store) CreateGroup(ctx context.Context, group *domain.Group, creatorID uuid.UUID, memberIDs []uuid.UUID, seed *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin create group", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name) VALUES ($1, $2)`, group.ID, group.Name); err != nil {
		return &domain.StorageError{Op: "insert group", Err: err}
	}

	for _, memberID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
			group.ID, memberID); err != nil {
			return &domain.StorageError{Op: "insert group member", Err: err}
		}
	}

	if err := insertMessage(ctx, tx, seed); err != nil {
		return err
	}

	target := domain.GroupTarget(group.ID)
	if err := upsertLedger(ctx, tx, creatorID, target, seed.ID, true); err != nil {
		return err
	}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		if err := upsertLedger(ctx, tx, memberID, target, seed.ID, false); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit create group", Err: err}
	}
	return nil
}

// AddGroupMembers appends members to an existing group. Fails with
// ErrValidation when any of them already belongs; the announcement message is
// dispatched separately through the normal send path.
func (s *Store) AddGroupMembers(ctx context.Context, groupID uuid.UUID, userIDs []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin add members", Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 AND user_id = ANY($2)`,
		groupID, pq.Array(userIDs))
	if err != nil {
		return &domain.StorageError{Op: "check members", Err: err}
	}
	var existing []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return &domain.StorageError{Op: "check members", Err: err}
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &domain.StorageError{Op: "check members", Err: err}
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: users already in the group: %v", domain.ErrValidation, existing)
	}

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
			groupID, userID); err != nil {
			return &domain.StorageError{Op: "insert group member", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit add members", Err: err}
	}
	return nil
}

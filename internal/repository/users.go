package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"parley/internal/domain"
)

func (s *Store) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, image, last_seen_at FROM users WHERE id = $1`, id)

	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Image, &u.LastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
		return nil, &domain.StorageError{Op: "get user", Err: err}
	}
	return &u, nil
}

func (s *Store) UsersByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.User, error) {
	users := make(map[uuid.UUID]domain.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, image, last_seen_at FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, &domain.StorageError{Op: "get users", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Image, &u.LastSeenAt); err != nil {
			return nil, &domain.StorageError{Op: "scan user", Err: err}
		}
		users[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "get users", Err: err}
	}
	return users, nil
}

// Touch stamps the user's last-seen timestamp. Presence is derived from this
// column on every read.
func (s *Store) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return &domain.StorageError{Op: "touch user", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "touch user", Err: err}
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return nil
}

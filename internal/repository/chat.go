package repository

import (
	"bytes"
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"

	"parley/internal/domain"
)

const ledgerInsert = `
	INSERT INTO conversations (user_id, target_type, target_user_id, target_group_id, last_message_id, unread_count)
	VALUES ($1, $2, $3, $4, $5, $6)`

// The increment happens inside SQL; reading the counter into Go and writing
// it back would lose updates under concurrent senders.
const (
	ledgerResetUser = ledgerInsert + `
	ON CONFLICT (user_id, target_user_id) WHERE target_type = 'User'
	DO UPDATE SET last_message_id = EXCLUDED.last_message_id, unread_count = 0`

	ledgerResetGroup = ledgerInsert + `
	ON CONFLICT (user_id, target_group_id) WHERE target_type = 'Group'
	DO UPDATE SET last_message_id = EXCLUDED.last_message_id, unread_count = 0`

	ledgerIncrementUser = ledgerInsert + `
	ON CONFLICT (user_id, target_user_id) WHERE target_type = 'User'
	DO UPDATE SET last_message_id = EXCLUDED.last_message_id, unread_count = conversations.unread_count + 1`

	ledgerIncrementGroup = ledgerInsert + `
	ON CONFLICT (user_id, target_group_id) WHERE target_type = 'Group'
	DO UPDATE SET last_message_id = EXCLUDED.last_message_id, unread_count = conversations.unread_count + 1`
)

// ConversationRow is a ledger row with its referenced entities loaded but not
// yet decorated with presence; the dispatcher derives that per read.
type ConversationRow struct {
	Target      domain.Target
	UnreadCount int
	LastMessage *domain.Message
	TargetUser  *domain.User
	TargetGroup *domain.Group
	Members     []domain.User
}

// CreateMessage inserts the message and upserts every affected participant's
// ledger row in one transaction: the sender's row is reset to read, each
// recipient's unread count is incremented. All-or-nothing; on error the
// message does not exist.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message, recipients []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin send", Err: err}
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	for _, entry := range ledgerPlan(msg, recipients) {
		if err := upsertLedger(ctx, tx, entry.owner, entry.target, msg.ID, entry.reset); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit send", Err: err}
	}
	return nil
}

type ledgerEntry struct {
	owner  uuid.UUID
	target domain.Target
	reset  bool
}

// ledgerPlan lists every ledger upsert the message needs, sorted by owner id.
// The sender's row is sorted in with the rest; crossing sends between the
// same participants then lock their rows in the same order and cannot
// deadlock. A direct message lands in each recipient's conversation with the
// sender; a group message lands in everyone's conversation with the group.
func ledgerPlan(msg *domain.Message, recipients []uuid.UUID) []ledgerEntry {
	recipientTarget := msg.Target
	if msg.Target.Type() == domain.TargetUser {
		recipientTarget = domain.UserTarget(msg.FromID)
	}

	entries := make([]ledgerEntry, 0, len(recipients)+1)
	entries = append(entries, ledgerEntry{owner: msg.FromID, target: msg.Target, reset: true})
	for _, recipientID := range recipients {
		entries = append(entries, ledgerEntry{owner: recipientID, target: recipientTarget})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].owner[:], entries[j].owner[:]) < 0
	})
	return entries
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	targetUserID, targetGroupID := msg.Target.Columns()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, content, source, from_id, target_type, target_user_id, target_group_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.Content, msg.Source, msg.FromID,
		msg.Target.Type(), targetUserID, targetGroupID, msg.CreatedAt)
	if err != nil {
		return &domain.StorageError{Op: "insert message", Err: err}
	}
	return nil
}

func upsertLedger(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID, target domain.Target, messageID uuid.UUID, reset bool) error {
	var query string
	switch {
	case target.Type() == domain.TargetUser && reset:
		query = ledgerResetUser
	case target.Type() == domain.TargetUser:
		query = ledgerIncrementUser
	case reset:
		query = ledgerResetGroup
	default:
		query = ledgerIncrementGroup
	}

	unread := 1
	if reset {
		unread = 0
	}

	targetUserID, targetGroupID := target.Columns()
	_, err := tx.ExecContext(ctx, query,
		ownerID, target.Type(), targetUserID, targetGroupID, messageID, unread)
	if err != nil {
		return &domain.StorageError{Op: "upsert ledger", Err: err}
	}
	return nil
}

// Conversations returns the user's ledger rows ordered by last message time
// descending, with target users, groups and group members loaded.
func (s *Store) Conversations(ctx context.Context, userID uuid.UUID) ([]ConversationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.target_type, c.target_user_id, c.target_group_id, c.unread_count,
		       m.id, m.content, m.source, m.from_id,
		       m.target_type, m.target_user_id, m.target_group_id, m.created_at
		FROM conversations c
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE c.user_id = $1
		ORDER BY m.created_at DESC NULLS LAST`, userID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list conversations", Err: err}
	}
	defer rows.Close()

	var (
		out      []ConversationRow
		userIDs  []uuid.UUID
		groupIDs []uuid.UUID
	)
	for rows.Next() {
		var (
			targetType       domain.TargetType
			targetUserID     uuid.NullUUID
			targetGroupID    uuid.NullUUID
			unread           int
			msgID            uuid.NullUUID
			msgContent       sql.NullString
			msgSource        sql.NullString
			msgFromID        uuid.NullUUID
			msgTargetType    sql.NullString
			msgTargetUserID  uuid.NullUUID
			msgTargetGroupID uuid.NullUUID
			msgCreatedAt     sql.NullTime
		)
		if err := rows.Scan(&targetType, &targetUserID, &targetGroupID, &unread,
			&msgID, &msgContent, &msgSource, &msgFromID,
			&msgTargetType, &msgTargetUserID, &msgTargetGroupID, &msgCreatedAt); err != nil {
			return nil, &domain.StorageError{Op: "scan conversation", Err: err}
		}

		target, err := domain.TargetFromColumns(targetType, targetUserID, targetGroupID)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan conversation", Err: err}
		}

		row := ConversationRow{Target: target, UnreadCount: unread}
		if msgID.Valid {
			msgTarget, err := domain.TargetFromColumns(
				domain.TargetType(msgTargetType.String), msgTargetUserID, msgTargetGroupID)
			if err != nil {
				return nil, &domain.StorageError{Op: "scan conversation", Err: err}
			}
			row.LastMessage = &domain.Message{
				ID:        msgID.UUID,
				Content:   msgContent.String,
				Source:    domain.MessageSource(msgSource.String),
				FromID:    msgFromID.UUID,
				Target:    msgTarget,
				CreatedAt: msgCreatedAt.Time,
			}
		}

		switch target.Type() {
		case domain.TargetUser:
			userIDs = append(userIDs, target.ID())
		case domain.TargetGroup:
			groupIDs = append(groupIDs, target.ID())
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list conversations", Err: err}
	}

	users, err := s.UsersByID(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	groups, err := s.groupsByID(ctx, groupIDs)
	if err != nil {
		return nil, err
	}
	members, err := s.groupMembersByGroup(ctx, groupIDs)
	if err != nil {
		return nil, err
	}

	for i := range out {
		switch out[i].Target.Type() {
		case domain.TargetUser:
			if u, ok := users[out[i].Target.ID()]; ok {
				out[i].TargetUser = &u
			}
		case domain.TargetGroup:
			if g, ok := groups[out[i].Target.ID()]; ok {
				out[i].TargetGroup = &g
			}
			out[i].Members = members[out[i].Target.ID()]
		}
	}
	return out, nil
}

// Messages returns up to limit messages between the user and the target in
// chronological order. For a user target both directions of the exchange are
// included.
func (s *Store) Messages(ctx context.Context, userID uuid.UUID, target domain.Target, limit int) ([]domain.MessageWithSender, error) {
	const selectMessage = `
		SELECT m.id, m.content, m.source, m.from_id,
		       m.target_type, m.target_user_id, m.target_group_id, m.created_at,
		       u.id, u.name, u.image, u.last_seen_at
		FROM messages m
		JOIN users u ON u.id = m.from_id`

	var rows *sql.Rows
	var err error
	if target.Type() == domain.TargetUser {
		rows, err = s.db.QueryContext(ctx, selectMessage+`
			WHERE m.target_type = 'User'
			  AND ((m.from_id = $1 AND m.target_user_id = $2) OR
			       (m.from_id = $2 AND m.target_user_id = $1))
			ORDER BY m.created_at DESC
			LIMIT $3`, userID, target.ID(), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectMessage+`
			WHERE m.target_type = 'Group' AND m.target_group_id = $1
			ORDER BY m.created_at DESC
			LIMIT $2`, target.ID(), limit)
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "list messages", Err: err}
	}
	defer rows.Close()

	var messages []domain.MessageWithSender
	for rows.Next() {
		var (
			m             domain.MessageWithSender
			targetType    domain.TargetType
			targetUserID  uuid.NullUUID
			targetGroupID uuid.NullUUID
		)
		if err := rows.Scan(&m.ID, &m.Content, &m.Source, &m.FromID,
			&targetType, &targetUserID, &targetGroupID, &m.CreatedAt,
			&m.From.ID, &m.From.Name, &m.From.Image, &m.From.LastSeenAt); err != nil {
			return nil, &domain.StorageError{Op: "scan message", Err: err}
		}
		msgTarget, err := domain.TargetFromColumns(targetType, targetUserID, targetGroupID)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan message", Err: err}
		}
		m.Message.Target = msgTarget
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list messages", Err: err}
	}

	// The query walks newest-first to honor the limit; flip back to
	// chronological for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead zeroes the unread counter for one ledger row. Idempotent; a user
// with no such conversation yet is a no-op.
func (s *Store) MarkRead(ctx context.Context, userID uuid.UUID, target domain.Target) error {
	var query string
	if target.Type() == domain.TargetUser {
		query = `UPDATE conversations SET unread_count = 0
			WHERE user_id = $1 AND target_type = 'User' AND target_user_id = $2`
	} else {
		query = `UPDATE conversations SET unread_count = 0
			WHERE user_id = $1 AND target_type = 'Group' AND target_group_id = $2`
	}
	if _, err := s.db.ExecContext(ctx, query, userID, target.ID()); err != nil {
		return &domain.StorageError{Op: "mark read", Err: err}
	}
	return nil
}

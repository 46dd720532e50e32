// Package dispatcher is the core send path: it validates and authorizes a
// message, records it together with every affected participant's ledger row
// in one transaction, and broadcasts it to live subscribers after commit.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"parley/internal/broker"
	"parley/internal/domain"
	"parley/internal/repository"
)

// MaxContentLength bounds message content, counted in runes.
const MaxContentLength = 1000

// Store is the slice of the persistence layer the dispatcher needs.
type Store interface {
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Group(ctx context.Context, id uuid.UUID) (*domain.Group, error)
	IsGroupMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	GroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error)
	CreateMessage(ctx context.Context, msg *domain.Message, recipients []uuid.UUID) error
	Conversations(ctx context.Context, userID uuid.UUID) ([]repository.ConversationRow, error)
	Messages(ctx context.Context, userID uuid.UUID, target domain.Target, limit int) ([]domain.MessageWithSender, error)
	MarkRead(ctx context.Context, userID uuid.UUID, target domain.Target) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Journal interface {
	Append(payload []byte) error
}

type Dispatcher struct {
	store     Store
	publisher Publisher
	journal   Journal
	now       func() time.Time
}

func New(store Store, publisher Publisher, journal Journal) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		journal:   journal,
		now:       time.Now,
	}
}

// SendMessage persists a user message and fans it out. Success means the
// transaction committed; live delivery is best-effort on top of that.
func (d *Dispatcher) SendMessage(ctx context.Context, senderID uuid.UUID, target domain.Target, content string) (*domain.MessageEvent, error) {
	return d.send(ctx, senderID, target, content, domain.SourceUser)
}

// SystemMessage records a system announcement (group created, members added)
// through the same transactional path as a user message.
func (d *Dispatcher) SystemMessage(ctx context.Context, actorID uuid.UUID, target domain.Target, content string) (*domain.MessageEvent, error) {
	return d.send(ctx, actorID, target, content, domain.SourceSystem)
}

func (d *Dispatcher) send(ctx context.Context, senderID uuid.UUID, target domain.Target, content string, source domain.MessageSource) (*domain.MessageEvent, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(content); n < 1 || n > MaxContentLength {
		return nil, fmt.Errorf("%w: content length %d not in [1, %d]", domain.ErrValidation, n, MaxContentLength)
	}

	sender, err := d.store.User(ctx, senderID)
	if err != nil {
		return nil, err
	}

	var (
		recipients []uuid.UUID
		targetUser *domain.User
		group      *domain.Group
		members    []domain.User
	)
	switch target.Type() {
	case domain.TargetUser:
		targetUser, err = d.store.User(ctx, target.ID())
		if err != nil {
			return nil, err
		}
		if targetUser.ID != senderID {
			recipients = []uuid.UUID{targetUser.ID}
		}
	case domain.TargetGroup:
		member, err := d.store.IsGroupMember(ctx, target.ID(), senderID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, fmt.Errorf("%w: sender %s is not in group %s", domain.ErrForbidden, senderID, target.ID())
		}
		group, err = d.store.Group(ctx, target.ID())
		if err != nil {
			return nil, err
		}
		members, err = d.store.GroupMembers(ctx, target.ID())
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.ID != senderID {
				recipients = append(recipients, m.ID)
			}
		}
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		Content:   content,
		Source:    source,
		FromID:    senderID,
		Target:    target,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.CreateMessage(ctx, msg, recipients); err != nil {
		return nil, err
	}

	event := d.buildEvent(msg, sender, targetUser, group, members)
	d.broadcast(ctx, event)
	return event, nil
}

// broadcast runs strictly after commit. Failures are logged, never surfaced:
// a missed live delivery is recovered by the client's next history fetch.
func (d *Dispatcher) broadcast(ctx context.Context, event *domain.MessageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("marshal message event %s: %v", event.ID, err)
		return
	}
	if err := d.publisher.Publish(ctx, broker.ChannelChatMessages, payload); err != nil {
		log.Printf("publish message event %s: %v", event.ID, err)
	}
	if d.journal != nil {
		if err := d.journal.Append(payload); err != nil {
			log.Printf("journal message event %s: %v", event.ID, err)
		}
	}
}

func (d *Dispatcher) buildEvent(msg *domain.Message, sender *domain.User, targetUser *domain.User, group *domain.Group, members []domain.User) *domain.MessageEvent {
	now := d.now()
	event := &domain.MessageEvent{
		ID:         msg.ID,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
		Source:     msg.Source,
		FromID:     msg.FromID,
		From:       domain.WithOnline(*sender, now),
		TargetType: msg.Target.Type(),
	}
	switch msg.Target.Type() {
	case domain.TargetUser:
		id := msg.Target.ID()
		event.TargetUserID = &id
		online := domain.WithOnline(*targetUser, now)
		event.TargetUser = &online
	case domain.TargetGroup:
		id := msg.Target.ID()
		event.TargetGroupID = &id
		event.TargetGroup = &domain.GroupWithMembers{
			Group: *group,
			Users: domain.WithOnlineAll(members, now),
		}
	}
	return event
}

// Conversations returns the user's ledger rows decorated with presence,
// newest-first.
func (d *Dispatcher) Conversations(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	rows, err := d.store.Conversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	summaries := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := domain.ConversationSummary{
			TargetType:  row.Target.Type(),
			LastMessage: row.LastMessage,
			UnreadCount: row.UnreadCount,
		}
		switch row.Target.Type() {
		case domain.TargetUser:
			id := row.Target.ID()
			summary.TargetUserID = &id
			if row.TargetUser != nil {
				online := domain.WithOnline(*row.TargetUser, now)
				summary.TargetUser = &online
			}
		case domain.TargetGroup:
			id := row.Target.ID()
			summary.TargetGroupID = &id
			if row.TargetGroup != nil {
				users := domain.WithOnlineAll(row.Members, now)
				summary.TargetGroup = &domain.OnlineGroup{
					GroupWithMembers: domain.GroupWithMembers{Group: *row.TargetGroup, Users: users},
					IsOnline:         domain.GroupOnline(users, userID, now),
				}
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// DefaultHistoryLimit caps history fetches when the caller does not say.
const DefaultHistoryLimit = 100

// History returns chronological history with the target and senders hydrated,
// and marks the conversation read for the caller. The read receipt as a side
// effect of fetching is deliberate: viewing history is what "reading" means
// here.
func (d *Dispatcher) History(ctx context.Context, userID uuid.UUID, target domain.Target, limit int) ([]domain.MessageEvent, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	var (
		targetUser *domain.User
		caller     *domain.User
		group      *domain.Group
		members    []domain.User
		err        error
	)
	switch target.Type() {
	case domain.TargetUser:
		targetUser, err = d.store.User(ctx, target.ID())
		if err != nil {
			return nil, err
		}
		caller, err = d.store.User(ctx, userID)
		if err != nil {
			return nil, err
		}
	case domain.TargetGroup:
		member, err := d.store.IsGroupMember(ctx, target.ID(), userID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, fmt.Errorf("%w: user %s is not in group %s", domain.ErrForbidden, userID, target.ID())
		}
		group, err = d.store.Group(ctx, target.ID())
		if err != nil {
			return nil, err
		}
		members, err = d.store.GroupMembers(ctx, target.ID())
		if err != nil {
			return nil, err
		}
	}

	messages, err := d.store.Messages(ctx, userID, target, limit)
	if err != nil {
		return nil, err
	}

	events := make([]domain.MessageEvent, len(messages))
	for i, m := range messages {
		sender := m.From
		// A direct thread mixes both directions: messages the caller
		// sent point at the conversation target, the rest point back at
		// the caller. The hydrated user must match each message's own
		// target id.
		hydrated := targetUser
		if target.Type() == domain.TargetUser && m.Target.ID() == userID {
			hydrated = caller
		}
		events[i] = *d.buildEvent(&m.Message, &sender, hydrated, group, members)
	}

	if err := d.store.MarkRead(ctx, userID, target); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkRead zeroes the caller's unread counter for one conversation.
// Idempotent.
func (d *Dispatcher) MarkRead(ctx context.Context, userID uuid.UUID, target domain.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	return d.store.MarkRead(ctx, userID, target)
}

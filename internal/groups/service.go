// Package groups covers group lifecycle: creation with a seeded system
// message, membership growth announced through the normal send path, and
// member listings decorated with presence.
package groups

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain"
)

const MaxNameLength = 100

type Store interface {
	User(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UsersByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.User, error)
	Group(ctx context.Context, id uuid.UUID) (*domain.Group, error)
	GroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error)
	IsGroupMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	GroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.User, error)
	CreateGroup(ctx context.Context, group *domain.Group, creatorID uuid.UUID, memberIDs []uuid.UUID, seed *domain.Message) error
	AddGroupMembers(ctx context.Context, groupID uuid.UUID, userIDs []uuid.UUID) error
}

// Announcer posts system messages into a group. Satisfied by the dispatcher.
type Announcer interface {
	SystemMessage(ctx context.Context, actorID uuid.UUID, target domain.Target, content string) (*domain.MessageEvent, error)
}

type Service struct {
	store     Store
	announcer Announcer
	now       func() time.Time
}

func New(store Store, announcer Announcer) *Service {
	return &Service{store: store, announcer: announcer, now: time.Now}
}

// Create makes a new group containing the creator plus the given members and
// seeds it with a system message. The seed message also plants unread ledger
// rows so the group shows up in every member's conversation list immediately.
func (s *Service) Create(ctx context.Context, creatorID uuid.UUID, name string, memberIDs []uuid.UUID) (*domain.GroupWithMembers, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: group name must be between 1 and %d characters", domain.ErrValidation, MaxNameLength)
	}
	if len(memberIDs) == 0 {
		return nil, fmt.Errorf("%w: a group needs at least one member besides the creator", domain.ErrValidation)
	}

	creator, err := s.store.User(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	members := dedup(append([]uuid.UUID{creatorID}, memberIDs...))
	found, err := s.store.UsersByID(ctx, members)
	if err != nil {
		return nil, err
	}
	for _, id := range members {
		if _, ok := found[id]; !ok {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
	}

	now := s.now().UTC()
	group := &domain.Group{
		ID:   uuid.New(),
		Name: name,
	}
	seed := &domain.Message{
		ID:        uuid.New(),
		Content:   fmt.Sprintf("Group created by %s", creator.Name),
		Source:    domain.SourceSystem,
		FromID:    creatorID,
		Target:    domain.GroupTarget(group.ID),
		CreatedAt: now,
	}
	if err := s.store.CreateGroup(ctx, group, creatorID, members, seed); err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(members))
	for _, id := range members {
		users = append(users, found[id])
	}
	return &domain.GroupWithMembers{
		Group: *group,
		Users: domain.WithOnlineAll(users, now),
	}, nil
}

// AddUsers grows the group membership and announces the newcomers to everyone
// through a system message, which also bumps their unread counters.
func (s *Service) AddUsers(ctx context.Context, actorID, groupID uuid.UUID, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: no users to add", domain.ErrValidation)
	}
	member, err := s.store.IsGroupMember(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: not a member of group %s", domain.ErrForbidden, groupID)
	}

	userIDs = dedup(userIDs)
	found, err := s.store.UsersByID(ctx, userIDs)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
	}

	if err := s.store.AddGroupMembers(ctx, groupID, userIDs); err != nil {
		return err
	}

	names := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		names = append(names, found[id].Name)
	}
	actor, err := s.store.User(ctx, actorID)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("%s added %s to the group", actor.Name, strings.Join(names, ", "))
	if _, err := s.announcer.SystemMessage(ctx, actorID, domain.GroupTarget(groupID), content); err != nil {
		// Membership already committed; the announcement is best effort.
		log.Printf("announce new members in group %s: %v", groupID, err)
	}
	return nil
}

// List returns the caller's groups with their member rosters. A group counts
// as online when any member other than the viewer is online.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]domain.OnlineGroup, error) {
	groups, err := s.store.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.OnlineGroup, 0, len(groups))
	for _, g := range groups {
		members, err := s.store.GroupMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		users := domain.WithOnlineAll(members, now)
		out = append(out, domain.OnlineGroup{
			GroupWithMembers: domain.GroupWithMembers{Group: g, Users: users},
			IsOnline:         domain.GroupOnline(users, userID, now),
		})
	}
	return out, nil
}

// Members lists a group's roster. Only members may look.
func (s *Service) Members(ctx context.Context, userID, groupID uuid.UUID) ([]domain.OnlineUser, error) {
	member, err := s.store.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fmt.Errorf("%w: not a member of group %s", domain.ErrForbidden, groupID)
	}
	members, err := s.store.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return domain.WithOnlineAll(members, s.now()), nil
}

func dedup(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

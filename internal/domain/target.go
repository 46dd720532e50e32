package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type TargetType string

const (
	TargetUser  TargetType = "User"
	TargetGroup TargetType = "Group"
)

// Target identifies the other side of a conversation: either a single user or
// a group. The fields are private so a mismatched tag or a missing id cannot
// be constructed; the zero value is invalid and rejected by Validate.
type Target struct {
	kind TargetType
	id   uuid.UUID
}

func UserTarget(id uuid.UUID) Target {
	return Target{kind: TargetUser, id: id}
}

func GroupTarget(id uuid.UUID) Target {
	return Target{kind: TargetGroup, id: id}
}

func (t Target) Type() TargetType { return t.kind }
func (t Target) ID() uuid.UUID    { return t.id }

func (t Target) Validate() error {
	if t.kind != TargetUser && t.kind != TargetGroup {
		return fmt.Errorf("%w: unknown target type %q", ErrValidation, t.kind)
	}
	if t.id == uuid.Nil {
		return fmt.Errorf("%w: missing target id", ErrValidation)
	}
	return nil
}

// ParseTarget builds a Target from wire input (a type discriminator plus an
// id string).
func ParseTarget(targetType, id string) (Target, error) {
	kind := TargetType(targetType)
	if kind != TargetUser && kind != TargetGroup {
		return Target{}, fmt.Errorf("%w: unknown target type %q", ErrValidation, targetType)
	}
	parsed, err := uuid.Parse(id)
	if err != nil || parsed == uuid.Nil {
		return Target{}, fmt.Errorf("%w: invalid target id %q", ErrValidation, id)
	}
	return Target{kind: kind, id: parsed}, nil
}

// TargetFromColumns rebuilds a Target from the nullable sibling columns used
// by the store. Exactly one id must be set, matching the tag; anything else is
// a corrupt row.
func TargetFromColumns(targetType TargetType, userID, groupID uuid.NullUUID) (Target, error) {
	switch targetType {
	case TargetUser:
		if !userID.Valid || groupID.Valid {
			return Target{}, fmt.Errorf("target row tagged User with user=%v group=%v", userID.Valid, groupID.Valid)
		}
		return UserTarget(userID.UUID), nil
	case TargetGroup:
		if !groupID.Valid || userID.Valid {
			return Target{}, fmt.Errorf("target row tagged Group with user=%v group=%v", userID.Valid, groupID.Valid)
		}
		return GroupTarget(groupID.UUID), nil
	default:
		return Target{}, fmt.Errorf("unknown target type %q", targetType)
	}
}

// Columns splits the target into the nullable sibling columns for
// persistence.
func (t Target) Columns() (userID, groupID uuid.NullUUID) {
	switch t.kind {
	case TargetUser:
		userID = uuid.NullUUID{UUID: t.id, Valid: true}
	case TargetGroup:
		groupID = uuid.NullUUID{UUID: t.id, Valid: true}
	}
	return userID, groupID
}

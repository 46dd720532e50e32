package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

func ownerOrder(entries []ledgerEntry) []uuid.UUID {
	out := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		out[i] = e.owner
	}
	return out
}

func TestLedgerPlanCrossingSendsShareLockOrder(t *testing.T) {
	ana := uuid.New()
	bob := uuid.New()

	aToB := ledgerPlan(&domain.Message{FromID: ana, Target: domain.UserTarget(bob)}, []uuid.UUID{bob})
	bToA := ledgerPlan(&domain.Message{FromID: bob, Target: domain.UserTarget(ana)}, []uuid.UUID{ana})

	// Two crossing direct messages touch the same two ledger owners; both
	// transactions must visit them in the same sequence.
	assert.Equal(t, ownerOrder(aToB), ownerOrder(bToA))
}

func TestLedgerPlanRowSemantics(t *testing.T) {
	ana := uuid.New()
	bob := uuid.New()

	entries := ledgerPlan(&domain.Message{FromID: ana, Target: domain.UserTarget(bob)}, []uuid.UUID{bob})
	require.Len(t, entries, 2)

	for _, e := range entries {
		switch e.owner {
		case ana:
			// Sender's row is reset and keyed by the recipient.
			assert.True(t, e.reset)
			assert.Equal(t, domain.UserTarget(bob), e.target)
		case bob:
			// Recipient's row increments and is keyed by the sender.
			assert.False(t, e.reset)
			assert.Equal(t, domain.UserTarget(ana), e.target)
		default:
			t.Fatalf("unexpected ledger owner %s", e.owner)
		}
	}
}

func TestLedgerPlanGroupKeyedByGroup(t *testing.T) {
	sender := uuid.New()
	groupID := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	target := domain.GroupTarget(groupID)

	entries := ledgerPlan(&domain.Message{FromID: sender, Target: target}, members)
	require.Len(t, entries, len(members)+1)

	for i, e := range entries {
		assert.Equal(t, target, e.target)
		assert.Equal(t, e.owner == sender, e.reset)
		if i > 0 {
			assert.Less(t, string(entries[i-1].owner[:]), string(e.owner[:]))
		}
	}
}

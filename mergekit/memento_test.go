package mergekit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCaretakerReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryMementoCaretaker()
	m := &ResolutionMemento{
		ID:          "m-1",
		ResourceID:  "a.txt",
		Reasons:     []string{"first"},
		BeforeState: &ConflictState{Base: strPtr("base")},
	}
	require.NoError(t, c.Save(ctx, m))

	// Mutating the saved value must not reach the stored copy.
	m.Reasons[0] = "changed"
	*m.BeforeState.Base = "changed"

	got, err := c.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, got.Reasons)
	assert.Equal(t, "base", *got.BeforeState.Base)

	got.ResourceID = "tampered"
	again, err := c.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", again.ResourceID)
}

func TestMementoCriteriaMatches(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &ResolutionMemento{
		ConflictID:        "c-1",
		ResourceID:        "a.txt",
		UserID1:           "alice",
		UserID2:           "bob",
		RequestedStrategy: StrategyAutoMerge,
		AppliedStrategy:   StrategyLastWriteWins,
		Timestamp:         at,
	}

	var nilCriteria *MementoCriteria
	assert.True(t, nilCriteria.Matches(m))
	assert.True(t, (&MementoCriteria{UserID: "bob"}).Matches(m))
	assert.True(t, (&MementoCriteria{Strategy: StrategyLastWriteWins}).Matches(m))
	assert.True(t, (&MementoCriteria{FromTime: &at, ToTime: &at}).Matches(m))
	assert.False(t, (&MementoCriteria{SuccessOnly: true}).Matches(m))
	assert.False(t, (&MementoCriteria{ConflictID: "c-2"}).Matches(m))
	assert.False(t, (&MementoCriteria{FromTime: ptrTime(at.Add(time.Second))}).Matches(m))
}

func TestSortAndPaginate(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ms := []*ResolutionMemento{
		{ID: "b", Timestamp: at},
		{ID: "c", Timestamp: at.Add(-time.Second)},
		{ID: "a", Timestamp: at},
	}
	SortMementos(ms)
	assert.Equal(t, []string{"c", "a", "b"}, mementoIDs(ms))

	assert.Equal(t, []string{"a"}, mementoIDs(Paginate(ms, &MementoCriteria{Offset: 1, Limit: 1})))
	assert.Len(t, Paginate(ms, nil), 3)
	assert.Nil(t, Paginate(ms, &MementoCriteria{Offset: 3}))
}

func ptrTime(t time.Time) *time.Time { return &t }

func mementoIDs(ms []*ResolutionMemento) []string {
	var ids []string
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

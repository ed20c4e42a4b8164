// Package caretakertest holds a behavioural test suite shared by every
// mergekit.MementoCaretaker backend.
package caretakertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-merge-kit/mergekit"
)

// Start is the timestamp of the first seeded memento.
var Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Seed saves six mementos m-0..m-5, one minute apart. Conflict ids alternate
// between c-0 and c-1, resources cycle over file-0..file-2 and even
// attempts succeed.
func Seed(t *testing.T, c mergekit.MementoCaretaker) {
	t.Helper()
	base := "base"
	for i := 0; i < 6; i++ {
		m := &mergekit.ResolutionMemento{
			ID:                fmt.Sprintf("m-%d", i),
			Timestamp:         Start.Add(time.Duration(i) * time.Minute),
			ConflictID:        fmt.Sprintf("c-%d", i%2),
			ResourceID:        fmt.Sprintf("file-%d.txt", i%3),
			ResourceType:      mergekit.ResourceFile,
			ConflictType:      mergekit.TypeContent,
			Severity:          mergekit.SeverityLow,
			UserID1:           "alice",
			UserID2:           fmt.Sprintf("user-%d", i),
			RequestedStrategy: mergekit.StrategyAutoMerge,
			AppliedStrategy:   mergekit.StrategyAutoMerge,
			Success:           i%2 == 0,
			Attempt:           i + 1,
			Reasons:           []string{"seeded"},
			BeforeState:       &mergekit.ConflictState{Base: &base, Ours: "o", Theirs: "t"},
			AfterState:        &mergekit.ConflictState{Ours: "o", Theirs: "t", Resolved: true, Resolution: "r"},
		}
		if i == 5 {
			m.RequestedStrategy = mergekit.StrategyAutoMerge
			m.AppliedStrategy = mergekit.StrategyLastWriteWins
			m.Fallback = true
		}
		require.NoError(t, c.Save(context.Background(), m))
	}
}

// Run exercises newCaretaker against the MementoCaretaker contract. Each
// subtest gets a fresh, empty caretaker.
func Run(t *testing.T, newCaretaker func(t *testing.T) mergekit.MementoCaretaker) {
	ctx := context.Background()

	t.Run("Get round trips", func(t *testing.T) {
		c := newCaretaker(t)
		Seed(t, c)

		m, err := c.Get(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, "file-1.txt", m.ResourceID)
		assert.Equal(t, "user-1", m.UserID2)
		assert.True(t, m.Timestamp.Equal(Start.Add(time.Minute)))
		require.NotNil(t, m.BeforeState)
		require.NotNil(t, m.BeforeState.Base)
		assert.Equal(t, "base", *m.BeforeState.Base)
		assert.Equal(t, "r", m.AfterState.Resolution)
	})

	t.Run("Get unknown", func(t *testing.T) {
		c := newCaretaker(t)
		_, err := c.Get(ctx, "nope")
		assert.True(t, errors.Is(err, mergekit.ErrMementoNotFound))
	})

	t.Run("Save rejects empty id", func(t *testing.T) {
		c := newCaretaker(t)
		assert.Error(t, c.Save(ctx, &mergekit.ResolutionMemento{}))
	})

	tests := []struct {
		name     string
		criteria *mergekit.MementoCriteria
		want     []string
	}{
		{"nil criteria", nil, []string{"m-0", "m-1", "m-2", "m-3", "m-4", "m-5"}},
		{"by resource", &mergekit.MementoCriteria{ResourceID: "file-0.txt"}, []string{"m-0", "m-3"}},
		{"by conflict", &mergekit.MementoCriteria{ConflictID: "c-1"}, []string{"m-1", "m-3", "m-5"}},
		{"by either user", &mergekit.MementoCriteria{UserID: "user-4"}, []string{"m-4"}},
		{"by first user", &mergekit.MementoCriteria{UserID: "alice", Limit: 2}, []string{"m-0", "m-1"}},
		{"success only", &mergekit.MementoCriteria{SuccessOnly: true}, []string{"m-0", "m-2", "m-4"}},
		{"by applied strategy", &mergekit.MementoCriteria{Strategy: mergekit.StrategyLastWriteWins}, []string{"m-5"}},
		{"by unused strategy", &mergekit.MementoCriteria{Strategy: mergekit.StrategyManual}, nil},
		{"time window", &mergekit.MementoCriteria{
			FromTime: ptrTime(Start.Add(2 * time.Minute)),
			ToTime:   ptrTime(Start.Add(3 * time.Minute)),
		}, []string{"m-2", "m-3"}},
		{"limit and offset", &mergekit.MementoCriteria{Offset: 1, Limit: 2}, []string{"m-1", "m-2"}},
		{"offset only", &mergekit.MementoCriteria{Offset: 4}, []string{"m-4", "m-5"}},
		{"offset past end", &mergekit.MementoCriteria{Offset: 10}, nil},
	}

	t.Run("List", func(t *testing.T) {
		c := newCaretaker(t)
		Seed(t, c)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := c.List(ctx, tt.criteria)
				require.NoError(t, err)
				assert.Equal(t, tt.want, IDs(got))
			})
		}
	})

	t.Run("audit trail", func(t *testing.T) {
		c := newCaretaker(t)
		Seed(t, c)
		trail, err := c.GetAuditTrail(ctx, "file-2.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{"m-2", "m-5"}, IDs(trail))
	})

	t.Run("delete", func(t *testing.T) {
		c := newCaretaker(t)
		Seed(t, c)
		require.NoError(t, c.Delete(ctx, "m-0"))
		assert.True(t, errors.Is(c.Delete(ctx, "m-0"), mergekit.ErrMementoNotFound))
		_, err := c.Get(ctx, "m-0")
		assert.Error(t, err)

		all, err := c.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})
}

// IDs returns the ids of ms in order.
func IDs(ms []*mergekit.ResolutionMemento) []string {
	var ids []string
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

func ptrTime(t time.Time) *time.Time { return &t }

package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLines(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		other     string
		added     []Line
		removed   []Line
		unchanged int
	}{
		{
			name:      "identical",
			base:      "a\nb",
			other:     "a\nb",
			unchanged: 2,
		},
		{
			name:      "positional replace",
			base:      "a\nb\nc",
			other:     "a\nB\nc",
			added:     []Line{{Number: 1, Content: "B"}},
			removed:   []Line{{Number: 1, Content: "b"}},
			unchanged: 2,
		},
		{
			name:      "appended lines",
			base:      "a",
			other:     "a\nb\nc",
			added:     []Line{{Number: 1, Content: "b"}, {Number: 2, Content: "c"}},
			unchanged: 1,
		},
		{
			name:      "truncated lines",
			base:      "a\nb\nc",
			other:     "a",
			removed:   []Line{{Number: 1, Content: "b"}, {Number: 2, Content: "c"}},
			unchanged: 1,
		},
		{
			name:    "empty other is one empty line",
			base:    "a",
			other:   "",
			added:   []Line{{Number: 0, Content: ""}},
			removed: []Line{{Number: 0, Content: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Lines(tt.base, tt.other)
			assert.Equal(t, tt.added, r.Added)
			assert.Equal(t, tt.removed, r.Removed)
			assert.Len(t, r.Unchanged, tt.unchanged)
		})
	}
}

func TestLinesInsertionShiftsEverything(t *testing.T) {
	// Positional alignment: a line inserted at the top marks every later
	// line as changed. Sequences does not.
	base := "a\nb\nc"
	other := "x\na\nb\nc"

	positional := Lines(base, other)
	assert.Equal(t, 7, positional.Changes())

	sequence := Sequences(base, other)
	assert.Equal(t, []Line{{Number: 0, Content: "x"}}, sequence.Added)
	assert.Empty(t, sequence.Removed)
	assert.Len(t, sequence.Unchanged, 3)
}

func TestLinesDeterministic(t *testing.T) {
	base := "one\ntwo\nthree\nfour"
	other := "one\n2\nthree\nfour\nfive"
	first := Lines(base, other)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Lines(base, other))
	}
}

func TestChangedIndices(t *testing.T) {
	r := Lines("a\nb\nc", "A\nb\nc\nd")
	idx := ChangedIndices(r)
	assert.Len(t, idx, 2)
	assert.Contains(t, idx, 0)
	assert.Contains(t, idx, 3)
}

func TestFor(t *testing.T) {
	assert.Equal(t, 1, For(Sequence)("a\nb", "z\na\nb").Changes())
	assert.Equal(t, 5, For(Positional)("a\nb", "z\na\nb").Changes())
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{"": Positional, "POSITIONAL": Positional, "lcs": Sequence, "sequence": Sequence} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAlgorithm("myers")
	assert.Error(t, err)
}

package mergekit

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-merge-kit/diff"
)

// numbered returns n lines "line0".."line<n-1>".
func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("line%d", i)
	}
	return out
}

// rewrite replaces the lines at idx with tagged content and appends extra
// lines.
func rewrite(base []string, tag string, idx []int, extra ...string) string {
	out := append([]string(nil), base...)
	for _, i := range idx {
		out[i] = fmt.Sprintf("%s%d", tag, i)
	}
	out = append(out, extra...)
	return strings.Join(out, "\n")
}

func strPtr(s string) *string { return &s }

func TestClassifySeverity(t *testing.T) {
	ten := numbered(10)
	baseTen := strings.Join(ten, "\n")

	tests := []struct {
		name   string
		base   *string
		ours   string
		theirs string
		want   Severity
	}{
		{
			name:   "one changed line per side is low",
			base:   strPtr("a\nb\nc"),
			ours:   "a\nX\nc",
			theirs: "a\nb\nY",
			want:   SeverityLow,
		},
		{
			name:   "five changes is medium",
			base:   &baseTen,
			ours:   rewrite(ten, "o", []int{0, 1}),
			theirs: rewrite(ten, "t", nil, "appended"),
			want:   SeverityMedium,
		},
		{
			name:   "nineteen changes is medium",
			base:   &baseTen,
			ours:   rewrite(ten, "o", []int{0, 1, 2, 3, 4}),
			theirs: rewrite(ten, "t", []int{5, 6, 7, 8}, "appended"),
			want:   SeverityMedium,
		},
		{
			name:   "twenty changes is high",
			base:   &baseTen,
			ours:   rewrite(ten, "o", []int{0, 1, 2, 3, 4}),
			theirs: rewrite(ten, "t", []int{5, 6, 7, 8, 9}),
			want:   SeverityHigh,
		},
		{
			name:   "missing base is high",
			ours:   "a",
			theirs: "b",
			want:   SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(diff.Lines, tt.base, tt.ours, tt.theirs))
		})
	}
}

func TestClassifySeverityNilDifferIsPositional(t *testing.T) {
	base := "a\nb\nc"
	assert.Equal(t, SeverityMedium, ClassifySeverity(nil, &base, "x\na\nb\nc", "a\nb\nc\ny"))
	assert.Equal(t, SeverityLow, ClassifySeverity(diff.Sequences, &base, "x\na\nb\nc", "a\nb\nc\ny"))
}

func TestClassifyType(t *testing.T) {
	assert.Equal(t, TypeContent, ClassifyType("a", "b"))
	assert.Equal(t, TypeDelete, ClassifyType("", "b"))
	assert.Equal(t, TypeDelete, ClassifyType("a", ""))
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityLow.AtMost(SeverityLow))
	assert.True(t, SeverityLow.AtMost(SeverityCritical))
	assert.True(t, SeverityHigh.AtMost(SeverityCritical))
	assert.False(t, SeverityMedium.AtMost(SeverityLow))
	assert.False(t, SeverityCritical.AtMost(SeverityHigh))
	assert.False(t, Severity("extreme").AtMost(SeverityCritical))

	sev, err := ParseSeverity(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, sev)

	_, err = ParseSeverity("extreme")
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"auto_merge":       StrategyAutoMerge,
		"AUTO_MERGE":       StrategyAutoMerge,
		"last-write-wins":  StrategyLastWriteWins,
		"lww":              StrategyLastWriteWins,
		"First_Write_Wins": StrategyFirstWriteWins,
		"ours":             StrategyAcceptOurs,
		"accept_theirs":    StrategyAcceptTheirs,
		"combine_both":     StrategyCombineBoth,
		"manual":           StrategyManual,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStrategy("coin_flip")
	assert.Error(t, err)
}

// Package diff computes line-level differences between two text blobs.
//
// The default algorithm is positional: line i of one version is compared with
// line i of the other. Sequence uses a longest-matching-block matcher instead,
// so a single inserted line does not mark every following line as changed.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Algorithm selects how two versions are aligned before comparison.
type Algorithm string

const (
	Positional Algorithm = "positional"
	Sequence   Algorithm = "sequence"
)

// ParseAlgorithm accepts the names used in policy files.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "positional", "index":
		return Positional, nil
	case "sequence", "lcs":
		return Sequence, nil
	default:
		return "", fmt.Errorf("unknown diff algorithm: %q", s)
	}
}

// Line is a single line and its zero-based position in the version it came from.
type Line struct {
	Number  int    `json:"line"`
	Content string `json:"content"`
}

// Result holds the three classifications of a comparison. Added lines are
// numbered in the other version, Removed and Unchanged lines in the base.
type Result struct {
	Added     []Line `json:"added"`
	Removed   []Line `json:"removed"`
	Unchanged []Line `json:"unchanged"`
}

// Changes is the number of added plus removed lines.
func (r Result) Changes() int {
	return len(r.Added) + len(r.Removed)
}

// Differ compares a base text with another version of it.
type Differ func(base, other string) Result

// For returns the Differ implementing a.
func For(a Algorithm) Differ {
	if a == Sequence {
		return Sequences
	}
	return Lines
}

// Split breaks text into lines on "\n". An empty text is a single empty line.
func Split(text string) []string {
	return strings.Split(text, "\n")
}

// Join is the inverse of Split.
func Join(lines []string) string {
	return strings.Join(lines, "\n")
}

// Lines compares base and other position by position. A line present in both
// but different is reported as removed and added at the same index.
func Lines(base, other string) Result {
	a, b := Split(base), Split(other)
	n := max(len(a), len(b))

	var r Result
	for i := 0; i < n; i++ {
		switch {
		case i >= len(a):
			r.Added = append(r.Added, Line{Number: i, Content: b[i]})
		case i >= len(b):
			r.Removed = append(r.Removed, Line{Number: i, Content: a[i]})
		case a[i] == b[i]:
			r.Unchanged = append(r.Unchanged, Line{Number: i, Content: a[i]})
		default:
			r.Removed = append(r.Removed, Line{Number: i, Content: a[i]})
			r.Added = append(r.Added, Line{Number: i, Content: b[i]})
		}
	}
	return r
}

// Sequences compares base and other using matching blocks, so inserted or
// deleted lines do not shift the rest of the comparison.
func Sequences(base, other string) Result {
	a, b := Split(base), Split(other)

	var r Result
	for _, op := range opcodes(a, b) {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				r.Unchanged = append(r.Unchanged, Line{Number: i, Content: a[i]})
			}
		case 'r', 'd', 'i':
			for i := op.I1; i < op.I2; i++ {
				r.Removed = append(r.Removed, Line{Number: i, Content: a[i]})
			}
			for j := op.J1; j < op.J2; j++ {
				r.Added = append(r.Added, Line{Number: j, Content: b[j]})
			}
		}
	}
	return r
}

// ChangedIndices returns the set of line numbers touched by r, added or removed.
func ChangedIndices(r Result) map[int]struct{} {
	idx := make(map[int]struct{}, len(r.Added)+len(r.Removed))
	for _, l := range r.Added {
		idx[l.Number] = struct{}{}
	}
	for _, l := range r.Removed {
		idx[l.Number] = struct{}{}
	}
	return idx
}

func opcodes(a, b []string) []difflib.OpCode {
	// autojunk would treat frequent lines (blank lines, braces) as noise
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	return m.GetOpCodes()
}

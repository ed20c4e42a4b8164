package mergekit

import (
	"context"
	"fmt"
	"sort"

	"github.com/c0deZ3R0/go-merge-kit/diff"
	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
)

var (
	_ StrategyResolver = (*LastWriteWinsResolver)(nil)
	_ StrategyResolver = (*FirstWriteWinsResolver)(nil)
	_ StrategyResolver = (*AcceptOursResolver)(nil)
	_ StrategyResolver = (*AcceptTheirsResolver)(nil)
	_ StrategyResolver = (*CombineBothResolver)(nil)
	_ StrategyResolver = (*ManualResolver)(nil)
	_ StrategyResolver = (*AutoMergeResolver)(nil)
)

// combineSeparator sits between ours and theirs in a combined resolution.
const combineSeparator = "\n\n"

// LastWriteWinsResolver keeps theirs, the edit that arrived second.
type LastWriteWinsResolver struct{}

func (r *LastWriteWinsResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	return Resolution{Content: in.Conflict.Theirs, Reasons: []string{"theirs is the later write"}}, nil
}

// FirstWriteWinsResolver keeps ours, the edit that arrived first.
type FirstWriteWinsResolver struct{}

func (r *FirstWriteWinsResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	return Resolution{Content: in.Conflict.Ours, Reasons: []string{"ours is the earlier write"}}, nil
}

type AcceptOursResolver struct{}

func (r *AcceptOursResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	return Resolution{Content: in.Conflict.Ours, Reasons: []string{"accepted ours"}}, nil
}

type AcceptTheirsResolver struct{}

func (r *AcceptTheirsResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	return Resolution{Content: in.Conflict.Theirs, Reasons: []string{"accepted theirs"}}, nil
}

// CombineBothResolver keeps both edits, ours first, separated by a blank line.
type CombineBothResolver struct{}

func (r *CombineBothResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	return Resolution{
		Content: in.Conflict.Ours + combineSeparator + in.Conflict.Theirs,
		Reasons: []string{"combined ours and theirs"},
	}, nil
}

// ManualResolver uses caller-supplied text verbatim.
type ManualResolver struct{}

func (r *ManualResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	if in.Manual == nil {
		return Resolution{}, mergeErrors.NewManualRequiredError(mergeErrors.OpResolve, in.Conflict.ID)
	}
	return Resolution{Content: *in.Manual, Reasons: []string{"manual resolution"}}, nil
}

// AutoMergeResolver performs a three-way merge against base. It fails with
// ErrAutoMergeFailed when both sides changed the same region.
type AutoMergeResolver struct{}

func (r *AutoMergeResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	c := in.Conflict
	if c.Base == nil {
		return Resolution{Content: c.Theirs, Reasons: []string{"no common ancestor, kept theirs"}}, nil
	}
	if in.Algorithm == diff.Sequence {
		return mergeHunks(*c.Base, c.Ours, c.Theirs)
	}
	return mergePositional(*c.Base, c.Ours, c.Theirs)
}

// mergePositional overlays each side's added lines on base by line index.
// Truncation is not carried over: base lines that a side removed without
// replacing survive the merge.
func mergePositional(base, ours, theirs string) (Resolution, error) {
	oursDiff := diff.Lines(base, ours)
	theirsDiff := diff.Lines(base, theirs)

	oursChanged := diff.ChangedIndices(oursDiff)
	var overlapping []int
	for idx := range diff.ChangedIndices(theirsDiff) {
		if _, ok := oursChanged[idx]; ok {
			overlapping = append(overlapping, idx)
		}
	}
	if len(overlapping) > 0 {
		sort.Ints(overlapping)
		return Resolution{}, mergeErrors.NewAutoMergeError(mergeErrors.OpMerge, overlapping)
	}

	lines := diff.Split(base)
	lines = overlay(lines, oursDiff.Added)
	lines = overlay(lines, theirsDiff.Added)

	return Resolution{
		Content: diff.Join(lines),
		Reasons: []string{fmt.Sprintf("merged %d line(s) from ours and %d from theirs", len(oursDiff.Added), len(theirsDiff.Added))},
	}, nil
}

func overlay(lines []string, added []diff.Line) []string {
	for _, l := range added {
		if l.Number < len(lines) {
			lines[l.Number] = l.Content
		} else {
			lines = append(lines, l.Content)
		}
	}
	return lines
}

// mergeHunks merges base-anchored hunks from both sides. Hunks made
// identically on both sides are applied once.
func mergeHunks(base, ours, theirs string) (Resolution, error) {
	baseLines := diff.Split(base)
	oursHunks := diff.Hunks(baseLines, diff.Split(ours))
	theirsHunks := diff.Hunks(baseLines, diff.Split(theirs))

	merged := append([]diff.Hunk(nil), oursHunks...)
	var overlapping []int
	shared := 0
	for _, t := range theirsHunks {
		duplicate := false
		for _, o := range oursHunks {
			if o.Equal(t) {
				duplicate = true
				break
			}
			if o.Overlaps(t) {
				overlapping = append(overlapping, t.BaseStart)
			}
		}
		if duplicate {
			shared++
			continue
		}
		merged = append(merged, t)
	}
	if len(overlapping) > 0 {
		sort.Ints(overlapping)
		return Resolution{}, mergeErrors.NewAutoMergeError(mergeErrors.OpMerge, overlapping)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].BaseStart != merged[j].BaseStart {
			return merged[i].BaseStart < merged[j].BaseStart
		}
		return merged[i].IsInsert() && !merged[j].IsInsert()
	})

	return Resolution{
		Content: diff.Join(diff.Apply(baseLines, merged)),
		Reasons: []string{fmt.Sprintf("merged %d hunk(s) from ours and %d from theirs", len(oursHunks), len(theirsHunks)-shared)},
	}, nil
}

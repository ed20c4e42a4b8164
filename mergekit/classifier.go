package mergekit

import "github.com/c0deZ3R0/go-merge-kit/diff"

// Change-count thresholds separating low, medium and high severity.
const (
	mediumSeverityThreshold = 5
	highSeverityThreshold   = 20
)

// ClassifySeverity rates a conflict by the total number of changed lines on
// both sides relative to base. Without a base the divergence cannot be
// measured and the conflict is high. Critical is never assigned here.
func ClassifySeverity(differ diff.Differ, base *string, ours, theirs string) Severity {
	if base == nil {
		return SeverityHigh
	}
	if differ == nil {
		differ = diff.Lines
	}

	total := differ(*base, ours).Changes() + differ(*base, theirs).Changes()
	switch {
	case total < mediumSeverityThreshold:
		return SeverityLow
	case total < highSeverityThreshold:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// ClassifyType returns TypeDelete when either side is empty, else TypeContent.
func ClassifyType(ours, theirs string) ConflictType {
	if ours == "" || theirs == "" {
		return TypeDelete
	}
	return TypeContent
}

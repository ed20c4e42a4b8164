// Package mergekit detects, classifies and resolves conflicting concurrent
// edits of the same resource.
//
// A Registry owns every Conflict it detects. Callers only ever see copies;
// the record itself changes exclusively through ResolveConflict and
// ClearResolvedConflicts. Content comparison is delegated to the diff
// package and strategy execution to an Executor.
package mergekit

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks how much two edits diverge.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of s in the low < medium < high < critical
// ordering, or -1 for an unknown severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtMost reports whether s is known and not above max.
func (s Severity) AtMost(max Severity) bool {
	r := s.Rank()
	return r >= 0 && r <= max.Rank()
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

// ParseSeverity accepts severities case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// ResourceType names the granularity of the conflicting resource.
type ResourceType string

const (
	ResourceFile      ResourceType = "file"
	ResourceComponent ResourceType = "component"
	ResourceLine      ResourceType = "line"
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceFile, ResourceComponent, ResourceLine:
		return true
	}
	return false
}

// ConflictType describes the kind of divergence. Detection only assigns
// TypeContent and TypeDelete; the rest are reserved for callers that
// construct richer conflicts themselves.
type ConflictType string

const (
	TypeContent    ConflictType = "content"
	TypeDelete     ConflictType = "delete"
	TypeRename     ConflictType = "rename"
	TypeMove       ConflictType = "move"
	TypeTypeChange ConflictType = "type_change"
)

// Strategy names a resolution policy.
type Strategy string

const (
	StrategyAutoMerge      Strategy = "auto_merge"
	StrategyLastWriteWins  Strategy = "last_write_wins"
	StrategyFirstWriteWins Strategy = "first_write_wins"
	StrategyAcceptOurs     Strategy = "accept_ours"
	StrategyAcceptTheirs   Strategy = "accept_theirs"
	StrategyCombineBoth    Strategy = "combine_both"
	StrategyManual         Strategy = "manual"
)

// AllStrategies lists the built-in strategies in declaration order.
var AllStrategies = []Strategy{
	StrategyAutoMerge,
	StrategyLastWriteWins,
	StrategyFirstWriteWins,
	StrategyAcceptOurs,
	StrategyAcceptTheirs,
	StrategyCombineBoth,
	StrategyManual,
}

var strategyAliases = map[string]Strategy{
	"lww":    StrategyLastWriteWins,
	"fww":    StrategyFirstWriteWins,
	"ours":   StrategyAcceptOurs,
	"theirs": StrategyAcceptTheirs,
	"merge":  StrategyAutoMerge,
	"both":   StrategyCombineBoth,
}

func (s Strategy) Valid() bool {
	for _, known := range AllStrategies {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStrategy accepts the canonical names in any case, with dashes or
// underscores, plus a few short aliases ("lww", "ours", ...).
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if st, ok := strategyAliases[norm]; ok {
		return st, nil
	}
	if st := Strategy(norm); st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown resolution strategy %q", s)
}

// Timestamp keys recorded in ConflictMetadata.Timestamps.
const (
	TimestampDetected    = "detected"
	TimestampLastAttempt = "last_attempt"
	TimestampResolved    = "resolved"
)

// ConflictMetadata is bookkeeping attached to a Conflict.
type ConflictMetadata struct {
	DetectedAt time.Time            `json:"detected_at"`
	UserID1    string               `json:"user_id_1"`
	UserID2    string               `json:"user_id_2"`
	Timestamps map[string]time.Time `json:"timestamps,omitempty"`
	Attempts   int                  `json:"attempts"`
	Severity   Severity             `json:"severity"`
}

// Conflict is a recorded divergence between two concurrent edits.
type Conflict struct {
	ID           string           `json:"id"`
	ResourceID   string           `json:"resource_id"`
	ResourceType ResourceType     `json:"resource_type"`
	Type         ConflictType     `json:"type"`
	Base         *string          `json:"base,omitempty"`
	Ours         string           `json:"ours"`
	Theirs       string           `json:"theirs"`
	Resolved     bool             `json:"resolved"`
	Resolution   string           `json:"resolution,omitempty"`
	Strategy     Strategy         `json:"strategy,omitempty"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
	Metadata     ConflictMetadata `json:"metadata"`
}

// Clone returns a deep copy of c.
func (c *Conflict) Clone() *Conflict {
	if c == nil {
		return nil
	}
	out := *c
	if c.Base != nil {
		base := *c.Base
		out.Base = &base
	}
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		out.ResolvedAt = &at
	}
	if c.Metadata.Timestamps != nil {
		out.Metadata.Timestamps = make(map[string]time.Time, len(c.Metadata.Timestamps))
		for k, v := range c.Metadata.Timestamps {
			out.Metadata.Timestamps[k] = v
		}
	}
	return &out
}

// ResolutionResult is the outcome of ResolveConflict. Success reports whether
// the requested strategy produced a resolution; Resolved is the content the
// caller should use either way.
type ResolutionResult struct {
	Success   bool       `json:"success"`
	Resolved  string     `json:"resolved"`
	Strategy  Strategy   `json:"strategy"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Reasons   []string   `json:"reasons,omitempty"`
}

// DetectRequest carries the two competing edits of one resource.
type DetectRequest struct {
	ResourceID   string       `json:"resource_id" mapstructure:"resource_id"`
	ResourceType ResourceType `json:"resource_type" mapstructure:"resource_type"`
	Base         *string      `json:"base,omitempty" mapstructure:"base"`
	Ours         string       `json:"ours" mapstructure:"ours"`
	Theirs       string       `json:"theirs" mapstructure:"theirs"`
	UserID1      string       `json:"user_id_1" mapstructure:"user_id_1"`
	UserID2      string       `json:"user_id_2" mapstructure:"user_id_2"`
}

func (r DetectRequest) validate() error {
	if strings.TrimSpace(r.ResourceID) == "" {
		return fmt.Errorf("resource id is required")
	}
	if !r.ResourceType.Valid() {
		return fmt.Errorf("unknown resource type %q", r.ResourceType)
	}
	return nil
}

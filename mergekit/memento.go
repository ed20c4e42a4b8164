package mergekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMementoNotFound is returned by caretakers for an unknown memento id.
var ErrMementoNotFound = errors.New("memento not found")

// ResolutionMemento records one resolution attempt, successful or not.
type ResolutionMemento struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	ConflictID   string       `json:"conflict_id"`
	ResourceID   string       `json:"resource_id"`
	ResourceType ResourceType `json:"resource_type"`
	ConflictType ConflictType `json:"conflict_type"`
	Severity     Severity     `json:"severity"`
	UserID1      string       `json:"user_id_1,omitempty"`
	UserID2      string       `json:"user_id_2,omitempty"`

	// RequestedStrategy is what the caller (or policy) asked for;
	// AppliedStrategy is what produced the content, which differs after a
	// fallback and is empty after a failure.
	RequestedStrategy Strategy `json:"requested_strategy"`
	AppliedStrategy   Strategy `json:"applied_strategy,omitempty"`
	Success           bool     `json:"success"`
	Fallback          bool     `json:"fallback,omitempty"`
	AutoResolution    bool     `json:"auto_resolution,omitempty"`
	Attempt           int      `json:"attempt"`
	Reasons           []string `json:"reasons,omitempty"`
	Error             string   `json:"error,omitempty"`

	ResolutionDuration time.Duration `json:"resolution_duration"`

	BeforeState *ConflictState `json:"before_state,omitempty"`
	AfterState  *ConflictState `json:"after_state,omitempty"`
}

// ConflictState is a snapshot of a conflict's content.
type ConflictState struct {
	Base       *string `json:"base,omitempty"`
	Ours       string  `json:"ours"`
	Theirs     string  `json:"theirs"`
	Resolved   bool    `json:"resolved"`
	Resolution string  `json:"resolution,omitempty"`
}

func stateOf(c *Conflict) *ConflictState {
	cp := c.Clone()
	return &ConflictState{
		Base:       cp.Base,
		Ours:       cp.Ours,
		Theirs:     cp.Theirs,
		Resolved:   cp.Resolved,
		Resolution: cp.Resolution,
	}
}

// MementoCaretaker stores resolution mementos.
type MementoCaretaker interface {
	// Save stores a resolution memento
	Save(ctx context.Context, memento *ResolutionMemento) error

	// Get retrieves a specific memento by ID
	Get(ctx context.Context, id string) (*ResolutionMemento, error)

	// List retrieves mementos matching criteria, oldest first
	List(ctx context.Context, criteria *MementoCriteria) ([]*ResolutionMemento, error)

	// Delete removes a memento
	Delete(ctx context.Context, id string) error

	// GetAuditTrail returns every memento for a resource, oldest first
	GetAuditTrail(ctx context.Context, resourceID string) ([]*ResolutionMemento, error)
}

// MementoCriteria defines search criteria for querying mementos. Zero
// fields do not filter.
type MementoCriteria struct {
	ConflictID  string     `json:"conflict_id,omitempty"`
	ResourceID  string     `json:"resource_id,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	Strategy    Strategy   `json:"strategy,omitempty"`
	SuccessOnly bool       `json:"success_only,omitempty"`
	FromTime    *time.Time `json:"from_time,omitempty"`
	ToTime      *time.Time `json:"to_time,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}

// Matches reports whether m satisfies every filter in c. Backends that
// cannot express a filter in their query language use it as a post-filter.
func (c *MementoCriteria) Matches(m *ResolutionMemento) bool {
	if c == nil {
		return true
	}
	if c.ConflictID != "" && m.ConflictID != c.ConflictID {
		return false
	}
	if c.ResourceID != "" && m.ResourceID != c.ResourceID {
		return false
	}
	if c.UserID != "" && m.UserID1 != c.UserID && m.UserID2 != c.UserID {
		return false
	}
	if c.Strategy != "" && m.RequestedStrategy != c.Strategy && m.AppliedStrategy != c.Strategy {
		return false
	}
	if c.SuccessOnly && !m.Success {
		return false
	}
	if c.FromTime != nil && m.Timestamp.Before(*c.FromTime) {
		return false
	}
	if c.ToTime != nil && m.Timestamp.After(*c.ToTime) {
		return false
	}
	return true
}

// NewMementoID returns a fresh memento id.
func NewMementoID() string { return uuid.NewString() }

// InMemoryMementoCaretaker keeps mementos in a map. It is the registry's
// default caretaker; use a storage backend for anything that must survive
// a restart.
type InMemoryMementoCaretaker struct {
	mu       sync.RWMutex
	mementos map[string]*ResolutionMemento
}

var _ MementoCaretaker = (*InMemoryMementoCaretaker)(nil)

// NewInMemoryMementoCaretaker creates a new in-memory memento caretaker.
func NewInMemoryMementoCaretaker() *InMemoryMementoCaretaker {
	return &InMemoryMementoCaretaker{
		mementos: make(map[string]*ResolutionMemento),
	}
}

func (c *InMemoryMementoCaretaker) Save(ctx context.Context, memento *ResolutionMemento) error {
	if memento == nil || memento.ID == "" {
		return fmt.Errorf("memento ID cannot be empty")
	}
	cp, err := copyMemento(memento)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.mementos[memento.ID] = cp
	c.mu.Unlock()
	return nil
}

func (c *InMemoryMementoCaretaker) Get(ctx context.Context, id string) (*ResolutionMemento, error) {
	c.mu.RLock()
	m, ok := c.mementos[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMementoNotFound, id)
	}
	return copyMemento(m)
}

func (c *InMemoryMementoCaretaker) List(ctx context.Context, criteria *MementoCriteria) ([]*ResolutionMemento, error) {
	c.mu.RLock()
	var results []*ResolutionMemento
	for _, m := range c.mementos {
		if criteria.Matches(m) {
			results = append(results, m)
		}
	}
	c.mu.RUnlock()

	SortMementos(results)
	results = Paginate(results, criteria)

	out := make([]*ResolutionMemento, 0, len(results))
	for _, m := range results {
		cp, err := copyMemento(m)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (c *InMemoryMementoCaretaker) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mementos[id]; !ok {
		return fmt.Errorf("%w: %s", ErrMementoNotFound, id)
	}
	delete(c.mementos, id)
	return nil
}

func (c *InMemoryMementoCaretaker) GetAuditTrail(ctx context.Context, resourceID string) ([]*ResolutionMemento, error) {
	return c.List(ctx, &MementoCriteria{ResourceID: resourceID})
}

// SortMementos orders mementos by timestamp, then id.
func SortMementos(ms []*ResolutionMemento) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Timestamp.Equal(ms[j].Timestamp) {
			return ms[i].Timestamp.Before(ms[j].Timestamp)
		}
		return ms[i].ID < ms[j].ID
	})
}

// Paginate applies criteria's offset and limit to an already sorted slice.
func Paginate(ms []*ResolutionMemento, criteria *MementoCriteria) []*ResolutionMemento {
	if criteria == nil {
		return ms
	}
	if criteria.Offset > 0 {
		if criteria.Offset >= len(ms) {
			return nil
		}
		ms = ms[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(ms) {
		ms = ms[:criteria.Limit]
	}
	return ms
}

// copyMemento deep copies through JSON so callers never share state.
func copyMemento(m *ResolutionMemento) (*ResolutionMemento, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize memento: %w", err)
	}
	var cp ResolutionMemento
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize memento: %w", err)
	}
	return &cp, nil
}

package mergekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/go-merge-kit/diff"
	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
	"github.com/c0deZ3R0/go-merge-kit/logging"
)

// DefaultBatchConcurrency bounds DetectBatch when WithBatchConcurrency is
// not given.
const DefaultBatchConcurrency = 8

// Hooks observe registry events after the state change is complete. They
// run on the calling goroutine and receive copies. Nil functions are
// skipped.
type Hooks struct {
	OnDetected func(ctx context.Context, conflict Conflict)
	OnResolved func(ctx context.Context, conflict Conflict, result ResolutionResult)
	OnFallback func(ctx context.Context, conflict Conflict, result ResolutionResult)
	OnError    func(ctx context.Context, conflictID string, err error)
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*Registry)

// WithOptions sets the initial policy.
func WithOptions(o Options) RegistryOption {
	return func(r *Registry) { r.opts = o }
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithCaretaker sets where resolution mementos are saved.
func WithCaretaker(c MementoCaretaker) RegistryOption {
	return func(r *Registry) { r.caretaker = c }
}

// WithHooks sets registry hooks.
func WithHooks(h Hooks) RegistryOption {
	return func(r *Registry) { r.hooks = h }
}

// WithExecutor replaces the default strategy executor.
func WithExecutor(e *Executor) RegistryOption {
	return func(r *Registry) { r.executor = e }
}

// WithClock overrides time.Now for detection and resolution timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides conflict id generation.
func WithIDGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithBatchConcurrency bounds the number of concurrent detections in
// DetectBatch. Values below 1 are ignored.
func WithBatchConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.batchConcurrency = n
		}
	}
}

// ResolveOption configures a single ResolveConflict call.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	strategy Strategy
	manual   *string
}

// WithStrategy overrides the policy's preferred strategy for one call.
func WithStrategy(s Strategy) ResolveOption {
	return func(o *resolveOptions) { o.strategy = s }
}

// WithManualResolution supplies the text used by StrategyManual and selects
// that strategy when WithStrategy is not given. Empty text is a valid
// resolution: the conflict resolves to empty content.
func WithManualResolution(text string) ResolveOption {
	return func(o *resolveOptions) { o.manual = &text }
}

// record is a registry-owned conflict and the lock serializing changes to it.
type record struct {
	mu       sync.Mutex
	conflict *Conflict
	removed  bool
}

// Registry owns every detected conflict.
//
// Lock order is registry map, then record. The map lock is held only for
// lookups and inserts; resolution runs under the record lock alone, so work
// on different conflicts proceeds in parallel.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record

	optsMu sync.RWMutex
	opts   Options

	executor         *Executor
	logger           *logging.Logger
	metrics          MetricsCollector
	caretaker        MementoCaretaker
	hooks            Hooks
	now              func() time.Time
	newID            func() string
	batchConcurrency int
}

// NewRegistry creates an empty registry. It fails only on an invalid
// initial policy.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		records:          make(map[string]*record),
		opts:             DefaultOptions(),
		now:              time.Now,
		newID:            uuid.NewString,
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.opts.Validate(); err != nil {
		return nil, mergeErrors.NewValidationError(mergeErrors.OpUpdateOptions, err)
	}
	if r.executor == nil {
		r.executor = NewExecutor()
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	r.logger = r.logger.WithComponent(logging.Component("registry"))
	if r.metrics == nil {
		r.metrics = &NoOpMetricsCollector{}
	}
	if r.caretaker == nil {
		r.caretaker = NewInMemoryMementoCaretaker()
	}
	return r, nil
}

// DetectConflict records a conflict when ours and theirs differ and returns
// a copy of it. Identical edits are not a conflict: the result is nil with
// no error. If the policy allows, the conflict is auto-resolved before it
// becomes visible to other callers.
func (r *Registry) DetectConflict(ctx context.Context, req DetectRequest) (*Conflict, error) {
	if err := req.validate(); err != nil {
		return nil, mergeErrors.NewValidationError(mergeErrors.OpDetect, err)
	}
	if req.Ours == req.Theirs {
		r.logger.DebugContext(ctx, "edits are identical, no conflict",
			slog.String("resource_id", req.ResourceID))
		return nil, nil
	}

	opts := r.Options()
	now := r.now()
	c := &Conflict{
		ID:           r.newID(),
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Type:         ClassifyType(req.Ours, req.Theirs),
		Ours:         req.Ours,
		Theirs:       req.Theirs,
		Metadata: ConflictMetadata{
			DetectedAt: now,
			UserID1:    req.UserID1,
			UserID2:    req.UserID2,
			Timestamps: map[string]time.Time{TimestampDetected: now},
			Severity:   ClassifySeverity(diff.For(opts.DiffAlgorithm), req.Base, req.Ours, req.Theirs),
		},
	}
	if req.Base != nil {
		base := *req.Base
		c.Base = &base
	}
	rec := &record{conflict: c}

	r.metrics.RecordDetection(c.Metadata.Severity, c.Type)
	r.logger.DebugContext(ctx, "conflict detected",
		slog.String("conflict_id", c.ID),
		slog.String("resource_id", c.ResourceID),
		slog.String("severity", string(c.Metadata.Severity)),
		slog.String("type", string(c.Type)))

	var outcome *attempt
	if opts.AutoResolve && c.Metadata.Severity.AtMost(opts.MaxAutoResolveSeverity) {
		// Not yet published, so no other goroutine can reach rec.
		outcome = r.attemptLocked(ctx, rec, opts.PreferredStrategy, nil, opts)
		outcome.memento.AutoResolution = true
		r.metrics.RecordAutoResolution(outcome.err == nil && outcome.result.Success)
	}
	out := c.Clone()

	r.mu.Lock()
	r.records[c.ID] = rec
	r.mu.Unlock()

	if r.hooks.OnDetected != nil {
		r.hooks.OnDetected(ctx, *out.Clone())
	}
	if outcome != nil {
		r.finish(ctx, outcome)
		if outcome.err != nil {
			r.logger.WarnContext(ctx, "auto-resolution failed, conflict left for manual handling",
				slog.String("conflict_id", c.ID),
				slog.String("strategy", string(opts.PreferredStrategy)),
				slog.String("error", outcome.err.Error()))
		}
	}
	return out, nil
}

// DetectBatch runs DetectConflict for every request with bounded
// concurrency. Results are aligned with reqs; entries for identical edits
// are nil. The first error cancels the remaining detections.
func (r *Registry) DetectBatch(ctx context.Context, reqs []DetectRequest) ([]*Conflict, error) {
	out := make([]*Conflict, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.batchConcurrency)

	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := r.DetectConflict(gctx, reqs[i])
			if err != nil {
				return fmt.Errorf("request %d (%s): %w", i, reqs[i].ResourceID, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// ResolveConflict applies a strategy to a recorded conflict. Without
// WithStrategy the policy's preferred strategy is used, unless
// WithManualResolution is given, which selects StrategyManual. Manual text
// passed alongside an explicit non-manual strategy is ignored with a warning.
//
// An auto-merge that hits overlapping changes is not an error: the record
// stays unresolved and the result carries theirs as last-write-wins content
// with Success false. A manual strategy without WithManualResolution returns
// ErrManualResolutionRequired and leaves the record unresolved. Either way
// the attempt is counted.
func (r *Registry) ResolveConflict(ctx context.Context, id string, opts ...ResolveOption) (ResolutionResult, error) {
	var ro resolveOptions
	for _, opt := range opts {
		opt(&ro)
	}

	policy := r.Options()
	strategy := ro.strategy
	switch {
	case strategy == "" && ro.manual != nil:
		strategy = StrategyManual
	case strategy == "":
		strategy = policy.PreferredStrategy
	case ro.manual != nil && strategy != StrategyManual:
		r.logger.WarnContext(ctx, "manual resolution text ignored by non-manual strategy",
			slog.String("conflict_id", id),
			slog.String("strategy", string(strategy)))
		ro.manual = nil
	}
	if !r.executor.Supports(strategy) {
		err := mergeErrors.NewValidationError(mergeErrors.OpResolve, fmt.Errorf("unknown resolution strategy %q", strategy))
		r.onError(ctx, id, err)
		return ResolutionResult{}, err
	}

	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		err := mergeErrors.NewNotFoundError(mergeErrors.OpResolve, id)
		r.onError(ctx, id, err)
		return ResolutionResult{}, err
	}

	rec.mu.Lock()
	if rec.removed {
		rec.mu.Unlock()
		err := mergeErrors.NewNotFoundError(mergeErrors.OpResolve, id)
		r.onError(ctx, id, err)
		return ResolutionResult{}, err
	}
	outcome := r.attemptLocked(ctx, rec, strategy, ro.manual, policy)
	rec.mu.Unlock()

	r.finish(ctx, outcome)
	return outcome.result, outcome.err
}

// attempt is the outcome of one strategy run plus what finish needs to
// report it once the record lock is released.
type attempt struct {
	conflict *Conflict
	result   ResolutionResult
	err      error
	fallback bool
	memento  *ResolutionMemento
	duration time.Duration
}

// attemptLocked runs strategy against rec and applies the outcome. The
// caller holds rec.mu or owns rec exclusively.
func (r *Registry) attemptLocked(ctx context.Context, rec *record, strategy Strategy, manual *string, policy Options) *attempt {
	c := rec.conflict
	now := r.now()
	c.Metadata.Attempts++
	if c.Metadata.Timestamps == nil {
		c.Metadata.Timestamps = make(map[string]time.Time)
	}
	c.Metadata.Timestamps[TimestampLastAttempt] = now

	m := &ResolutionMemento{
		ID:                NewMementoID(),
		Timestamp:         now,
		ConflictID:        c.ID,
		ResourceID:        c.ResourceID,
		ResourceType:      c.ResourceType,
		ConflictType:      c.Type,
		Severity:          c.Metadata.Severity,
		UserID1:           c.Metadata.UserID1,
		UserID2:           c.Metadata.UserID2,
		RequestedStrategy: strategy,
		Attempt:           c.Metadata.Attempts,
		BeforeState:       stateOf(c),
	}

	start := time.Now()
	res, err := r.executor.Execute(ctx, strategy, ResolveInput{
		Conflict:  *c.Clone(),
		Manual:    manual,
		Algorithm: policy.DiffAlgorithm,
	})
	out := &attempt{memento: m, duration: time.Since(start)}

	switch {
	case err == nil:
		resolvedAt := r.now()
		c.Resolved = true
		c.Resolution = res.Content
		c.Strategy = strategy
		c.ResolvedAt = &resolvedAt
		c.Metadata.Timestamps[TimestampResolved] = resolvedAt

		out.result = ResolutionResult{Success: true, Resolved: res.Content, Strategy: strategy, Reasons: res.Reasons}
		m.AppliedStrategy = strategy
		m.Success = true
		m.Reasons = res.Reasons

	case errors.Is(err, mergeErrors.ErrAutoMergeFailed):
		reasons := []string{"overlapping changes, falling back to last write wins"}
		out.result = ResolutionResult{
			Success:   false,
			Resolved:  c.Theirs,
			Strategy:  StrategyLastWriteWins,
			Conflicts: []Conflict{*c.Clone()},
			Reasons:   reasons,
		}
		out.fallback = true
		m.AppliedStrategy = StrategyLastWriteWins
		m.Fallback = true
		m.Reasons = reasons
		m.Error = err.Error()

	default:
		out.err = err
		m.Error = err.Error()
	}

	m.ResolutionDuration = out.duration
	m.AfterState = stateOf(c)
	out.conflict = c.Clone()
	return out
}

// finish reports an attempt: metrics, audit, logs and hooks. It runs
// without any registry lock held.
func (r *Registry) finish(ctx context.Context, a *attempt) {
	op := mergeErrors.OpResolve
	if a.memento.AutoResolution {
		op = mergeErrors.OpDetect
	}
	logger := r.logger.WithOperation(logging.Operation(op))

	r.metrics.RecordResolution(a.memento.RequestedStrategy, a.err == nil && a.result.Success, a.duration)

	if err := r.caretaker.Save(ctx, a.memento); err != nil {
		logger.LogError(ctx, err, "failed to save resolution memento",
			slog.String("conflict_id", a.conflict.ID))
	}

	switch {
	case a.err != nil:
		r.onError(ctx, a.conflict.ID, a.err)
	case a.fallback:
		r.metrics.RecordFallback(a.memento.RequestedStrategy)
		logger.WarnContext(ctx, "auto-merge found overlapping changes, conflict remains open",
			slog.String("conflict_id", a.conflict.ID),
			slog.String("resource_id", a.conflict.ResourceID),
			slog.Int("attempts", a.conflict.Metadata.Attempts))
		if r.hooks.OnFallback != nil {
			r.hooks.OnFallback(ctx, *a.conflict, a.result)
		}
	default:
		logger.InfoContext(ctx, "conflict resolved",
			slog.String("conflict_id", a.conflict.ID),
			slog.String("resource_id", a.conflict.ResourceID),
			slog.String("strategy", string(a.result.Strategy)),
			slog.Int("attempts", a.conflict.Metadata.Attempts))
		if r.hooks.OnResolved != nil {
			r.hooks.OnResolved(ctx, *a.conflict, a.result)
		}
	}
}

func (r *Registry) onError(ctx context.Context, id string, err error) {
	if r.hooks.OnError != nil {
		r.hooks.OnError(ctx, id, err)
	}
}

// GetConflict returns a copy of the conflict with id.
func (r *Registry) GetConflict(id string) (*Conflict, bool) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil, false
	}
	return rec.conflict.Clone(), true
}

// GetAllConflicts returns copies of every conflict for resourceID, or of
// every conflict when resourceID is empty, ordered by detection time.
func (r *Registry) GetAllConflicts(resourceID string) []Conflict {
	return r.collect(func(c *Conflict) bool {
		return resourceID == "" || c.ResourceID == resourceID
	})
}

// GetUnresolvedConflicts is GetAllConflicts restricted to open conflicts.
func (r *Registry) GetUnresolvedConflicts(resourceID string) []Conflict {
	return r.collect(func(c *Conflict) bool {
		return !c.Resolved && (resourceID == "" || c.ResourceID == resourceID)
	})
}

func (r *Registry) collect(keep func(*Conflict) bool) []Conflict {
	r.mu.RLock()
	out := make([]Conflict, 0, len(r.records))
	for _, rec := range r.records {
		rec.mu.Lock()
		if keep(rec.conflict) {
			out = append(out, *rec.conflict.Clone())
		}
		rec.mu.Unlock()
	}
	r.mu.RUnlock()

	sortConflicts(out)
	return out
}

func sortConflicts(cs []Conflict) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].Metadata.DetectedAt.Equal(cs[j].Metadata.DetectedAt) {
			return cs[i].Metadata.DetectedAt.Before(cs[j].Metadata.DetectedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

// ClearResolvedConflicts removes every resolved conflict and returns how
// many were removed.
func (r *Registry) ClearResolvedConflicts() int {
	r.mu.Lock()
	removed := 0
	for id, rec := range r.records {
		rec.mu.Lock()
		if rec.conflict.Resolved {
			rec.removed = true
			delete(r.records, id)
			removed++
		}
		rec.mu.Unlock()
	}
	r.mu.Unlock()

	r.metrics.RecordCleared(removed)
	r.logger.Info("cleared resolved conflicts", slog.Int("count", removed))
	return removed
}

// Options returns the current policy.
func (r *Registry) Options() Options {
	r.optsMu.RLock()
	defer r.optsMu.RUnlock()
	return r.opts
}

// UpdateOptions applies a partial policy update and returns the new policy.
// An update that would leave the policy invalid is rejected as a whole.
func (r *Registry) UpdateOptions(p OptionsPatch) (Options, error) {
	r.optsMu.Lock()
	next := r.opts.Apply(p)
	if err := next.Validate(); err != nil {
		r.optsMu.Unlock()
		return Options{}, mergeErrors.NewValidationError(mergeErrors.OpUpdateOptions, err)
	}
	r.opts = next
	r.optsMu.Unlock()

	r.logger.Info("resolution policy updated",
		slog.Bool("auto_resolve", next.AutoResolve),
		slog.String("preferred_strategy", string(next.PreferredStrategy)),
		slog.String("max_auto_resolve_severity", string(next.MaxAutoResolveSeverity)),
		slog.String("diff_algorithm", string(next.DiffAlgorithm)))
	return next, nil
}

// ApplyOptionsMap decodes a loosely typed partial policy, for example a
// decoded JSON body, and applies it with UpdateOptions.
func (r *Registry) ApplyOptionsMap(m map[string]any) (Options, error) {
	settings, err := DecodePolicySettings(m)
	if err != nil {
		return Options{}, mergeErrors.NewValidationError(mergeErrors.OpUpdateOptions, err)
	}
	patch, err := settings.Patch()
	if err != nil {
		return Options{}, mergeErrors.NewValidationError(mergeErrors.OpUpdateOptions, err)
	}
	return r.UpdateOptions(patch)
}

// AuditTrail returns every recorded resolution attempt for resourceID,
// oldest first.
func (r *Registry) AuditTrail(ctx context.Context, resourceID string) ([]*ResolutionMemento, error) {
	trail, err := r.caretaker.GetAuditTrail(ctx, resourceID)
	if err != nil {
		return nil, mergeErrors.WrapOpComponent(err, string(mergeErrors.OpAuditLoad), "registry")
	}
	return trail, nil
}

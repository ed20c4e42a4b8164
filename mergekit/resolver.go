package mergekit

import (
	"context"
	"fmt"
	"sort"

	"github.com/c0deZ3R0/go-merge-kit/diff"
	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
)

// ResolveInput is what a StrategyResolver gets to work with. Conflict is a
// copy; resolvers must not expect changes to it to be persisted.
type ResolveInput struct {
	Conflict Conflict
	// Manual is the caller-supplied resolution text, if any.
	Manual *string
	// Algorithm is the diff alignment in force for this call.
	Algorithm diff.Algorithm
}

// Resolution is the content a strategy settled on.
type Resolution struct {
	Content string
	Reasons []string
}

// StrategyResolver computes a resolution for one conflict. Implementations
// must be safe for concurrent use and must not retain the input.
type StrategyResolver interface {
	Resolve(ctx context.Context, in ResolveInput) (Resolution, error)
}

// ResolverFunc adapts a function to StrategyResolver.
type ResolverFunc func(ctx context.Context, in ResolveInput) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	return f(ctx, in)
}

// ExecutorHooks observe every strategy run. Nil functions are skipped.
type ExecutorHooks struct {
	OnResolved func(strategy Strategy, conflict Conflict, res Resolution)
	OnError    func(strategy Strategy, conflict Conflict, err error)
}

type executorOptions struct {
	resolvers map[Strategy]StrategyResolver
	hooks     ExecutorHooks
}

// ExecutorOption configures NewExecutor.
type ExecutorOption interface{ apply(*executorOptions) }

type executorOptionFn func(*executorOptions)

func (f executorOptionFn) apply(o *executorOptions) { f(o) }

// WithResolver registers r for strategy, replacing any built-in resolver.
func WithResolver(strategy Strategy, r StrategyResolver) ExecutorOption {
	return executorOptionFn(func(o *executorOptions) { o.resolvers[strategy] = r })
}

// WithExecutorHooks sets observation hooks.
func WithExecutorHooks(h ExecutorHooks) ExecutorOption {
	return executorOptionFn(func(o *executorOptions) { o.hooks = h })
}

// Executor dispatches a conflict to the resolver registered for a strategy.
// It never mutates registry state.
type Executor struct {
	resolvers map[Strategy]StrategyResolver
	hooks     ExecutorHooks
}

// NewExecutor returns an Executor with every built-in strategy registered.
func NewExecutor(opts ...ExecutorOption) *Executor {
	o := &executorOptions{resolvers: builtinResolvers()}
	for _, opt := range opts {
		opt.apply(o)
	}
	return &Executor{resolvers: o.resolvers, hooks: o.hooks}
}

func builtinResolvers() map[Strategy]StrategyResolver {
	return map[Strategy]StrategyResolver{
		StrategyAutoMerge:      &AutoMergeResolver{},
		StrategyLastWriteWins:  &LastWriteWinsResolver{},
		StrategyFirstWriteWins: &FirstWriteWinsResolver{},
		StrategyAcceptOurs:     &AcceptOursResolver{},
		StrategyAcceptTheirs:   &AcceptTheirsResolver{},
		StrategyCombineBoth:    &CombineBothResolver{},
		StrategyManual:         &ManualResolver{},
	}
}

// Supports reports whether a resolver is registered for strategy.
func (e *Executor) Supports(strategy Strategy) bool {
	_, ok := e.resolvers[strategy]
	return ok
}

// Strategies lists the registered strategies in sorted order.
func (e *Executor) Strategies() []Strategy {
	out := make([]Strategy, 0, len(e.resolvers))
	for s := range e.resolvers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs the resolver registered for strategy.
func (e *Executor) Execute(ctx context.Context, strategy Strategy, in ResolveInput) (Resolution, error) {
	r, ok := e.resolvers[strategy]
	if !ok {
		err := mergeErrors.NewValidationError(mergeErrors.OpResolve, fmt.Errorf("unknown resolution strategy %q", strategy))
		err.Component = "executor"
		e.onError(strategy, in.Conflict, err)
		return Resolution{}, err
	}
	if err := ctx.Err(); err != nil {
		e.onError(strategy, in.Conflict, err)
		return Resolution{}, err
	}

	res, err := r.Resolve(ctx, in)
	if err != nil {
		e.onError(strategy, in.Conflict, err)
		return Resolution{}, err
	}
	if e.hooks.OnResolved != nil {
		e.hooks.OnResolved(strategy, in.Conflict, res)
	}
	return res, nil
}

func (e *Executor) onError(strategy Strategy, c Conflict, err error) {
	if e.hooks.OnError != nil {
		e.hooks.OnError(strategy, c, err)
	}
}

package mergekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
	"github.com/c0deZ3R0/go-merge-kit/logging"
)

// PolicyFile is the on-disk form of a resolution policy.
type PolicyFile struct {
	Version     string         `json:"version" yaml:"version"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Policy      PolicySettings `json:"policy" yaml:"policy"`
}

// PolicyValidator validates a policy before it is applied.
type PolicyValidator interface {
	Validate(p *PolicyFile) error
	Name() string
}

// PolicyWatcher is told about every applied policy and every load failure.
type PolicyWatcher interface {
	OnPolicyChanged(oldPolicy, newPolicy *PolicyFile)
	OnPolicyError(err error)
	Name() string
}

// PolicyLoader loads resolution policies from YAML or JSON and hands them
// to its watchers.
type PolicyLoader struct {
	mu         sync.RWMutex
	current    *PolicyFile
	validators []PolicyValidator
	watchers   []PolicyWatcher
	logger     *logging.Logger
}

// PolicyLoaderOption configures NewPolicyLoader.
type PolicyLoaderOption interface {
	apply(*PolicyLoader)
}

type policyLoaderOptionFunc func(*PolicyLoader)

func (f policyLoaderOptionFunc) apply(pl *PolicyLoader) { f(pl) }

// WithPolicyValidator adds a validator.
func WithPolicyValidator(v PolicyValidator) PolicyLoaderOption {
	return policyLoaderOptionFunc(func(pl *PolicyLoader) {
		pl.validators = append(pl.validators, v)
	})
}

// WithPolicyWatcher adds a change watcher.
func WithPolicyWatcher(w PolicyWatcher) PolicyLoaderOption {
	return policyLoaderOptionFunc(func(pl *PolicyLoader) {
		pl.watchers = append(pl.watchers, w)
	})
}

// WithPolicyLogger sets the loader's logger.
func WithPolicyLogger(l *logging.Logger) PolicyLoaderOption {
	return policyLoaderOptionFunc(func(pl *PolicyLoader) {
		pl.logger = l
	})
}

// NewPolicyLoader creates a loader. BasicPolicyValidator always runs first.
func NewPolicyLoader(opts ...PolicyLoaderOption) *PolicyLoader {
	pl := &PolicyLoader{
		validators: []PolicyValidator{&BasicPolicyValidator{}},
	}
	for _, opt := range opts {
		opt.apply(pl)
	}
	if pl.logger == nil {
		pl.logger = logging.Default()
	}
	pl.logger = pl.logger.WithComponent(logging.Component("policy"))
	return pl
}

// LoadFromFile loads a policy file; the format follows the extension and
// defaults to YAML.
func (pl *PolicyLoader) LoadFromFile(path string) error {
	pl.logger.Debug("loading policy", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, fmt.Errorf("failed to read policy file %s: %w", path, err))
	}
	return pl.LoadFromBytes(data, detectFormat(path))
}

// LoadFromBytes parses data as "yaml" or "json", validates it and notifies
// watchers. On error the current policy is kept.
func (pl *PolicyLoader) LoadFromBytes(data []byte, format string) error {
	var p PolicyFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, fmt.Errorf("failed to parse YAML policy: %w", err))
		}
	case "json":
		if err := json.Unmarshal(data, &p); err != nil {
			return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, fmt.Errorf("failed to parse JSON policy: %w", err))
		}
	default:
		return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, fmt.Errorf("unsupported policy format: %s", format))
	}

	for _, v := range pl.validators {
		if err := v.Validate(&p); err != nil {
			pl.logger.Error("policy validation failed",
				slog.String("validator", v.Name()),
				slog.String("error", err.Error()))
			return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, fmt.Errorf("validator %s failed: %w", v.Name(), err))
		}
	}

	pl.mu.Lock()
	old := pl.current
	pl.current = &p
	pl.mu.Unlock()

	for _, w := range pl.watchers {
		pl.notifyChanged(w, old, &p)
	}
	pl.logger.Debug("policy applied", slog.String("name", p.Name), slog.String("version", p.Version))
	return nil
}

func (pl *PolicyLoader) notifyChanged(w PolicyWatcher, old, next *PolicyFile) {
	defer func() {
		if r := recover(); r != nil {
			pl.logger.Error("policy watcher panic", slog.String("watcher", w.Name()), slog.Any("panic", r))
		}
	}()
	w.OnPolicyChanged(old, next)
}

func (pl *PolicyLoader) notifyError(err error) {
	for _, w := range pl.watchers {
		w.OnPolicyError(err)
	}
}

// Current returns the last applied policy, or nil.
func (pl *PolicyLoader) Current() *PolicyFile {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	if pl.current == nil {
		return nil
	}
	cp := *pl.current
	if cp.Policy.AutoResolve != nil {
		v := *cp.Policy.AutoResolve
		cp.Policy.AutoResolve = &v
	}
	return &cp
}

// Watch reloads path whenever it is written or recreated, until ctx is
// done. Reload failures go to the watchers' OnPolicyError and do not stop
// watching. The parent directory is watched so editors that replace the
// file on save are handled.
func (pl *PolicyLoader) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, fmt.Errorf("failed to watch %s: %w", path, err))
	}
	pl.logger.Info("watching policy file", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := pl.LoadFromFile(target); err != nil {
				pl.notifyError(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			pl.notifyError(mergeErrors.NewConfigError(mergeErrors.OpLoadPolicy, err))
		}
	}
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// BasicPolicyValidator requires a version and a name and checks that every
// setting parses.
type BasicPolicyValidator struct{}

func (v *BasicPolicyValidator) Name() string { return "basic" }

func (v *BasicPolicyValidator) Validate(p *PolicyFile) error {
	if p.Version == "" {
		return fmt.Errorf("policy version is required")
	}
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	_, err := p.Policy.Patch()
	return err
}

// RegistryBinder applies every loaded policy to a Registry.
type RegistryBinder struct {
	registry *Registry
	logger   *logging.Logger
}

// NewRegistryBinder binds r to a PolicyLoader via WithPolicyWatcher.
func NewRegistryBinder(r *Registry, logger *logging.Logger) *RegistryBinder {
	if logger == nil {
		logger = logging.Default()
	}
	return &RegistryBinder{registry: r, logger: logger}
}

func (b *RegistryBinder) Name() string { return "registry" }

func (b *RegistryBinder) OnPolicyChanged(oldPolicy, newPolicy *PolicyFile) {
	patch, err := newPolicy.Policy.Patch()
	if err != nil {
		b.OnPolicyError(err)
		return
	}
	if _, err := b.registry.UpdateOptions(patch); err != nil {
		b.OnPolicyError(err)
	}
}

func (b *RegistryBinder) OnPolicyError(err error) {
	b.logger.LogError(context.Background(), err, "policy not applied to registry")
}

// LoggingPolicyWatcher logs policy changes.
type LoggingPolicyWatcher struct {
	logger *logging.Logger
}

func NewLoggingPolicyWatcher(logger *logging.Logger) *LoggingPolicyWatcher {
	return &LoggingPolicyWatcher{logger: logger}
}

func (w *LoggingPolicyWatcher) Name() string { return "logging" }

func (w *LoggingPolicyWatcher) OnPolicyChanged(oldPolicy, newPolicy *PolicyFile) {
	if w.logger == nil {
		return
	}
	if oldPolicy == nil {
		w.logger.Info("initial policy loaded", slog.String("name", newPolicy.Name), slog.String("version", newPolicy.Version))
		return
	}
	w.logger.Info("policy updated",
		slog.String("old_version", oldPolicy.Version),
		slog.String("new_version", newPolicy.Version),
		slog.String("name", newPolicy.Name))
}

func (w *LoggingPolicyWatcher) OnPolicyError(err error) {
	if w.logger != nil {
		w.logger.Error("policy error", slog.String("error", err.Error()))
	}
}

package mergekit

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/c0deZ3R0/go-merge-kit/diff"
)

// Options is the registry's resolution policy.
type Options struct {
	// AutoResolve enables resolution at detection time.
	AutoResolve bool `json:"auto_resolve"`
	// PreferredStrategy is used for auto-resolution and whenever
	// ResolveConflict is called without WithStrategy.
	PreferredStrategy Strategy `json:"preferred_strategy"`
	// MaxAutoResolveSeverity is the highest severity auto-resolution touches.
	MaxAutoResolveSeverity Severity `json:"max_auto_resolve_severity"`
	// DiffAlgorithm drives both severity classification and auto-merge.
	DiffAlgorithm diff.Algorithm `json:"diff_algorithm"`
}

// DefaultOptions returns the policy a Registry starts with.
func DefaultOptions() Options {
	return Options{
		AutoResolve:            true,
		PreferredStrategy:      StrategyAutoMerge,
		MaxAutoResolveSeverity: SeverityLow,
		DiffAlgorithm:          diff.Positional,
	}
}

// Validate checks every field holds a known value.
func (o Options) Validate() error {
	if !o.PreferredStrategy.Valid() {
		return fmt.Errorf("preferred strategy: unknown value %q", o.PreferredStrategy)
	}
	if !o.MaxAutoResolveSeverity.Valid() {
		return fmt.Errorf("max auto-resolve severity: unknown value %q", o.MaxAutoResolveSeverity)
	}
	switch o.DiffAlgorithm {
	case diff.Positional, diff.Sequence:
		return nil
	default:
		return fmt.Errorf("diff algorithm: unknown value %q", o.DiffAlgorithm)
	}
}

// OptionsPatch is a partial update; nil fields are left untouched.
type OptionsPatch struct {
	AutoResolve            *bool
	PreferredStrategy      *Strategy
	MaxAutoResolveSeverity *Severity
	DiffAlgorithm          *diff.Algorithm
}

// Apply returns o with every non-nil field of p applied.
func (o Options) Apply(p OptionsPatch) Options {
	if p.AutoResolve != nil {
		o.AutoResolve = *p.AutoResolve
	}
	if p.PreferredStrategy != nil {
		o.PreferredStrategy = *p.PreferredStrategy
	}
	if p.MaxAutoResolveSeverity != nil {
		o.MaxAutoResolveSeverity = *p.MaxAutoResolveSeverity
	}
	if p.DiffAlgorithm != nil {
		o.DiffAlgorithm = *p.DiffAlgorithm
	}
	return o
}

// PolicySettings is the loosely typed form of a policy used by policy files
// and option maps. Empty strings and a nil AutoResolve mean "unchanged".
type PolicySettings struct {
	AutoResolve            *bool  `yaml:"auto_resolve,omitempty" json:"auto_resolve,omitempty" mapstructure:"auto_resolve"`
	PreferredStrategy      string `yaml:"preferred_strategy,omitempty" json:"preferred_strategy,omitempty" mapstructure:"preferred_strategy"`
	MaxAutoResolveSeverity string `yaml:"max_auto_resolve_severity,omitempty" json:"max_auto_resolve_severity,omitempty" mapstructure:"max_auto_resolve_severity"`
	DiffAlgorithm          string `yaml:"diff_algorithm,omitempty" json:"diff_algorithm,omitempty" mapstructure:"diff_algorithm"`
}

// Patch parses the settings into an OptionsPatch.
func (s PolicySettings) Patch() (OptionsPatch, error) {
	var p OptionsPatch
	if s.AutoResolve != nil {
		v := *s.AutoResolve
		p.AutoResolve = &v
	}
	if s.PreferredStrategy != "" {
		st, err := ParseStrategy(s.PreferredStrategy)
		if err != nil {
			return OptionsPatch{}, err
		}
		p.PreferredStrategy = &st
	}
	if s.MaxAutoResolveSeverity != "" {
		sev, err := ParseSeverity(s.MaxAutoResolveSeverity)
		if err != nil {
			return OptionsPatch{}, err
		}
		p.MaxAutoResolveSeverity = &sev
	}
	if s.DiffAlgorithm != "" {
		alg, err := diff.ParseAlgorithm(s.DiffAlgorithm)
		if err != nil {
			return OptionsPatch{}, err
		}
		p.DiffAlgorithm = &alg
	}
	return p, nil
}

// DecodePolicySettings decodes a loosely typed map such as one produced by a
// JSON request body or a flag set. Unknown keys are an error; scalar values
// are converted where unambiguous ("true" becomes true).
func DecodePolicySettings(input map[string]any) (PolicySettings, error) {
	var s PolicySettings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return PolicySettings{}, err
	}
	if err := dec.Decode(input); err != nil {
		return PolicySettings{}, err
	}
	return s, nil
}

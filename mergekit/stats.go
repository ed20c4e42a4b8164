package mergekit

import "sort"

// SeverityCounts counts conflicts per severity.
type SeverityCounts struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

func (s *SeverityCounts) add(sev Severity) {
	switch sev {
	case SeverityLow:
		s.Low++
	case SeverityMedium:
		s.Medium++
	case SeverityHigh:
		s.High++
	case SeverityCritical:
		s.Critical++
	}
}

// Stats is an aggregate snapshot of the registry.
type Stats struct {
	TotalConflicts      int                  `json:"total_conflicts"`
	ResolvedConflicts   int                  `json:"resolved_conflicts"`
	UnresolvedConflicts int                  `json:"unresolved_conflicts"`
	BySeverity          SeverityCounts       `json:"by_severity"`
	ByType              map[ConflictType]int `json:"by_type"`
	// ByStrategy counts resolved conflicts by the strategy that resolved them.
	ByStrategy    map[Strategy]int `json:"by_strategy"`
	TotalAttempts int              `json:"total_attempts"`
	Options       Options          `json:"options"`
}

// Statistics returns counts over every conflict currently held.
func (r *Registry) Statistics() Stats {
	st := Stats{
		ByType:     make(map[ConflictType]int),
		ByStrategy: make(map[Strategy]int),
		Options:    r.Options(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		rec.mu.Lock()
		c := rec.conflict
		st.TotalConflicts++
		if c.Resolved {
			st.ResolvedConflicts++
			st.ByStrategy[c.Strategy]++
		} else {
			st.UnresolvedConflicts++
		}
		st.BySeverity.add(c.Metadata.Severity)
		st.ByType[c.Type]++
		st.TotalAttempts += c.Metadata.Attempts
		rec.mu.Unlock()
	}
	return st
}

// Strategies returns the keys of ByStrategy in lexical order.
func (s Stats) Strategies() []Strategy {
	out := make([]Strategy, 0, len(s.ByStrategy))
	for strategy := range s.ByStrategy {
		out = append(out, strategy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

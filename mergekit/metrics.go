package mergekit

import "time"

// MetricsCollector receives registry events. Implementations must be safe
// for concurrent use.
type MetricsCollector interface {
	// RecordDetection is called once per recorded conflict.
	RecordDetection(severity Severity, conflictType ConflictType)

	// RecordResolution is called after every strategy run.
	RecordResolution(strategy Strategy, success bool, duration time.Duration)

	// RecordFallback is called when requested could not merge and the
	// registry fell back to last-write-wins content.
	RecordFallback(requested Strategy)

	// RecordAutoResolution is called for every auto-resolution attempt
	// made at detection time.
	RecordAutoResolution(success bool)

	// RecordCleared is called after a sweep of resolved conflicts.
	RecordCleared(n int)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordDetection(severity Severity, conflictType ConflictType)      {}
func (n *NoOpMetricsCollector) RecordResolution(strategy Strategy, success bool, d time.Duration) {}
func (n *NoOpMetricsCollector) RecordFallback(requested Strategy)                                 {}
func (n *NoOpMetricsCollector) RecordAutoResolution(success bool)                                 {}
func (n *NoOpMetricsCollector) RecordCleared(count int)                                           {}

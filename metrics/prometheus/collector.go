// Package prometheus exports registry metrics through Prometheus.
package prometheus

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c0deZ3R0/go-merge-kit/mergekit"
)

const namespace = "mergekit"

// Collector implements mergekit.MetricsCollector.
type Collector struct {
	detections         *prom.CounterVec
	resolutions        *prom.CounterVec
	resolutionDuration *prom.HistogramVec
	fallbacks          *prom.CounterVec
	autoResolutions    *prom.CounterVec
	cleared            prom.Counter
}

var _ mergekit.MetricsCollector = (*Collector)(nil)

// NewCollector registers the merge kit metrics on reg. A nil reg uses
// prom.DefaultRegisterer. Registering twice on the same registry panics.
func NewCollector(reg prom.Registerer) *Collector {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		detections: factory.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_detected_total",
				Help:      "Total number of conflicts recorded, by severity and type",
			},
			[]string{"severity", "type"},
		),
		resolutions: factory.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of resolution attempts, by strategy and outcome",
			},
			[]string{"strategy", "success"},
		),
		resolutionDuration: factory.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Time spent executing a resolution strategy",
				Buckets:   prom.ExponentialBuckets(0.00001, 10, 7),
			},
			[]string{"strategy"},
		),
		fallbacks: factory.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of merges that fell back to last write wins",
			},
			[]string{"requested"},
		),
		autoResolutions: factory.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Name:      "auto_resolutions_total",
				Help:      "Total number of resolutions attempted at detection time",
			},
			[]string{"success"},
		),
		cleared: factory.NewCounter(
			prom.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_cleared_total",
				Help:      "Total number of resolved conflicts removed from the registry",
			},
		),
	}
}

func (c *Collector) RecordDetection(severity mergekit.Severity, conflictType mergekit.ConflictType) {
	c.detections.WithLabelValues(string(severity), string(conflictType)).Inc()
}

func (c *Collector) RecordResolution(strategy mergekit.Strategy, success bool, duration time.Duration) {
	c.resolutions.WithLabelValues(string(strategy), strconv.FormatBool(success)).Inc()
	c.resolutionDuration.WithLabelValues(string(strategy)).Observe(duration.Seconds())
}

func (c *Collector) RecordFallback(requested mergekit.Strategy) {
	c.fallbacks.WithLabelValues(string(requested)).Inc()
}

func (c *Collector) RecordAutoResolution(success bool) {
	c.autoResolutions.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (c *Collector) RecordCleared(n int) {
	if n > 0 {
		c.cleared.Add(float64(n))
	}
}

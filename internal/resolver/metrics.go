// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts resolver activity. A nil *Metrics records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	ruleHits    *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics creates resolver collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stitch_resolutions_total",
				Help: "Number of module requests resolved, by outcome.",
			},
			[]string{"outcome"},
		),
		ruleHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stitch_rule_hits_total",
				Help: "Number of times a resolver rule rewrote a request.",
			},
			[]string{"rule"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stitch_resolution_duration_seconds",
				Help:    "Time taken to resolve one module request.",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.resolutions, m.ruleHits, m.duration)
	}
	return m
}

func (m *Metrics) observe(res Resolution, started time.Time) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(Outcome(res)).Inc()
	m.duration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) hit(rule string) {
	if m == nil {
		return
	}
	m.ruleHits.WithLabelValues(rule).Inc()
}

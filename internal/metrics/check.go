// Package metrics contains the Prometheus metrics of the checks.
package metrics

import (
	"context"
	"time"

	"github.com/AdguardTeam/LinkCheck/internal/linkcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the namespace of all metrics.
const Namespace = "linkcheck"

// subsystemCheck is the subsystem of the check metrics.
const subsystemCheck = "check"

// Check is the Prometheus implementation of [linkcheck.Metrics].
type Check struct {
	checks       *prometheus.CounterVec
	checkTime    *prometheus.HistogramVec
	blocked      prometheus.Histogram
	ruleSets     prometheus.Gauge
	rules        prometheus.Gauge
	lastRuleSets prometheus.Gauge
}

// NewCheck registers the check metrics in reg and returns the metrics.
func NewCheck(reg prometheus.Registerer) (m *Check, err error) {
	m = &Check{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "total",
			Namespace: Namespace,
			Subsystem: subsystemCheck,
			Help:      "Total number of page checks by status.",
		}, []string{"status"}),
		checkTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:                        "duration_seconds",
			Namespace:                   Namespace,
			Subsystem:                   subsystemCheck,
			Help:                        "Duration of page checks in seconds by status.",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"status"}),
		blocked: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:      "blocked_requests",
			Namespace: Namespace,
			Subsystem: subsystemCheck,
			Help:      "Number of blocked requests per checked page.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		ruleSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "rulesets",
			Namespace: Namespace,
			Subsystem: "filtering",
			Help:      "Number of loaded rule sets.",
		}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "rules",
			Namespace: Namespace,
			Subsystem: "filtering",
			Help:      "Number of rules in the loaded rule sets.",
		}),
		lastRuleSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "last_update_timestamp_seconds",
			Namespace: Namespace,
			Subsystem: "filtering",
			Help:      "Time of the last rule-set update.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.checks,
		m.checkTime,
		m.blocked,
		m.ruleSets,
		m.rules,
		m.lastRuleSets,
	} {
		err = reg.Register(c)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// type check
var _ linkcheck.Metrics = (*Check)(nil)

// ObserveCheck implements the [linkcheck.Metrics] interface for *Check.
func (m *Check) ObserveCheck(_ context.Context, status linkcheck.CheckStatus, dur time.Duration) {
	s := string(status)
	m.checks.WithLabelValues(s).Inc()
	m.checkTime.WithLabelValues(s).Observe(dur.Seconds())
}

// ObserveBlocked implements the [linkcheck.Metrics] interface for *Check.
func (m *Check) ObserveBlocked(_ context.Context, n int) {
	m.blocked.Observe(float64(n))
}

// SetRuleSets implements the [linkcheck.Metrics] interface for *Check.
func (m *Check) SetRuleSets(_ context.Context, ruleSets, rules int) {
	m.ruleSets.Set(float64(ruleSets))
	m.rules.Set(float64(rules))
	m.lastRuleSets.SetToCurrentTime()
}

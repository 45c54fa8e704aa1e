// Package metrics exposes prometheus counters for triage, flows and the
// coordination registry. A nil *Collector is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every hive metric.
type Collector struct {
	triageRuns      *prometheus.CounterVec
	raterResults    *prometheus.CounterVec
	quorumFailures  prometheus.Counter
	planEvaluations *prometheus.CounterVec

	flowNodes    *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	nodeRetries  prometheus.Counter
	flowDuration prometheus.Histogram
	flowTimeouts prometheus.Counter

	registryTasks     *prometheus.CounterVec
	registryEvents    *prometheus.CounterVec
	registryEvictions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers all metrics with reg under namespace. A nil reg
// uses a private registry, which keeps tests independent of each other.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.triageRuns = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triage_runs_total",
		Help:      "Triage decisions by resolved tier and escalation",
	}, []string{"tier", "escalated"})

	c.raterResults = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rater_results_total",
		Help:      "Complexity rater outcomes",
	}, []string{"rater", "status"})

	c.quorumFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quorum_failures_total",
		Help:      "Triage runs that fell back because too few raters answered",
	})

	c.planEvaluations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_evaluations_total",
		Help:      "Plan evaluations by outcome",
	}, []string{"status"})

	c.flowNodes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_nodes_total",
		Help:      "Graph nodes by terminal status",
	}, []string{"status"})

	c.nodeDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "node_duration_seconds",
		Help:      "Branch execution time",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"role"})

	c.nodeRetries = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_retries_total",
		Help:      "Backend retries across all branches",
	})

	c.flowDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flow_duration_seconds",
		Help:      "Whole-flow run time",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	c.flowTimeouts = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_timeouts_total",
		Help:      "Flows that hit their deadline",
	})

	c.registryTasks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_registrations_total",
		Help:      "Task registrations by dedup outcome",
	}, []string{"outcome"})

	c.registryEvents = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_events_total",
		Help:      "Coordination events broadcast by type",
	}, []string{"type"})

	c.registryEvictions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_evictions_total",
		Help:      "Entries removed by cleanup",
	}, []string{"kind"})

	return c
}

// RecordTriage counts a triage decision.
func (c *Collector) RecordTriage(tier string, escalated bool) {
	if c == nil {
		return
	}
	c.triageRuns.WithLabelValues(tier, strconv.FormatBool(escalated)).Inc()
}

// RecordRater counts one rater outcome: ok, error, timeout or discarded.
func (c *Collector) RecordRater(rater, status string) {
	if c == nil {
		return
	}
	c.raterResults.WithLabelValues(rater, status).Inc()
}

// RecordQuorumFailure counts a fallback triage.
func (c *Collector) RecordQuorumFailure() {
	if c == nil {
		return
	}
	c.quorumFailures.Inc()
}

// RecordPlanEvaluation counts a plan evaluation outcome.
func (c *Collector) RecordPlanEvaluation(status string) {
	if c == nil {
		return
	}
	c.planEvaluations.WithLabelValues(status).Inc()
}

// RecordNode counts a finished node and observes its run time.
func (c *Collector) RecordNode(role, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.flowNodes.WithLabelValues(status).Inc()
	if d > 0 {
		c.nodeDuration.WithLabelValues(role).Observe(d.Seconds())
	}
}

// RecordRetry counts a backend retry.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.nodeRetries.Inc()
}

// RecordFlow observes a finished flow.
func (c *Collector) RecordFlow(d time.Duration, timedOut bool) {
	if c == nil {
		return
	}
	c.flowDuration.Observe(d.Seconds())
	if timedOut {
		c.flowTimeouts.Inc()
	}
}

// RecordRegistration counts a registry registration: new, exact or fuzzy.
func (c *Collector) RecordRegistration(outcome string) {
	if c == nil {
		return
	}
	c.registryTasks.WithLabelValues(outcome).Inc()
}

// RecordEvent counts a broadcast event.
func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.registryEvents.WithLabelValues(eventType).Inc()
}

// RecordEvictions counts entries removed by cleanup.
func (c *Collector) RecordEvictions(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.registryEvictions.WithLabelValues(kind).Add(float64(n))
	c.logger.Debug("evicted entries", zap.String("kind", kind), zap.Int("count", n))
}

// Package metrics exposes Prometheus counters for access decisions, sharing,
// duplicate scans and merges.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the services report to. Nop satisfies it for tests and
// for deployments with metrics disabled.
type Recorder interface {
	RecordAccessDecision(level string)
	RecordShareCreated(level string)
	RecordShareRejected(reason string)
	RecordShareRevoked()
	RecordDuplicateScan(groups int, duration time.Duration)
	RecordMerge(outcome string, duration time.Duration, relocated int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	accessDecisions   *prometheus.CounterVec
	sharesCreated     *prometheus.CounterVec
	sharesRejected    *prometheus.CounterVec
	sharesRevoked     prometheus.Counter
	duplicateGroups   prometheus.Gauge
	duplicateScanTime prometheus.Histogram
	merges            *prometheus.CounterVec
	mergeDuration     prometheus.Histogram
	recordsRelocated  prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patientcore_access_decisions_total",
			Help: "Access resolutions by resulting permission level.",
		}, []string{"level"}),
		sharesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patientcore_shares_created_total",
			Help: "Shares created by permission level.",
		}, []string{"level"}),
		sharesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patientcore_shares_rejected_total",
			Help: "Share requests rejected, by reason.",
		}, []string{"reason"}),
		sharesRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patientcore_shares_revoked_total",
			Help: "Shares revoked.",
		}),
		duplicateGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patientcore_duplicate_groups",
			Help: "Duplicate groups found by the most recent global scan.",
		}),
		duplicateScanTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patientcore_duplicate_scan_seconds",
			Help:    "Duration of global duplicate scans.",
			Buckets: prometheus.DefBuckets,
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patientcore_merges_total",
			Help: "Merge attempts by outcome.",
		}, []string{"outcome"}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patientcore_merge_duration_seconds",
			Help:    "Duration of merge transactions.",
			Buckets: prometheus.DefBuckets,
		}),
		recordsRelocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patientcore_records_relocated_total",
			Help: "Dependent records moved from source to target patients.",
		}),
	}

	reg.MustRegister(
		c.accessDecisions,
		c.sharesCreated,
		c.sharesRejected,
		c.sharesRevoked,
		c.duplicateGroups,
		c.duplicateScanTime,
		c.merges,
		c.mergeDuration,
		c.recordsRelocated,
	)
	return c
}

func (c *Collector) RecordAccessDecision(level string) {
	c.accessDecisions.WithLabelValues(level).Inc()
}

func (c *Collector) RecordShareCreated(level string) {
	c.sharesCreated.WithLabelValues(level).Inc()
}

func (c *Collector) RecordShareRejected(reason string) {
	c.sharesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordShareRevoked() {
	c.sharesRevoked.Inc()
}

func (c *Collector) RecordDuplicateScan(groups int, duration time.Duration) {
	c.duplicateGroups.Set(float64(groups))
	c.duplicateScanTime.Observe(duration.Seconds())
}

// RecordMerge counts a merge attempt. Relocated records and duration are only
// recorded for successful merges.
func (c *Collector) RecordMerge(outcome string, duration time.Duration, relocated int) {
	c.merges.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSuccess {
		return
	}
	c.mergeDuration.Observe(duration.Seconds())
	c.recordsRelocated.Add(float64(relocated))
}

// Merge outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAccessDecision(string)            {}
func (Nop) RecordShareCreated(string)              {}
func (Nop) RecordShareRejected(string)             {}
func (Nop) RecordShareRevoked()                    {}
func (Nop) RecordDuplicateScan(int, time.Duration) {}
func (Nop) RecordMerge(string, time.Duration, int) {}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the edge's Prometheus metrics: per-request resolution
// outcomes and per-run verification loop results.
type Collector struct {
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration prometheus.Histogram

	verificationRunsTotal    *prometheus.CounterVec
	verificationDomainsTotal *prometheus.CounterVec
	verificationRunDuration  prometheus.Histogram
	pendingDomains           prometheus.Gauge
}

// NewCollector registers the metric set on reg. Tests pass an isolated
// prometheus.NewRegistry(); the binaries use prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		resolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Tenant resolution attempts by outcome",
		}, []string{"result"}),

		resolutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenant_resolution_duration_seconds",
			Help:    "Time spent resolving tenant identity per request",
			Buckets: prometheus.DefBuckets,
		}),

		verificationRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_runs_total",
			Help: "Verification loop executions by result",
		}, []string{"result"}),

		verificationDomainsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_domains_total",
			Help: "Per-domain verification outcomes",
		}, []string{"outcome"}),

		verificationRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verification_run_duration_seconds",
			Help:    "Duration of a full verification loop run",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120},
		}),

		pendingDomains: factory.NewGauge(prometheus.GaugeOpts{
			Name: "verification_pending_domains",
			Help: "Domains still pending verification after the last run",
		}),
	}
}

func (c *Collector) RecordResolution(result string, duration time.Duration) {
	c.resolutionsTotal.WithLabelValues(result).Inc()
	c.resolutionDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordRun(result string, duration time.Duration) {
	c.verificationRunsTotal.WithLabelValues(result).Inc()
	c.verificationRunDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordRunSkipped() {
	c.verificationRunsTotal.WithLabelValues("skipped").Inc()
}

func (c *Collector) RecordDomainOutcome(outcome string) {
	c.verificationDomainsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetPendingDomains(n int) {
	c.pendingDomains.Set(float64(n))
}

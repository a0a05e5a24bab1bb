package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "imagebuilder"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	entryResults  *prom.CounterVec
	entryDuration *prom.HistogramVec
	runDuration   prom.Histogram
	runOutcome    *prom.CounterVec
	inventorySize prom.Gauge
	workers       prom.Gauge
	orphans       prom.Counter
	lastRun       prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.entryResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "entry_results_total",
			Help:      "Catalog entries by terminal state",
		}, []string{"state"})
		pr.entryDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "entry_duration_seconds",
			Help:      "Time to resolve and build one catalog entry",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"state"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total run duration",
			Buckets:   prom.ExponentialBuckets(0.5, 2, 12),
		})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Runs by final outcome",
		}, []string{"outcome"})
		pr.inventorySize = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_entries",
			Help:      "Catalog entries read by the last run",
		})
		pr.workers = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Worker pool size of the last run",
		})
		pr.orphans = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_removed_total",
			Help:      "Orphaned derivatives deleted from the output tree",
		})
		pr.lastRun = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		})
		reg.MustRegister(pr.entryResults, pr.entryDuration, pr.runDuration, pr.runOutcome,
			pr.inventorySize, pr.workers, pr.orphans, pr.lastRun)
	})
	return pr
}

func (p *PrometheusRecorder) IncEntryResult(state string) {
	if p == nil || p.entryResults == nil {
		return
	}
	p.entryResults.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) ObserveEntryDuration(state string, d time.Duration) {
	if p == nil || p.entryDuration == nil {
		return
	}
	p.entryDuration.WithLabelValues(state).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome RunOutcome) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
	p.lastRun.SetToCurrentTime()
}

func (p *PrometheusRecorder) SetInventorySize(n int) {
	if p == nil || p.inventorySize == nil {
		return
	}
	p.inventorySize.Set(float64(n))
}

func (p *PrometheusRecorder) SetWorkers(n int) {
	if p == nil || p.workers == nil {
		return
	}
	p.workers.Set(float64(n))
}

func (p *PrometheusRecorder) AddOrphansRemoved(n int) {
	if p == nil || p.orphans == nil || n <= 0 {
		return
	}
	p.orphans.Add(float64(n))
}

package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	runs           *prometheus.CounterVec
	claimConflicts prometheus.Counter
	runDuration    prometheus.Histogram
	leasesReleased prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvpipeline_runs_total",
				Help: "Total pipeline runs by outcome (completed, retry, failed).",
			},
			[]string{"outcome"},
		),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cvpipeline_claim_conflicts_total",
			Help: "Claims lost to a concurrent worker.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cvpipeline_run_duration_seconds",
			Help:    "Wall time of a single pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		leasesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cvpipeline_leases_released_total",
			Help: "Expired processing leases swept back to retry.",
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.claimConflicts, m.runDuration, m.leasesReleased} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(seconds)
}

func (m *Metrics) observeClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) observeLeasesReleased(n int) {
	if m == nil {
		return
	}
	m.leasesReleased.Add(float64(n))
}

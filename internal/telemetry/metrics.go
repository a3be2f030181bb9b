package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for benchmark runs
type Metrics struct {
	Trials         *prometheus.CounterVec
	TTFT           *prometheus.HistogramVec
	TrialDuration  *prometheus.HistogramVec
	RecordsWritten prometheus.Counter
	Runs           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Trials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_trials_total",
				Help: "Benchmark trials by outcome.",
			},
			[]string{"provider", "model", "mode", "status"},
		),
		TTFT: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmbench_ttft_seconds",
				Help:    "Time to first token of successful streaming trials.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "model"},
		),
		TrialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmbench_trial_duration_seconds",
				Help:    "Total time of successful trials.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider", "model", "mode"},
		),
		RecordsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "llmbench_records_written_total",
				Help: "Aggregated run records persisted.",
			},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_runs_total",
				Help: "Benchmark runs by final state.",
			},
			[]string{"state"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Trials, m.TTFT, m.TrialDuration, m.RecordsWritten, m.Runs)
	}
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns collectors registered with the default Prometheus registry
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveTrial records the outcome of one trial
func (m *Metrics) ObserveTrial(provider, model, mode string, err error, duration float64, ttft float64, hasTTFT bool) {
	if m == nil {
		return
	}
	if err != nil {
		m.Trials.WithLabelValues(provider, model, mode, "failure").Inc()
		return
	}
	m.Trials.WithLabelValues(provider, model, mode, "success").Inc()
	m.TrialDuration.WithLabelValues(provider, model, mode).Observe(duration)
	if hasTTFT {
		m.TTFT.WithLabelValues(provider, model).Observe(ttft)
	}
}

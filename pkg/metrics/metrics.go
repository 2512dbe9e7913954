package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(New),
)

// Metrics holds the worker's prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	DeadLetters      prometheus.Counter
	AlertsDispatched *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfjet_jobs_processed_total",
			Help: "Jobs processed by lane, job name and outcome.",
		}, []string{"lane", "job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelfjet_job_duration_seconds",
			Help:    "Job processing duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"lane", "job"}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfjet_dead_letters_total",
			Help: "Jobs moved to the dead-letter store.",
		}),
		AlertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfjet_alerts_total",
			Help: "Alert rule engine outcomes.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.JobDuration,
		m.DeadLetters,
		m.AlertsDispatched,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

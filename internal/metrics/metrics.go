// Package metrics exports CloudMake activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/awmpietro/cloudmake/internal/engine"
)

const namespace = "cloudmake"

type Collector struct {
	policyRuns     *prometheus.CounterVec
	policyDuration *prometheus.HistogramVec
	changedEntries prometheus.Counter
	buildDuration  *prometheus.HistogramVec
	compileTime    *prometheus.HistogramVec
}

func New() *Collector {
	return &Collector{
		policyRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "policy_runs_total",
				Help:      "Policies executed, by result.",
			},
			[]string{"result"},
		),
		policyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "policy_duration_seconds",
				Help:      "Wall time of one policy action.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
			},
			[]string{"result"},
		),
		changedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "changed_entries_total",
			Help:      "Output entries whose digest changed after a policy ran.",
		}),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "daemon",
				Name:      "build_duration_seconds",
				Help:      "Wall time of one build cycle.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"result"},
		),
		compileTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "compiler",
				Name:      "compile_duration_seconds",
				Help:      "Time to compile a CloudMakefile.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
			},
			[]string{"result"},
		),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// ObservePolicy implements engine.Observer.
func (c *Collector) ObservePolicy(ev engine.PolicyEvent) {
	r := result(ev.Succeeded)
	c.policyRuns.WithLabelValues(r).Inc()
	c.policyDuration.WithLabelValues(r).Observe(ev.Duration.Seconds())
	c.changedEntries.Add(float64(ev.Changed))
}

func (c *Collector) ObserveBuild(trace *engine.Trace, err error) {
	if trace == nil {
		return
	}
	c.buildDuration.WithLabelValues(result(err == nil)).Observe(float64(trace.DurationMicros) / 1e6)
}

func (c *Collector) ObserveCompile(durationSeconds float64, err error) {
	c.compileTime.WithLabelValues(result(err == nil)).Observe(durationSeconds)
}

func (c *Collector) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(c.policyRuns, c.policyDuration, c.changedEntries, c.buildDuration, c.compileTime)
}

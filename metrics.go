package httpsepreload

import (
	"github.com/prometheus/client_golang/prometheus"
)

// buildMetrics are scoped to one build and written out as a textfile at the
// end, since a build is a batch job with nothing to scrape.
type buildMetrics struct {
	registry    *prometheus.Registry
	rulesets    *prometheus.CounterVec
	keys        prometheus.Gauge
	bodies      prometheus.Gauge
	verified    prometheus.Gauge
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
	failures    *prometheus.CounterVec
}

func newBuildMetrics() *buildMetrics {
	m := &buildMetrics{
		registry: prometheus.NewRegistry(),
		rulesets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpse_preload_rulesets_total",
			Help: "Rulesets seen by the build, by outcome",
		}, []string{"outcome"}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpse_preload_index_keys",
			Help: "Reverse host keys written to the store",
		}),
		bodies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpse_preload_index_bodies",
			Help: "Rule bodies registered across all keys",
		}),
		verified: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpse_preload_source_verified",
			Help: "1 if the source signature was verified, 0 if the source was unsigned",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpse_preload_build_duration_seconds",
			Help: "Wall time of the last build",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpse_preload_last_success_timestamp_seconds",
			Help: "Unix time of the last successful build",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpse_preload_build_failures_total",
			Help: "Failed builds, by stage",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(m.rulesets, m.keys, m.bodies, m.verified, m.duration, m.lastSuccess, m.failures)
	return m
}

func (m *buildMetrics) writeTo(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

package warmrestart

import "github.com/prometheus/client_golang/prometheus"

var metrics = struct {
	state       prometheus.Gauge
	completions *prometheus.CounterVec
	saves       prometheus.Counter
	saveErrors  prometheus.Counter
	dropped     prometheus.Counter
	cached      prometheus.Gauge
}{
	state: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsyncd",
		Subsystem: "warmrestart",
		Name:      "state",
		Help:      "Warm-restart state (0=cold start, 1=warm start, 2=initial sync in progress, 3=initial sync complete)",
	}),
	completions: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "warmrestart",
		Name:      "initial_sync_completions_total",
		Help:      "Number of initial sync completions by trigger",
	}, []string{"reason"}),
	saves: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "warmrestart",
		Name:      "state_saves_total",
		Help:      "Number of successful state file saves",
	}),
	saveErrors: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "warmrestart",
		Name:      "state_save_errors_total",
		Help:      "Number of failed state file saves",
	}),
	dropped: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netsyncd",
		Subsystem: "warmrestart",
		Name:      "cache_entries_dropped_total",
		Help:      "Number of corrupt cache entries dropped on load",
	}),
	cached: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsyncd",
		Subsystem: "warmrestart",
		Name:      "cached_entities",
		Help:      "Number of entities loaded from the state file",
	}),
}

func init() {
	prometheus.MustRegister(metrics.state)
	prometheus.MustRegister(metrics.completions)
	prometheus.MustRegister(metrics.saves)
	prometheus.MustRegister(metrics.saveErrors)
	prometheus.MustRegister(metrics.dropped)
	prometheus.MustRegister(metrics.cached)
}

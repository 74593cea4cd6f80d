package health

import "github.com/prometheus/client_golang/prometheus"

var metrics = struct {
	status *prometheus.GaugeVec
	checks *prometheus.GaugeVec
}{
	status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netsyncd",
		Name:      "health_status",
		Help:      "1 for the current overall health level, 0 for the others",
	}, []string{"status"}),
	checks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netsyncd",
		Subsystem: "health",
		Name:      "check_severity",
		Help:      "Per-check severity (0=healthy, 1=degraded, 2=unhealthy)",
	}, []string{"check"}),
}

func init() {
	prometheus.MustRegister(metrics.status)
	prometheus.MustRegister(metrics.checks)
}

func recordReport(r Report) {
	for _, s := range []Status{StatusHealthy, StatusDegraded, StatusUnhealthy} {
		v := 0.0
		if s == r.Overall {
			v = 1
		}
		metrics.status.WithLabelValues(string(s)).Set(v)
	}
	for _, res := range r.Results {
		metrics.checks.WithLabelValues(res.Check).Set(float64(res.Status.severity()))
	}
}

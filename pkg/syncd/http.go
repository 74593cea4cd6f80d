package syncd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newtron-network/netsyncd/pkg/health"
	"github.com/newtron-network/netsyncd/pkg/pipeline"
	"github.com/newtron-network/netsyncd/pkg/rtnl"
	"github.com/newtron-network/netsyncd/pkg/warmrestart"
)

// StatusReport is the /healthz body.
type StatusReport struct {
	Health      health.Report          `json:"health"`
	WarmRestart warmrestart.Status     `json:"warm_restart"`
	Pipeline    pipeline.StatsSnapshot `json:"pipeline"`
	Source      *rtnl.StatsSnapshot    `json:"source,omitempty"`
}

// Status collects the current daemon status.
func (d *Daemon) Status() StatusReport {
	r := StatusReport{
		Health:      d.monitor.Status(),
		WarmRestart: d.manager.Status(),
		Pipeline:    d.pipeline.Stats().Snapshot(),
	}
	if st, ok := d.source.(sourceStats); ok {
		snap := st.Stats().Snapshot()
		r.Source = &snap
	}
	return r
}

// Handler serves /metrics and /healthz. /healthz answers 503 while the
// daemon is unhealthy.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := d.Status()
		w.Header().Set("Content-Type", "application/json")
		if status.Health.Overall == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			d.log.Debugf("Writing /healthz response: %v", err)
		}
	})
	return mux
}

// serve runs the HTTP endpoint until ctx ends. A listen failure stops the
// daemon.
func (d *Daemon) serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              d.cfg.MetricsAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	d.log.Infof("Serving /metrics and /healthz on %s", d.cfg.MetricsAddr)
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}

// Package syncd wires the event source, warm-restart manager, reconciliation
// engine, pipeline and health monitor into the running daemon.
//
// The daemon is an explicitly owned context object: every component hangs
// off a Daemon value and nothing is reachable through package globals.
// Run starts one goroutine per task under an errgroup:
//
//	reader     socket → events channel
//	syncer     events → live map, EOIU/timeout, reconciliation, state saves
//	flusher    pipeline.Run, the only APPL_DB writer
//	connector  initial APPL_DB connection with unbounded backoff
//	health     periodic health evaluation
//	http       /metrics and /healthz (when metrics_addr is set)
package syncd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/netsyncd/pkg/eoiu"
	"github.com/newtron-network/netsyncd/pkg/health"
	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/pipeline"
	"github.com/newtron-network/netsyncd/pkg/reconcile"
	"github.com/newtron-network/netsyncd/pkg/rtnl"
	"github.com/newtron-network/netsyncd/pkg/settings"
	"github.com/newtron-network/netsyncd/pkg/util"
	"github.com/newtron-network/netsyncd/pkg/warmrestart"
)

// EventSource delivers kernel events. *rtnl.Source implements it.
type EventSource interface {
	Start() error
	Next(ctx context.Context) (rtnl.Event, error)
	Alive() bool
	Close() error
}

// Store is the downstream database. *appldb.Client implements it.
type Store interface {
	pipeline.Writer
	Connect(ctx context.Context) error
	LoadEntities(ctx context.Context, table string) (map[string]model.Entity, error)
	Alive() bool
	Close() error
}

// sourceStats is implemented by sources that count malformed messages.
type sourceStats interface {
	Stats() *rtnl.Stats
}

// eventBuffer sizes the channel between the reader and the syncer.
const eventBuffer = 1024

// Daemon owns every component of one netsyncd process.
type Daemon struct {
	cfg    *settings.Settings
	source EventSource
	store  Store
	log    *logrus.Entry

	manager  *warmrestart.Manager
	acked    *ackedState
	detector *eoiu.Detector
	engine   *reconcile.Engine
	pipeline *pipeline.Pipeline
	monitor  *health.Monitor

	events  chan rtnl.Event
	flushed chan struct{}

	// Owned by the syncer goroutine.
	start    warmrestart.State
	cached   map[string]model.Entity
	live     map[string]model.Entity // what APPL_DB holds once pending writes land
	observed map[string]model.Entity // entities seen during a warm initial sync
	synced   bool
	savedRev uint64 // acked revision in the state file

	processed atomic.Uint64
	overflows atomic.Uint64
	lastEvent atomic.Int64 // unix nanoseconds
}

// New creates a daemon from validated settings. Run starts it.
func New(cfg *settings.Settings, source EventSource, store Store) *Daemon {
	d := &Daemon{
		cfg:    cfg,
		source: source,
		store:  store,
		log:    util.WithComponent("syncd"),
		manager: warmrestart.NewManager(warmrestart.Config{
			StatePath:             cfg.StateFile,
			ReconciliationTimeout: cfg.ReconciliationTimeout,
		}),
		acked:    newAckedState(),
		detector: eoiu.NewDetector(cfg.SentinelInterface),
		engine:   reconcile.NewEngine(),
		events:   make(chan rtnl.Event, eventBuffer),
		flushed:  make(chan struct{}),
		live:     make(map[string]model.Entity),
	}
	d.pipeline = pipeline.New(pipeline.Config{
		BatchSize:            cfg.BatchSize,
		BatchTimeout:         cfg.BatchTimeout,
		MaxPending:           cfg.MaxPending,
		RetryInitialInterval: cfg.RetryInitialInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
		ShutdownGrace:        cfg.ShutdownGrace,
		OnWritten:            d.acked.record,
	}, store, d.manager)
	d.monitor = health.NewMonitor(health.Config{
		StallThreshold:     cfg.StallThreshold,
		ErrorRateThreshold: cfg.ErrorRateThreshold,
		Interval:           cfg.HealthInterval,
	}, d.sample)
	return d
}

// Run starts the daemon and blocks until ctx is cancelled and shutdown has
// finished. It returns an error only when the event source cannot start.
func (d *Daemon) Run(ctx context.Context) error {
	d.start = d.manager.Initialize()
	if d.start == warmrestart.WarmStart {
		d.observed = make(map[string]model.Entity)
		if cached, ok := d.manager.TakeCached(); ok {
			d.cached = cached
			for key, e := range cached {
				d.live[key] = e
			}
		}
		d.manager.BeginInitialSync()
	}

	defer d.store.Close()
	if err := d.source.Start(); err != nil {
		return fmt.Errorf("starting event source: %w", err)
	}
	defer d.source.Close()

	d.log.WithFields(logrus.Fields{
		"start":    d.start,
		"sentinel": d.detector.Sentinel(),
		"redis":    d.cfg.RedisAddr,
	}).Info("netsyncd started")

	// The flusher outlives ctx: the syncer closes the pipeline once it has
	// stopped producing, and the pipeline bounds its own drain.
	flushCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.read(gctx) })
	g.Go(func() error { return d.syncLoop(gctx) })
	g.Go(func() error {
		defer close(d.flushed)
		return d.pipeline.Run(flushCtx)
	})
	g.Go(func() error { return d.connect(gctx) })
	g.Go(func() error { return d.monitor.Run(gctx) })
	if d.cfg.MetricsAddr != "" {
		g.Go(func() error { return d.serve(gctx) })
	}

	err := g.Wait()
	d.log.Info("netsyncd stopped")
	return err
}

// read drains the event source into the events channel. It never fails the
// group: a dead socket is reported through health.
func (d *Daemon) read(ctx context.Context) error {
	defer close(d.events)
	for {
		ev, err := d.source.Next(ctx)
		switch {
		case err == nil:
			select {
			case d.events <- ev:
			case <-ctx.Done():
				return nil
			}
		case errors.Is(err, rtnl.ErrOverflow):
			d.overflows.Add(1)
			d.log.Warn("Kernel event socket overflowed; events were lost")
		case ctx.Err() != nil:
			return nil
		default:
			d.log.Errorf("Event source failed; no further kernel events: %v", err)
			return nil
		}
	}
}

// connect establishes the first APPL_DB connection. Writes retry on their
// own, so the daemon does not wait for it.
func (d *Daemon) connect(ctx context.Context) error {
	if err := d.store.Connect(ctx); err != nil && ctx.Err() == nil {
		d.log.Warnf("APPL_DB connect: %v", err)
	}
	return nil
}

// sample gathers the health inputs.
func (d *Daemon) sample() health.Sample {
	s := health.Sample{
		Now:         time.Now(),
		Processed:   d.processed.Load(),
		Errors:      d.overflows.Load() + d.pipeline.Stats().Snapshot().Failures,
		SocketAlive: d.source.Alive(),
		DBAlive:     d.store.Alive(),
	}
	if st, ok := d.source.(sourceStats); ok {
		snap := st.Stats().Snapshot()
		s.LastEvent = snap.LastEvent
		s.Errors += snap.Malformed
	}
	if last := d.lastEvent.Load(); last != 0 && s.LastEvent.IsZero() {
		s.LastEvent = time.Unix(0, last)
	}
	return s
}

// Manager exposes the warm-restart manager for status reporting.
func (d *Daemon) Manager() *warmrestart.Manager { return d.manager }

// Health returns the last health report.
func (d *Daemon) Health() health.Report { return d.monitor.Status() }

package syncd

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/pipeline"
	"github.com/newtron-network/netsyncd/pkg/reconcile"
	"github.com/newtron-network/netsyncd/pkg/rtnl"
	"github.com/newtron-network/netsyncd/pkg/util"
	"github.com/newtron-network/netsyncd/pkg/warmrestart"
)

// sweepTimeout bounds the APPL_DB scan of the cold-start sweep.
const sweepTimeout = 10 * time.Second

// syncLoop is the only goroutine that touches the live and observed maps
// and drives the warm-restart state machine.
func (d *Daemon) syncLoop(ctx context.Context) error {
	events := d.events

	save := time.NewTicker(d.cfg.StateSaveInterval)
	defer save.Stop()

	// A cold start holds nothing back, but the EOIU marker may still never
	// arrive; completion then falls back to the reconciliation timeout.
	var fallback <-chan time.Time
	if d.start == warmrestart.ColdStart {
		t := time.NewTimer(d.cfg.ReconciliationTimeout)
		defer t.Stop()
		fallback = t.C
	}

	for {
		timeout := d.manager.TimeoutC()
		if timeout == nil && !d.synced {
			timeout = fallback
		}

		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.handle(ctx, ev)
		case <-timeout:
			d.completeInitialSync(ctx, warmrestart.ReasonTimeout)
		case <-save.C:
			d.saveState()
		case <-ctx.Done():
			d.shutdown()
			return nil
		}
	}
}

// handle applies one kernel event.
func (d *Daemon) handle(ctx context.Context, ev rtnl.Event) {
	d.processed.Add(1)
	d.lastEvent.Store(time.Now().UnixNano())

	if ev.Managed {
		d.apply(ctx, ev)
	}

	// Unmanaged links still reach the detector: the sentinel is usually one.
	if ev.IsLink() && d.detector.Check(ev.Entity.Name, ev.Change, ev.MsgFlags, ev.Sentinel) {
		d.completeInitialSync(ctx, warmrestart.ReasonEOIU)
		if err := d.detector.Acknowledge(); err != nil {
			d.log.Error(err)
		}
	}
}

// apply folds an event into the live map and enqueues the resulting write.
// Events that leave an entity unchanged produce no write.
func (d *Daemon) apply(ctx context.Context, ev rtnl.Event) {
	e := ev.Entity
	key := e.Key()

	switch ev.Action {
	case rtnl.ActionNew:
		if d.observed != nil {
			d.observed[key] = e
		}
		cur, ok := d.live[key]
		if ok && cur.Equal(e) {
			return
		}
		op := model.OpUpdate
		if !ok {
			op = model.OpAdd
		}
		d.live[key] = e
		d.enqueue(ctx, model.SetRecord(op, e))

	case rtnl.ActionDelete:
		if d.observed != nil {
			delete(d.observed, key)
		}
		cur, ok := d.live[key]
		if !ok {
			return
		}
		delete(d.live, key)
		d.enqueue(ctx, model.DeleteRecord(cur))
	}
}

func (d *Daemon) enqueue(ctx context.Context, rec model.Record) {
	if err := d.pipeline.Enqueue(ctx, rec); err != nil {
		// The state file only holds acknowledged rows, so the next start
		// still sees this one as missing.
		if ctx.Err() == nil && !pipeline.IsClosed(err) {
			util.WithEntity("syncd", rec.ID()).Warnf("Enqueue failed: %v", err)
		}
		return
	}
	util.WithEntity("syncd", rec.ID()).Debugf("Queued %s", rec.Op)
}

// completeInitialSync ends the initial sync. On a warm start it reconciles
// the cache against what the kernel reported; on a cold start it optionally
// sweeps stale APPL_DB rows.
func (d *Daemon) completeInitialSync(ctx context.Context, reason warmrestart.Reason) {
	if !d.manager.CompleteInitialSync(reason) {
		return
	}
	d.synced = true

	switch d.start {
	case warmrestart.WarmStart:
		d.reconcile(ctx)
	case warmrestart.ColdStart:
		if d.cfg.ColdStartSweep {
			d.sweep(ctx)
		}
	}

	d.pipeline.Kick()
	d.saveState()
}

// reconcile applies the warm-restart diff. Adds and updates were queued by
// the events themselves, so in practice only deletions of cached entities
// the kernel no longer reports produce new writes.
func (d *Daemon) reconcile(ctx context.Context) {
	observed := d.observed
	d.observed = nil

	diff, err := d.engine.Apply(d.cached, observed, func(rec model.Record) error {
		d.reconcileRecord(ctx, rec)
		return nil
	})
	d.cached = nil
	if err != nil {
		d.log.Errorf("Reconciliation failed: %v", err)
		return
	}
	d.log.WithFields(logrus.Fields{
		"add":    len(diff.ToAdd),
		"update": len(diff.ToUpdate),
		"delete": len(diff.ToDelete),
	}).Info("Reconciled cached state against kernel")
}

// reconcileRecord enqueues a diff record unless the live map shows the same
// write is already queued.
func (d *Daemon) reconcileRecord(ctx context.Context, rec model.Record) {
	cur, ok := d.live[rec.Key]

	if rec.Op == model.OpDelete {
		if !ok {
			return
		}
		delete(d.live, rec.Key)
		d.enqueue(ctx, rec)
		return
	}

	if ok && maps.Equal(cur.Fields(), rec.Fields) {
		return
	}
	e, err := model.EntityFromFields(rec.Table, rec.Key, rec.Fields)
	if err != nil {
		util.WithEntity("syncd", rec.ID()).Errorf("Reconciled record does not decode: %v", err)
		return
	}
	d.live[rec.Key] = e
	d.enqueue(ctx, rec)
}

// sweep deletes APPL_DB rows for managed interfaces the kernel did not
// report during the initial dump.
func (d *Daemon) sweep(ctx context.Context) {
	if len(d.cfg.InterfacePrefixes) == 0 {
		d.log.Warn("Cold-start sweep needs interface_prefixes; skipped")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	stored := make(map[string]model.Entity)
	for _, table := range []string{model.PortTable, model.NeighTable} {
		rows, err := d.store.LoadEntities(sctx, table)
		if err != nil {
			d.log.Warnf("Cold-start sweep skipped: %v", err)
			return
		}
		for key, e := range rows {
			if d.managed(e.Name) {
				stored[key] = e
			}
		}
	}

	diff := reconcile.Compute(stored, d.live)
	for _, key := range diff.ToDelete {
		d.enqueue(ctx, model.DeleteRecord(stored[key]))
	}
	d.log.WithFields(logrus.Fields{
		"scanned": len(stored),
		"deleted": len(diff.ToDelete),
	}).Info("Cold-start sweep complete")
}

func (d *Daemon) managed(name string) bool {
	for _, prefix := range d.cfg.InterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// saveState persists what APPL_DB has acknowledged, once initial sync has
// completed and a write landed since the last save. Records still pending or
// failing are left out.
func (d *Daemon) saveState() {
	if !d.synced {
		return
	}
	entities, rev := d.acked.snapshot()
	if rev == d.savedRev {
		return
	}
	if err := d.manager.SaveState(entities); err == nil {
		d.savedRev = rev
	}
}

// shutdown stops producing, lets the pipeline drain, then saves what was
// acknowledged for the next start.
func (d *Daemon) shutdown() {
	holding := d.manager.ShouldSkipDownstreamWrites()

	d.pipeline.Close()
	<-d.flushed

	if dropped := d.pipeline.Stats().Snapshot().Dropped; dropped > 0 {
		d.log.WithField("dropped", dropped).Warn("Stopped with unwritten records")
	}
	if holding {
		// Nothing was written this run, so the previous state file still
		// describes APPL_DB.
		d.log.Info("Stopped during initial sync; previous state file kept")
		return
	}

	entities, rev := d.acked.snapshot()
	if rev == d.savedRev {
		return
	}
	if err := d.manager.SaveState(entities); err == nil {
		d.savedRev = rev
		d.log.Infof("Saved %d entities at shutdown", len(entities))
	}
}

// Package pipeline batches APPL_DB records and writes them from a single
// flusher goroutine.
//
// A flush happens when the pending count reaches the batch size or when the
// oldest pending record has waited for the batch timeout, whichever comes
// first. One batch is in flight at a time, written from a helper goroutine
// so the flusher keeps taking input meanwhile. Failed writes are retried with
// exponential backoff and never dropped. Input is a bounded channel: when the
// pending queue is at its cap, the flusher stops reading it and producers
// block.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// Writer sends one batch downstream as a single pipelined operation.
type Writer interface {
	Write(ctx context.Context, records []model.Record) error
}

// Gate holds flushes back while it reports true.
type Gate interface {
	ShouldSkipDownstreamWrites() bool
}

// Config tunes a Pipeline. Zero values select the defaults.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	// MaxPending caps the pending queue.
	MaxPending int
	// InputBuffer sizes the channel between producers and the flusher.
	InputBuffer          int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// ShutdownGrace bounds the final drain after Close.
	ShutdownGrace time.Duration
	// OnWritten, when set, receives every batch APPL_DB acknowledged, in
	// write order. It runs on the flusher goroutine.
	OnWritten func([]model.Record)
}

const (
	DefaultBatchSize            = 100
	DefaultBatchTimeout         = 100 * time.Millisecond
	DefaultMaxPending           = 65536
	DefaultRetryInitialInterval = 100 * time.Millisecond
	DefaultRetryMaxInterval     = 5 * time.Second
	DefaultShutdownGrace        = 2 * time.Second
)

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.MaxPending < c.BatchSize {
		c.MaxPending = c.BatchSize
	}
	if c.InputBuffer <= 0 {
		c.InputBuffer = c.BatchSize
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
}

// entry is a pending record and the time it was taken off the input.
type entry struct {
	rec model.Record
	at  time.Time
}

// writeResult is what the write goroutine hands back to Run.
type writeResult struct {
	batch []model.Record
	took  time.Duration
	err   error
}

// Pipeline is the batching writer. Enqueue, Kick, Close and Stats are safe
// from any goroutine; Run must be called exactly once.
type Pipeline struct {
	cfg    Config
	writer Writer
	gate   Gate
	log    *logrus.Entry

	in        chan model.Record
	kick      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once

	stats Stats

	done chan writeResult

	// Owned by Run.
	pending  []entry
	inflight []entry // taken off pending while their batch is written
	backoff  *backoff.ExponentialBackOff
	retrying bool
	retryAt  time.Time
}

// New creates a pipeline. A nil gate never holds writes back.
func New(cfg Config, writer Writer, gate Gate) *Pipeline {
	cfg.setDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitialInterval
	b.MaxInterval = cfg.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	return &Pipeline{
		cfg:     cfg,
		writer:  writer,
		gate:    gate,
		log:     util.WithComponent("pipeline"),
		in:      make(chan model.Record, cfg.InputBuffer),
		kick:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan writeResult, 1),
		backoff: b,
	}
}

// Enqueue hands a record to the flusher. It blocks while the input is full
// and returns util.ErrClosed after Close.
func (p *Pipeline) Enqueue(ctx context.Context, rec model.Record) error {
	select {
	case <-p.closing:
		return util.ErrClosed
	default:
	}
	select {
	case p.in <- rec:
		p.stats.recordEnqueued()
		return nil
	case <-p.closing:
		return util.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick asks the flusher to re-evaluate the gate and flush what is due. It
// never blocks.
func (p *Pipeline) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Close stops intake. Run drains what was enqueued, flushes within the
// shutdown grace period, and returns.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.closing) })
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() *Stats { return &p.stats }

// Run is the flusher loop. It returns nil after Close has been handled, or
// ctx.Err() if ctx ends first.
func (p *Pipeline) Run(ctx context.Context) error {
	wctx, cancelWrites := context.WithCancel(ctx)
	defer cancelWrites()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		in := p.in
		if p.depth() >= p.cfg.MaxPending {
			p.compact()
			if p.depth() >= p.cfg.MaxPending {
				in = nil
				p.stats.setThrottled(true)
			}
		}
		if in != nil {
			p.stats.setThrottled(false)
		}

		var timerC <-chan time.Time
		if deadline, ok := p.nextDeadline(); ok {
			timer.Reset(time.Until(deadline))
			timerC = timer.C
		} else {
			timer.Stop()
		}

		select {
		case rec := <-in:
			p.add(rec, time.Now())
			if len(p.pending) >= p.cfg.BatchSize {
				p.flushDue(wctx)
			}
		case res := <-p.done:
			p.finish(res)
			p.flushDue(wctx)
		case <-timerC:
			p.flushDue(wctx)
		case <-p.kick:
			p.flushDue(wctx)
		case <-p.closing:
			return p.shutdown(ctx, cancelWrites)
		case <-ctx.Done():
			if p.inflight != nil {
				p.finish(<-p.done)
			}
			return ctx.Err()
		}
	}
}

func (p *Pipeline) add(rec model.Record, now time.Time) {
	p.pending = append(p.pending, entry{rec: rec, at: now})
	p.stats.setPending(p.depth())
}

// depth counts pending records, including the batch in flight.
func (p *Pipeline) depth() int {
	return len(p.pending) + len(p.inflight)
}

func (p *Pipeline) gated() bool {
	return p.gate != nil && p.gate.ShouldSkipDownstreamWrites()
}

// nextDeadline returns when the loop next needs to wake without input. While
// a write is in flight its result wakes the loop.
func (p *Pipeline) nextDeadline() (time.Time, bool) {
	if len(p.pending) == 0 || p.inflight != nil {
		return time.Time{}, false
	}
	if p.retrying {
		return p.retryAt, true
	}
	if p.gated() {
		// Poll in case a Kick is missed.
		return time.Now().Add(p.cfg.BatchTimeout), true
	}
	return p.pending[0].at.Add(p.cfg.BatchTimeout), true
}

// flushDue starts a write of the first batch if it is full or its oldest
// record has timed out. Run calls it again when that write completes.
func (p *Pipeline) flushDue(ctx context.Context) {
	if p.inflight != nil || len(p.pending) == 0 {
		return
	}
	if p.gated() {
		return
	}
	if p.retrying && time.Now().Before(p.retryAt) {
		return
	}
	full := len(p.pending) >= p.cfg.BatchSize
	expired := !time.Now().Before(p.pending[0].at.Add(p.cfg.BatchTimeout))
	if !full && !expired && !p.retrying {
		return
	}
	p.write(ctx)
}

// write moves the first batch of pending records in flight and writes it on
// a new goroutine. The result arrives on p.done.
func (p *Pipeline) write(ctx context.Context) {
	n := len(p.pending)
	if n > p.cfg.BatchSize {
		n = p.cfg.BatchSize
	}
	p.inflight = append([]entry(nil), p.pending[:n]...)
	rest := copy(p.pending, p.pending[n:])
	clear(p.pending[rest:])
	p.pending = p.pending[:rest]

	batch := compactRecords(p.inflight)
	if p.retrying {
		p.stats.recordRetry()
	}
	go func() {
		start := time.Now()
		err := p.writer.Write(ctx, batch)
		p.done <- writeResult{batch: batch, took: time.Since(start), err: err}
	}()
}

// finish settles the batch in flight. On failure its records go back to the
// front of the pending queue and a retry is scheduled.
func (p *Pipeline) finish(res writeResult) error {
	p.stats.recordWrite(len(res.batch), res.took, res.err)
	taken := p.inflight
	p.inflight = nil

	if res.err != nil {
		p.pending = append(taken, p.pending...)
		p.stats.setPending(p.depth())
		wait := p.backoff.NextBackOff()
		p.retrying = true
		p.retryAt = time.Now().Add(wait)
		p.log.WithFields(logrus.Fields{
			"records": len(res.batch),
			"pending": len(p.pending),
			"retry":   wait.Round(time.Millisecond),
		}).Warnf("APPL_DB write failed: %v", res.err)
		return res.err
	}

	if p.retrying {
		p.log.Infof("APPL_DB write recovered; %d records written", len(res.batch))
	}
	p.retrying = false
	p.backoff.Reset()
	p.stats.setPending(p.depth())
	if p.cfg.OnWritten != nil {
		p.cfg.OnWritten(res.batch)
	}
	p.log.Debugf("Flushed %d records (%d compacted away)", len(res.batch), len(taken)-len(res.batch))
	return nil
}

// compact drops every pending record superseded by a later one for the
// same row.
func (p *Pipeline) compact() {
	before := len(p.pending)
	last := make(map[string]int, before)
	for i, e := range p.pending {
		last[e.rec.ID()] = i
	}
	if len(last) == before {
		return
	}
	out := p.pending[:0]
	for i, e := range p.pending {
		if last[e.rec.ID()] == i {
			out = append(out, e)
		}
	}
	clear(p.pending[len(out):])
	p.pending = out
	p.stats.recordCompacted(before - len(out))
	p.stats.setPending(p.depth())
	p.log.Debugf("Compacted pending queue from %d to %d records", before, len(out))
}

// compactRecords keeps the last record per row, in the order of those last
// occurrences.
func compactRecords(entries []entry) []model.Record {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.rec.ID()] = i
	}
	out := make([]model.Record, 0, len(last))
	for i, e := range entries {
		if last[e.rec.ID()] == i {
			out = append(out, e.rec)
		}
	}
	return out
}

// shutdown drains the input and flushes within the grace period. Records
// still held back by the gate are not written. A write still in flight when
// the grace period ends is cancelled.
func (p *Pipeline) shutdown(ctx context.Context, cancelWrites context.CancelFunc) error {
	drained := 0
drain:
	for {
		select {
		case rec := <-p.in:
			p.add(rec, time.Now())
			drained++
		default:
			break drain
		}
	}

	graceCtx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownGrace)
	defer cancel()

	if p.inflight != nil {
		select {
		case res := <-p.done:
			p.finish(res)
		case <-graceCtx.Done():
			cancelWrites()
			p.finish(<-p.done)
		}
	}
	p.compact()

	if len(p.pending) > 0 && p.gated() {
		p.stats.recordDropped(len(p.pending))
		p.log.Warnf("Shutting down during initial sync; %d held records not written", len(p.pending))
		return nil
	}

	for len(p.pending) > 0 && graceCtx.Err() == nil {
		p.write(graceCtx)
		if err := p.finish(<-p.done); err == nil {
			continue
		}
		select {
		case <-graceCtx.Done():
		case <-time.After(time.Until(p.retryAt)):
		}
	}

	if len(p.pending) > 0 {
		p.stats.recordDropped(len(p.pending))
		p.log.Warnf("Shutdown grace %s expired; %d records not written", p.cfg.ShutdownGrace, len(p.pending))
		return nil
	}
	p.log.WithField("drained", drained).Info("Pipeline flushed and stopped")
	return nil
}

// IsClosed reports whether err is the error Enqueue returns after Close.
func IsClosed(err error) bool {
	return errors.Is(err, util.ErrClosed)
}

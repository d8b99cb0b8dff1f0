// Package engine drains buffered channel points into the configured
// sinks. Each stream runs one Engine: a small worker pool picks up
// writer queues when their buffers cross the occupancy threshold or
// age out, folds the points into typed batches, and delivers them to
// the remote with bounded retry, falling back to the local log when
// the remote stays unreachable.
//
// Pushing points never blocks on delivery. Flush and Stop are the
// only blocking points; both wait for the work they cover rather than
// cancelling it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/metric"
	"github.com/c360/pointstream/pkg/retry"
	"github.com/c360/pointstream/pkg/worker"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/sink"
)

// Drainable is an ordered source of pending batches, typically a
// channel writer's buffer. Implementations must be safe for
// concurrent use with new pushes.
type Drainable interface {
	// TakeBatch removes and returns the next pending batch, at most
	// max points. ok is false when nothing is pending.
	TakeBatch(max int) (b point.Batch, ok bool)

	// PendingSince reports when the oldest pending point was pushed.
	// ok is false when the buffer is empty.
	PendingSince() (t time.Time, ok bool)
}

// Engine owns delivery for one stream. At least one of remote and
// fallback must be set; with both, the fallback absorbs batches the
// remote rejects past the retry budget.
type Engine struct {
	cfg      config.EngineConfig
	remote   sink.Remote
	fallback *sink.FallbackLog
	retryCfg retry.Config
	logger   *slog.Logger
	metrics  *metric.Metrics

	pool    *worker.Pool[*Queue]
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool

	mu      sync.Mutex
	started bool
	queues  map[*Queue]struct{}
}

// New creates an engine delivering to remote and fallback, either of
// which may be nil but not both. The logger may be nil; metrics may
// be nil to disable instrumentation.
func New(cfg config.EngineConfig, remote sink.Remote, fallback *sink.FallbackLog, logger *slog.Logger, metrics *metric.Metrics) (*Engine, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if remote == nil && fallback == nil {
		return nil, errors.WrapInvalidParam(errors.ErrNoDestination,
			"Engine", "New", "sink check")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		remote:   remote,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		queues:   make(map[*Queue]struct{}),
	}
	e.pool = worker.NewPool(cfg.Workers, 1024, e.processQueue)

	e.retryCfg = cfg.RetryConfig()
	e.retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.metrics.RecordRetry()
		e.logger.Debug("upload retry scheduled",
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	return e, nil
}

// Start launches the worker pool and the age ticker. The context
// governs delivery attempts made by the background workers; Stop does
// not cancel work already picked up.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.WrapRuntime(
			fmt.Errorf("engine already started"), "Engine", "Start", "state check")
	}
	e.started = true

	if err := e.pool.Start(ctx); err != nil {
		return errors.WrapRuntime(err, "Engine", "Start", "start delivery pool")
	}
	e.wg.Add(1)
	go e.ageTicker()
	return nil
}

// Stop shuts the ticker and workers down and waits for them. Buffers
// are expected to be empty: the stream flushes and closes every
// writer before stopping its engine. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped.Load() {
		e.mu.Unlock()
		return
	}
	e.stopped.Store(true)
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	e.pool.Stop()

	stats := e.pool.Stats()
	e.logger.Debug("delivery pool drained",
		"drains", stats.Processed,
		"failed", stats.Failed,
		"dropped_wakes", stats.Dropped)
}

// NewQueue registers a drainable source with the engine and returns
// its scheduling handle.
func (e *Engine) NewQueue(source Drainable) *Queue {
	q := &Queue{eng: e, source: source}
	e.mu.Lock()
	e.queues[q] = struct{}{}
	e.mu.Unlock()
	return q
}

// processQueue is the pool processor: one scheduled drain of one
// queue. The error return feeds the pool's failure counter; the
// queue's own first-error slot is what Flush surfaces.
func (e *Engine) processQueue(ctx context.Context, q *Queue) error {
	q.drainMu.Lock()
	err := e.drainAll(ctx, q.source)
	q.drainMu.Unlock()
	if err != nil {
		q.recordErr(err)
	}
	q.finishRun()
	return err
}

// ageTicker wakes queues whose oldest pending point has waited past
// the batch age bound.
func (e *Engine) ageTicker() {
	defer e.wg.Done()

	maxAge := e.cfg.MaxBatchAge()
	interval := maxAge / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-maxAge)
			for _, q := range e.snapshotQueues() {
				if since, ok := q.source.PendingSince(); ok && since.Before(cutoff) {
					q.Wake()
				}
			}
		}
	}
}

func (e *Engine) snapshotQueues() []*Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := make([]*Queue, 0, len(e.queues))
	for q := range e.queues {
		list = append(list, q)
	}
	return list
}

func (e *Engine) dropQueue(q *Queue) {
	e.mu.Lock()
	delete(e.queues, q)
	e.mu.Unlock()
}

// enqueue schedules q on the worker pool without ever blocking the
// caller. A full queue spills to a goroutine that waits for room.
// Wakes arriving after Stop are dropped; by then every buffer has
// been flushed.
func (e *Engine) enqueue(q *Queue) {
	if e.stopped.Load() {
		q.finishRun()
		return
	}
	if err := e.pool.TrySubmit(q); err == nil {
		return
	}
	go func() {
		if err := e.pool.SubmitWait(q); err != nil {
			q.finishRun()
		}
	}()
}

// drainAll delivers every batch pending in source. It keeps draining
// past delivery failures so a dead remote cannot wedge the buffer,
// and returns the first error.
func (e *Engine) drainAll(ctx context.Context, source Drainable) error {
	var firstErr error
	for {
		b, ok := source.TakeBatch(e.cfg.MaxBatchSize)
		if !ok {
			return firstErr
		}
		if err := e.deliver(ctx, b); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Error("batch lost",
				"dataset", b.Dataset,
				"channel", b.Channel.Key(),
				"points", b.Len(),
				"error", err)
		}
	}
}

// deliver ships one batch: remote with retry when configured, then
// the fallback log. A batch is only reported failed when no sink
// accepted it.
func (e *Engine) deliver(ctx context.Context, b point.Batch) error {
	if e.remote == nil {
		return e.archive(b)
	}

	start := time.Now()
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		return e.remote.Send(ctx, b)
	})
	e.metrics.ObserveUpload(metric.SinkRemote, time.Since(start))

	if err == nil {
		e.metrics.RecordDelivered(b.Dataset, metric.SinkRemote, b.Len())
		return nil
	}

	if e.fallback != nil {
		e.logger.Warn("remote unavailable, archiving batch",
			"dataset", b.Dataset,
			"channel", b.Channel.Key(),
			"points", b.Len(),
			"error", err)
		return e.archive(b)
	}

	e.metrics.RecordDeliveryFailure(b.Dataset, b.Len())
	return errors.WrapRuntime(err, "Engine", "deliver", "upload batch")
}

// archive appends one batch to the fallback log.
func (e *Engine) archive(b point.Batch) error {
	start := time.Now()
	n, err := e.fallback.Append(b)
	if err != nil {
		e.metrics.RecordDeliveryFailure(b.Dataset, b.Len())
		return err
	}
	e.metrics.ObserveUpload(metric.SinkFallback, time.Since(start))
	e.metrics.RecordDelivered(b.Dataset, metric.SinkFallback, b.Len())
	e.metrics.RecordFallbackBytes(n)
	return nil
}

// syncFallback pushes archived records to stable storage. Flush
// barriers call it so "flushed" means durable, not merely buffered.
func (e *Engine) syncFallback() error {
	if e.fallback == nil {
		return nil
	}
	return e.fallback.Sync()
}

// Package worker provides a generic bounded worker pool for
// background task processing.
//
// The pool differs from a plain channel-plus-goroutines setup in how
// it stops: the task channel is never closed, so submitters racing a
// shutdown get ErrPoolStopped back instead of a panic. Tasks still
// queued when Stop is called may or may not be processed; callers
// that need a completion guarantee must track it themselves.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool processes tasks of type T on a fixed set of workers fed by a
// bounded queue.
type Pool[T any] struct {
	workers int
	process func(context.Context, T) error

	tasks  chan T
	stopCh chan struct{}
	wg     sync.WaitGroup

	lifecycleMu sync.Mutex
	started     atomic.Bool
	stopped     atomic.Bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a pool of workers over a queue of queueSize tasks.
// Non-positive sizes fall back to defaults. Panics if process is nil:
// a pool without a processor is a programming error, not a runtime
// condition.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if process == nil {
		panic(ErrNilProcessor)
	}

	return &Pool[T]{
		workers: workers,
		process: process,
		tasks:   make(chan T, queueSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers. The context is handed to every process
// call; cancelling it does not stop the pool, it only cancels work in
// flight.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started.Load() {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started.Store(true)
	return nil
}

// Stop shuts the workers down and waits for in-flight tasks to
// finish. Idempotent. Tasks abandoned in the queue are counted as
// dropped.
func (p *Pool[T]) Stop() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started.Load() || p.stopped.Load() {
		return
	}
	p.stopped.Store(true)

	close(p.stopCh)
	p.wg.Wait()

	for {
		select {
		case <-p.tasks:
			p.dropped.Add(1)
		default:
			return
		}
	}
}

// TrySubmit queues a task without blocking. Returns ErrQueueFull when
// the queue is at capacity.
func (p *Pool[T]) TrySubmit(task T) error {
	if err := p.submitState(); err != nil {
		return err
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// SubmitWait queues a task, blocking until the queue has room or the
// pool stops. Returns ErrPoolStopped in the latter case.
func (p *Pool[T]) SubmitWait(task T) error {
	if err := p.submitState(); err != nil {
		return err
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	case <-p.stopCh:
		p.dropped.Add(1)
		return ErrPoolStopped
	}
}

func (p *Pool[T]) submitState() error {
	if !p.started.Load() {
		return ErrPoolNotStarted
	}
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	return nil
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueCap:   cap(p.tasks),
		QueueDepth: len(p.tasks),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Stats describes pool activity since Start.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueCap   int   `json:"queue_cap"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// worker pulls tasks until the pool stops.
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case task := <-p.tasks:
			err := p.process(ctx, task)
			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}
		}
	}
}

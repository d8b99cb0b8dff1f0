package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is the scheduling handle tying one Drainable to the engine.
// Writers call Wake after a push crosses the occupancy threshold;
// the age ticker wakes queues whose points have waited too long. At
// most one drain runs per queue at a time, so batches leave a writer
// in buffer order.
type Queue struct {
	eng    *Engine
	source Drainable

	// scheduled is true from Wake until the worker finishes the
	// drain, collapsing repeated wakes into one pass.
	scheduled atomic.Bool

	// drainMu serializes workers and Flush on this queue.
	drainMu sync.Mutex

	errMu   sync.Mutex
	lastErr error
}

// Wake schedules a background drain unless one is already pending.
// It never blocks.
func (q *Queue) Wake() {
	if q.scheduled.CompareAndSwap(false, true) {
		q.eng.enqueue(q)
	}
}

// Flush synchronously delivers everything pending at the call point,
// waits for any in-flight background drain of this queue, syncs the
// fallback log, and surfaces errors recorded by earlier background
// drains. Points pushed while Flush runs may or may not be covered.
func (q *Queue) Flush(ctx context.Context) error {
	q.drainMu.Lock()
	err := q.eng.drainAll(ctx, q.source)
	q.drainMu.Unlock()

	if prev := q.takeErr(); err == nil {
		err = prev
	}
	if err != nil {
		return err
	}
	return q.eng.syncFallback()
}

// Close flushes the queue and unregisters it from the engine.
func (q *Queue) Close(ctx context.Context) error {
	err := q.Flush(ctx)
	q.eng.dropQueue(q)
	return err
}

// finishRun clears the scheduled flag after a drain and reschedules
// if points arrived while the drain was finishing. The recheck closes
// the race with a push that lost its Wake to the still-set flag.
func (q *Queue) finishRun() {
	q.scheduled.Store(false)
	if q.eng.stopped.Load() {
		return
	}
	if _, ok := q.source.PendingSince(); ok {
		q.Wake()
	}
}

// recordErr keeps the first unreported delivery failure for the next
// Flush or Close to surface.
func (q *Queue) recordErr(err error) {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	if q.lastErr == nil {
		q.lastErr = err
	}
}

// takeErr returns and clears the recorded failure.
func (q *Queue) takeErr() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	err := q.lastErr
	q.lastErr = nil
	return err
}

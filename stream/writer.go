package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360/pointstream/engine"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
)

// Writer buffers points for one channel and hands them to the
// stream's engine in push order. Pushes never block on delivery;
// Flush and Close are the blocking barriers.
type Writer struct {
	owner *Stream
	desc  point.Descriptor
	queue *engine.Queue

	threshold int
	strict    bool

	mu           sync.Mutex
	phase        phase
	runs         []typedRun
	pending      int
	pendingSince time.Time
	fixedType    point.Type
	typed        bool
}

// typedRun is a stretch of consecutive same-type points. The buffer
// is a sequence of runs so channels may interleave value types while
// every delivered batch stays homogeneous.
type typedRun struct {
	typ point.Type
	pts []point.Point
}

var _ engine.Drainable = (*Writer)(nil)

func newWriter(owner *Stream, desc point.Descriptor) *Writer {
	w := &Writer{
		owner:     owner,
		desc:      desc,
		threshold: owner.engCfg.BatchThreshold,
		strict:    owner.engCfg.StrictTypes,
	}
	w.queue = owner.eng.NewQueue(w)
	return w
}

// Name returns the channel name.
func (w *Writer) Name() string {
	return w.desc.Name
}

// Descriptor returns the channel descriptor.
func (w *Writer) Descriptor() point.Descriptor {
	return w.desc
}

// Push appends typed points to the buffer, waking the engine when the
// occupancy threshold is crossed. The points slice is copied.
func (w *Writer) Push(typ point.Type, pts []point.Point) error {
	if len(pts) == 0 {
		return nil
	}

	w.mu.Lock()
	if w.phase != phaseActive {
		w.mu.Unlock()
		return errors.WrapInvalidHandle(errors.ErrWriterClosed, "Writer", "Push", "state check")
	}
	if w.strict {
		if w.typed && typ != w.fixedType {
			w.mu.Unlock()
			return errors.WrapInvalidParam(
				fmt.Errorf("%w: channel %q holds %s, push is %s",
					errors.ErrTypeMismatch, w.desc.Name, w.fixedType, typ),
				"Writer", "Push", "type check")
		}
		w.fixedType, w.typed = typ, true
	}

	if n := len(w.runs); n > 0 && w.runs[n-1].typ == typ {
		w.runs[n-1].pts = append(w.runs[n-1].pts, pts...)
	} else {
		w.runs = append(w.runs, typedRun{typ: typ, pts: append([]point.Point(nil), pts...)})
	}
	if w.pending == 0 {
		w.pendingSince = time.Now()
	}
	w.pending += len(pts)
	wake := w.pending >= w.threshold
	w.mu.Unlock()

	w.owner.metrics.RecordPush(w.owner.cfg.DatasetID, typ.String(), len(pts))
	if wake {
		w.queue.Wake()
	}
	return nil
}

// TakeBatch removes up to max points from the head of the buffer as
// one homogeneous batch.
func (w *Writer) TakeBatch(max int) (point.Batch, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.runs) == 0 {
		return point.Batch{}, false
	}

	run := &w.runs[0]
	n := len(run.pts)
	if max > 0 && n > max {
		n = max
	}

	b := point.Batch{
		Dataset: w.owner.cfg.DatasetID,
		Channel: w.desc,
		Type:    run.typ,
		Points:  run.pts[:n:n],
	}

	if n == len(run.pts) {
		w.runs = w.runs[1:]
	} else {
		run.pts = run.pts[n:]
	}
	w.pending -= n
	if w.pending == 0 {
		w.runs = nil
		w.pendingSince = time.Time{}
	}
	return b, true
}

// PendingSince reports when the oldest buffered point arrived.
func (w *Writer) PendingSince() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == 0 {
		return time.Time{}, false
	}
	return w.pendingSince, true
}

// Flush blocks until every point buffered at the call is delivered to
// the remote or the fallback log, and surfaces any delivery failure
// recorded by background drains since the last barrier.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.phase != phaseActive {
		w.mu.Unlock()
		return errors.WrapInvalidHandle(errors.ErrWriterClosed, "Writer", "Flush", "state check")
	}
	w.mu.Unlock()

	return w.queue.Flush(ctx)
}

// Close flushes the buffer and retires the writer. Further pushes and
// flushes fail; a second Close reports ErrAlreadyClosed.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.phase != phaseActive {
		w.mu.Unlock()
		return errors.WrapInvalidHandle(errors.ErrAlreadyClosed, "Writer", "Close", "state check")
	}
	w.phase = phaseClosing
	w.mu.Unlock()

	err := w.queue.Close(ctx)

	w.mu.Lock()
	w.phase = phaseClosed
	w.mu.Unlock()

	w.owner.metrics.WriterClosed()
	w.owner.dropWriter(w)
	return err
}

// closeQuiet closes the writer during stream shutdown, treating an
// already closed writer as done.
func (w *Writer) closeQuiet(ctx context.Context) error {
	err := w.Close(ctx)
	if stderrors.Is(err, errors.ErrAlreadyClosed) {
		return nil
	}
	return err
}

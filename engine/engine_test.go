package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/pkg/retry"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/sink"
)

// stubSource is a minimal Drainable: a flat float64 buffer with
// monotonic timestamps.
type stubSource struct {
	mu    sync.Mutex
	pts   []point.Point
	next  uint64
	since time.Time
}

func (s *stubSource) push(values ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pts) == 0 {
		s.since = time.Now()
	}
	for _, v := range values {
		s.pts = append(s.pts, point.Point{
			Timestamp: s.next,
			Value:     point.Float64Value(v),
		})
		s.next++
	}
}

func (s *stubSource) TakeBatch(max int) (point.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pts) == 0 {
		return point.Batch{}, false
	}
	n := max
	if n > len(s.pts) {
		n = len(s.pts)
	}
	b := point.Batch{
		Dataset: "dataset-1",
		Channel: point.Descriptor{Name: "temperature"},
		Type:    point.TypeFloat64,
		Points:  append([]point.Point(nil), s.pts[:n]...),
	}
	s.pts = s.pts[n:]
	return b, true
}

func (s *stubSource) PendingSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pts) == 0 {
		return time.Time{}, false
	}
	return s.since, true
}

// countingRemote records Send attempts and can fail a set number of
// them first.
type countingRemote struct {
	mu       sync.Mutex
	attempts int
	failures int
	failWith error
	batches  []point.Batch
}

func (r *countingRemote) Send(_ context.Context, b point.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failures != 0 {
		if r.failures > 0 {
			r.failures--
		}
		if r.failWith != nil {
			return r.failWith
		}
		return fmt.Errorf("%w: injected", errors.ErrRemoteUnavailable)
	}
	stored := b
	stored.Points = append([]point.Point(nil), b.Points...)
	r.batches = append(r.batches, stored)
	return nil
}

func (r *countingRemote) Close() error { return nil }

func (r *countingRemote) sendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *countingRemote) pointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b.Points)
	}
	return n
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Workers:        2,
		BatchThreshold: 4,
		MaxBatchSize:   100,
		MaxBatchAgeMS:  60000,
		RetryAttempts:  2,
		RetryInitialMS: 1,
		RetryMaxMS:     2,
	}
}

func startEngine(t *testing.T, cfg config.EngineConfig, remote sink.Remote, fallback *sink.FallbackLog) *Engine {
	t.Helper()
	e, err := New(cfg, remote, fallback, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testEngineConfig(), nil, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParam, errors.CodeOf(err))

	bad := testEngineConfig()
	bad.Workers = 10000
	_, err = New(bad, sink.NewMemoryRemote(), nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParam, errors.CodeOf(err))
}

func TestEngine_WakeDrainsToRemote(t *testing.T) {
	remote := sink.NewMemoryRemote()
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3, 4, 5)
	q.Wake()

	require.Eventually(t, func() bool {
		return remote.TotalPoints() == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_FlushIsSynchronous(t *testing.T) {
	remote := sink.NewMemoryRemote()
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3)

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 3, remote.TotalPoints(), "flush must not return before delivery")
}

func TestEngine_AgeTickerDrains(t *testing.T) {
	remote := sink.NewMemoryRemote()
	cfg := testEngineConfig()
	cfg.MaxBatchAgeMS = 40
	e := startEngine(t, cfg, remote, nil)

	src := &stubSource{}
	e.NewQueue(src)
	src.push(1, 2) // below any threshold, never woken explicitly

	require.Eventually(t, func() bool {
		return remote.TotalPoints() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_MaxBatchSizeSplits(t *testing.T) {
	remote := sink.NewMemoryRemote()
	cfg := testEngineConfig()
	cfg.MaxBatchSize = 2
	e := startEngine(t, cfg, remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3, 4, 5)
	require.NoError(t, q.Flush(context.Background()))

	batches := remote.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[0].Len())
	assert.Equal(t, 2, batches[1].Len())
	assert.Equal(t, 1, batches[2].Len())
}

func TestEngine_OrderPreserved(t *testing.T) {
	remote := sink.NewMemoryRemote()
	cfg := testEngineConfig()
	cfg.MaxBatchSize = 7
	e := startEngine(t, cfg, remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	for i := 0; i < 10; i++ {
		src.push(1, 2, 3)
		q.Wake()
	}
	require.NoError(t, q.Flush(context.Background()))

	pts := remote.ChannelPoints("temperature")
	require.Len(t, pts, 30)
	for i := 1; i < len(pts); i++ {
		require.Less(t, pts[i-1].Timestamp, pts[i].Timestamp,
			"points out of order at index %d", i)
	}
}

func TestEngine_TransientFailureRetried(t *testing.T) {
	remote := &countingRemote{failures: 1}
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3)

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 2, remote.sendCount(), "one failure plus one successful retry")
	assert.Equal(t, 3, remote.pointCount())
}

func TestEngine_NonRetryableShortCircuits(t *testing.T) {
	remote := &countingRemote{
		failures: -1,
		failWith: retry.NonRetryable(fmt.Errorf("%w: rejected with status 401", errors.ErrRemoteUnavailable)),
	}
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1)

	err := q.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, remote.sendCount(), "permanent rejection must not be retried")
}

func TestEngine_FallbackAbsorbsRemoteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.psfl")
	fallback, err := sink.OpenLog(path, uuid.New())
	require.NoError(t, err)
	defer fallback.Close()

	remote := &countingRemote{failures: -1}
	e := startEngine(t, testEngineConfig(), remote, fallback)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3)

	require.NoError(t, q.Flush(context.Background()),
		"with a fallback configured, delivery must report success")
	assert.Equal(t, 2, remote.sendCount(), "retry budget spent before archiving")
	require.NoError(t, fallback.Close())

	reader, err := sink.OpenLogReader(path)
	require.NoError(t, err)
	defer reader.Close()
	got, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestEngine_FallbackOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.psfl")
	fallback, err := sink.OpenLog(path, uuid.New())
	require.NoError(t, err)
	defer fallback.Close()

	e := startEngine(t, testEngineConfig(), nil, fallback)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3)
	require.NoError(t, q.Flush(context.Background()))

	stats := fallback.Stats()
	assert.Equal(t, int64(1), stats.Records)
}

func TestEngine_NoFallbackSurfacesErrorOnFlush(t *testing.T) {
	remote := &countingRemote{failures: -1}
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1, 2, 3)
	q.Wake()

	// The background drain fails and drops the batch; the error is
	// held for the next synchronous barrier.
	require.Eventually(t, func() bool {
		if _, pending := src.PendingSince(); pending {
			return false
		}
		q.errMu.Lock()
		defer q.errMu.Unlock()
		return q.lastErr != nil
	}, 2*time.Second, 5*time.Millisecond)

	err := q.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeRuntime, errors.CodeOf(err))

	assert.NoError(t, q.Flush(context.Background()), "error reported once")
}

func TestEngine_StopIdempotentAndWakeSafe(t *testing.T) {
	remote := sink.NewMemoryRemote()
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)

	e.Stop()
	e.Stop()
	q.Wake() // must not panic or block after shutdown
}

func TestEngine_CloseUnregistersQueue(t *testing.T) {
	remote := sink.NewMemoryRemote()
	e := startEngine(t, testEngineConfig(), remote, nil)

	src := &stubSource{}
	q := e.NewQueue(src)
	src.push(1)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 1, remote.TotalPoints())

	e.mu.Lock()
	_, registered := e.queues[q]
	e.mu.Unlock()
	assert.False(t, registered)
}

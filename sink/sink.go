// Package sink implements the delivery targets of the ingestion
// pipeline. A Remote ships batches to a telemetry backend over HTTP,
// NATS, or WebSocket; the FallbackLog is the local append-only store
// used when no remote is configured or a remote stays unreachable.
// Replay feeds a fallback log back into any Remote.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/pkg/retry"
)

// Remote delivers batches to a telemetry backend. Send returns nil
// only when the batch has been handed off to the backend; retryable
// transport failures return plain errors, while permanent rejections
// (bad credentials, malformed payloads) come back marked
// retry.NonRetryable so the engine stops burning its backoff budget.
type Remote interface {
	Send(ctx context.Context, batch point.Batch) error
	Close() error
}

// sourceHeader carries the stream instance ID on HTTP and WebSocket
// uploads, letting the backend correlate retried and replayed batches
// with their originating session.
const sourceHeader = "X-Pointstream-Source"

// wireBatch is the JSON upload envelope shared by all remote
// transports.
type wireBatch struct {
	Dataset string            `json:"dataset"`
	Channel string            `json:"channel"`
	Tags    map[string]string `json:"tags,omitempty"`
	Type    string            `json:"type"`
	Points  []point.Point     `json:"points"`
}

// encodeWire marshals a batch into the JSON upload envelope.
func encodeWire(b point.Batch) ([]byte, error) {
	env := wireBatch{
		Dataset: b.Dataset,
		Channel: b.Channel.Name,
		Tags:    b.Channel.TagMap(),
		Type:    b.Type.String(),
		Points:  b.Points,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "sink", "encodeWire", "marshal batch")
	}
	return data, nil
}

// classifyStatus converts an HTTP response status into a Send error.
// 2xx is success. Client errors are permanent except 408 and 429,
// which signal load rather than rejection. Everything else is
// retryable.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", errors.ErrRemoteUnavailable, status)
	case status >= 400 && status < 500:
		return retry.NonRetryable(
			fmt.Errorf("%w: rejected with status %d", errors.ErrRemoteUnavailable, status))
	default:
		return fmt.Errorf("%w: status %d", errors.ErrRemoteUnavailable, status)
	}
}

// NewRemote builds the Remote selected by cfg. The logger may be nil.
func NewRemote(cfg config.RemoteConfig, logger *slog.Logger) (Remote, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case config.RemoteHTTP:
		return NewHTTPRemote(cfg, logger)
	case config.RemoteNATS:
		return NewNATSRemote(cfg, logger)
	case config.RemoteWebSocket:
		return NewWSRemote(cfg, logger)
	default:
		return nil, errors.WrapInvalidParam(
			fmt.Errorf("%w: remote kind %q", errors.ErrInvalidConfig, cfg.Kind),
			"sink", "NewRemote", "kind selection")
	}
}

// MemoryRemote is an in-process Remote that records every batch it
// receives. Tests and local development use it as the upload target;
// failure injection simulates an unreachable or rejecting backend.
type MemoryRemote struct {
	mu       sync.Mutex
	batches  []point.Batch
	failNext int
	failErr  error
	closed   bool
}

// NewMemoryRemote creates an empty MemoryRemote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{}
}

// FailNext makes the next n Send calls return err, after which sends
// succeed again. n < 0 fails every send until the next FailNext call.
func (m *MemoryRemote) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Send records the batch, honoring context cancellation and any
// injected failure.
func (m *MemoryRemote) Send(ctx context.Context, batch point.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: remote closed", errors.ErrRemoteUnavailable)
	}
	if m.failNext != 0 {
		if m.failNext > 0 {
			m.failNext--
		}
		if m.failErr != nil {
			return m.failErr
		}
		return fmt.Errorf("%w: injected failure", errors.ErrRemoteUnavailable)
	}

	// Points are copied: the engine may reuse the slice after Send.
	stored := batch
	stored.Points = append([]point.Point(nil), batch.Points...)
	m.batches = append(m.batches, stored)
	return nil
}

// Batches returns a copy of every recorded batch in arrival order.
func (m *MemoryRemote) Batches() []point.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]point.Batch(nil), m.batches...)
}

// TotalPoints returns the sum of points over all recorded batches.
func (m *MemoryRemote) TotalPoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b.Points)
	}
	return n
}

// ChannelPoints returns the recorded points of one channel, in
// delivery order, keyed by the descriptor's canonical form.
func (m *MemoryRemote) ChannelPoints(key string) []point.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pts []point.Point
	for _, b := range m.batches {
		if b.Channel.Key() == key {
			pts = append(pts, b.Points...)
		}
	}
	return pts
}

// Close marks the remote closed; subsequent sends fail.
func (m *MemoryRemote) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

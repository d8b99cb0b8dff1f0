// Package stream implements the client-side ingestion session: a
// Stream owns the destination sinks and the delivery engine, and
// hands out channel Writers that buffer points into it. Opening a
// stream resolves the destination (remote upload, local fallback log,
// or both), and shutting it down drains every writer before the sinks
// close.
package stream

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/engine"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/metric"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/sink"
)

// Stream is one ingestion session against a dataset. It is safe for
// concurrent use; writers it creates share its engine and sinks.
type Stream struct {
	cfg     config.StreamConfig
	engCfg  config.EngineConfig
	id      uuid.UUID
	logger  *slog.Logger
	metrics *metric.Metrics

	remote   sink.Remote
	fallback *sink.FallbackLog
	eng      *engine.Engine

	mu      sync.Mutex
	phase   phase
	writers []*Writer
}

type options struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	remote  sink.Remote
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the stream's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink. Nil disables instrumentation.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRemote injects a pre-built upload sink, replacing the HTTP
// remote Open would otherwise construct from the configuration.
func WithRemote(r sink.Remote) Option {
	return func(o *options) { o.remote = r }
}

// Open validates cfg, opens the configured sinks, and starts the
// delivery engine. The fallback log, when configured, is created or
// adopted immediately so open fails fast on an unwritable path.
func Open(cfg config.StreamConfig, opts ...Option) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New()
	logger = logger.With("stream", id.String())

	s := &Stream{
		cfg:     cfg,
		engCfg:  cfg.Engine.Normalized(),
		id:      id,
		logger:  logger,
		metrics: o.metrics,
	}

	if cfg.FallbackPath != "" {
		fb, err := sink.OpenLog(cfg.FallbackPath, id)
		if err != nil {
			return nil, err
		}
		s.fallback = fb
	}

	remote := o.remote
	if remote == nil {
		if token := cfg.ResolveToken(); token != "" {
			rcfg := config.DefaultRemoteConfig()
			if cfg.RemoteURL != "" {
				rcfg.URL = cfg.RemoteURL
			}
			rcfg.Token = token
			built, err := sink.NewRemote(rcfg, logger)
			if err != nil {
				s.closeSinks()
				return nil, err
			}
			remote = built
		}
	}
	if tagged, ok := remote.(interface{ SetSource(string) }); ok {
		tagged.SetSource(id.String())
	}
	s.remote = remote

	eng, err := engine.New(s.engCfg, remote, s.fallback, logger, o.metrics)
	if err != nil {
		s.closeSinks()
		return nil, err
	}
	s.eng = eng
	if err := eng.Start(context.Background()); err != nil {
		s.closeSinks()
		return nil, err
	}

	s.metrics.StreamOpened()
	logger.Info("stream opened",
		"dataset", cfg.DatasetID,
		"remote", remote != nil,
		"fallback", cfg.FallbackPath)
	return s, nil
}

// ID returns the stream instance identifier stamped on uploads and
// the fallback log header.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// Dataset returns the configured dataset ID.
func (s *Stream) Dataset() string {
	return s.cfg.DatasetID
}

// WriterCount returns the number of open writers.
func (s *Stream) WriterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writers)
}

// CreateChannel creates a writer for the named channel. Tags are a
// comma-separated list of key=value pairs. Every call returns a new
// writer, even for a descriptor already in use; their points merge at
// the destination.
func (s *Stream) CreateChannel(name, tagsCSV string) (*Writer, error) {
	tags, err := point.ParseTags(tagsCSV)
	if err != nil {
		return nil, errors.WrapInvalidParam(err, "Stream", "CreateChannel", "parse tags")
	}
	desc := point.Descriptor{Name: name, Tags: tags}
	if err := desc.Validate(); err != nil {
		return nil, errors.WrapInvalidParam(err, "Stream", "CreateChannel", "validate channel")
	}

	s.mu.Lock()
	if s.phase != phaseActive {
		s.mu.Unlock()
		return nil, errors.WrapInvalidHandle(errors.ErrStreamClosed, "Stream", "CreateChannel", "state check")
	}
	w := newWriter(s, desc)
	s.writers = append(s.writers, w)
	s.mu.Unlock()

	s.metrics.WriterOpened()
	s.logger.Debug("channel created", "channel", desc.Key())
	return w, nil
}

// FlushAll flushes every open writer, returning the first failure
// after attempting all of them.
func (s *Stream) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != phaseActive {
		s.mu.Unlock()
		return errors.WrapInvalidHandle(errors.ErrStreamClosed, "Stream", "FlushAll", "state check")
	}
	writers := append([]*Writer(nil), s.writers...)
	s.mu.Unlock()

	var firstErr error
	for _, w := range writers {
		err := w.Flush(ctx)
		if err != nil && !stderrors.Is(err, errors.ErrWriterClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown closes every writer, stops the engine, and closes the
// sinks. It always runs to completion: per-writer failures are
// collected, not fatal. A second Shutdown reports ErrAlreadyClosed.
func (s *Stream) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != phaseActive {
		s.mu.Unlock()
		return errors.WrapInvalidHandle(errors.ErrAlreadyClosed, "Stream", "Shutdown", "state check")
	}
	s.phase = phaseClosing
	writers := append([]*Writer(nil), s.writers...)
	s.mu.Unlock()

	var firstErr error
	for _, w := range writers {
		if err := w.closeQuiet(ctx); err != nil {
			s.logger.Error("writer close failed during shutdown",
				"channel", w.Name(),
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.eng.Stop()

	if err := s.closeSinks(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.mu.Lock()
	s.phase = phaseClosed
	s.mu.Unlock()

	s.metrics.StreamClosed()
	s.logger.Info("stream closed", "dataset", s.cfg.DatasetID)
	return firstErr
}

// closeSinks closes the remote and the fallback log, returning the
// first failure.
func (s *Stream) closeSinks() error {
	var firstErr error
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			s.logger.Warn("remote close failed", "error", err)
			firstErr = err
		}
	}
	if s.fallback != nil {
		if err := s.fallback.Close(); err != nil {
			s.logger.Warn("fallback close failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// dropWriter removes a closed writer from the owned set.
func (s *Stream) dropWriter(w *Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.writers {
		if cur == w {
			s.writers = append(s.writers[:i], s.writers[i+1:]...)
			return
		}
	}
}

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/pkg/retry"
)

// NATSRemote publishes batches to per-channel subjects:
// "<prefix>.<dataset>.<channel>". When the server has JetStream
// enabled, publishes are acknowledged for at-least-once delivery;
// otherwise core publish plus flush confirms the server received the
// bytes.
type NATSRemote struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	source string
	logger *slog.Logger
}

// NewNATSRemote connects to the NATS URL in cfg. Connection is
// retried in the background, so construction succeeds even while the
// server is down; sends fail retryably until it comes up.
func NewNATSRemote(cfg config.RemoteConfig, logger *slog.Logger) (*NATSRemote, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("pointstream"),
		nats.Timeout(cfg.Timeout()),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	tlsCfg, err := cfg.TLS.Load()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.WrapRuntime(err, "NATSRemote", "NewNATSRemote", "connect")
	}

	r := &NATSRemote{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		logger: logger,
	}

	// JetStream is optional; without it sends use core publish.
	if js, jsErr := jetstream.New(conn); jsErr == nil {
		r.js = js
	} else {
		logger.Debug("jetstream unavailable, using core publish", "error", jsErr)
	}

	return r, nil
}

// SetSource attaches a stream instance ID carried in message headers.
// Call before the first Send.
func (r *NATSRemote) SetSource(source string) {
	r.source = source
}

// Send publishes one batch to its channel subject.
func (r *NATSRemote) Send(ctx context.Context, batch point.Batch) error {
	data, err := encodeWire(batch)
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: subjectFor(r.prefix, batch.Dataset, batch.Channel),
		Data:    data,
	}
	if r.source != "" {
		msg.Header = nats.Header{sourceHeader: []string{r.source}}
	}

	if r.js != nil {
		if _, err := r.js.PublishMsg(ctx, msg); err != nil {
			return r.classify(err)
		}
		return nil
	}

	if err := r.conn.PublishMsg(msg); err != nil {
		return r.classify(err)
	}
	// Core publish is fire-and-forget; flushing confirms the server
	// received the bytes before we report the batch delivered.
	if err := r.conn.FlushWithContext(ctx); err != nil {
		return r.classify(err)
	}
	return nil
}

// classify maps NATS errors onto the retry taxonomy: authorization
// failures are permanent, everything else is transport weather.
func (r *NATSRemote) classify(err error) error {
	wrapped := fmt.Errorf("%w: %v", errors.ErrRemoteUnavailable, err)
	if strings.Contains(err.Error(), "authorization") {
		return retry.NonRetryable(wrapped)
	}
	return wrapped
}

// Close drains pending publishes and closes the connection.
func (r *NATSRemote) Close() error {
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return errors.Wrap(err, "NATSRemote", "Close", "drain connection")
	}
	return nil
}

// subjectFor builds the publish subject, replacing token-breaking
// characters in the dataset and channel name.
func subjectFor(prefix, dataset string, ch point.Descriptor) string {
	return prefix + "." + sanitizeToken(dataset) + "." + sanitizeToken(ch.Name)
}

// sanitizeToken makes a string safe as a single NATS subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		default:
			return r
		}
	}, s)
}

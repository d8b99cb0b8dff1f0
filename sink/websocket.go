package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
)

// WSRemote streams batches over a WebSocket connection as JSON text
// frames, for live-feed consumers. The connection is dialed lazily on
// first Send and redialed after any write failure, so a dropped feed
// costs one failed send rather than a wedged remote.
type WSRemote struct {
	url     string
	token   string
	source  string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSRemote creates a WebSocket remote from cfg. The logger may be
// nil. No connection is attempted until the first Send.
func NewWSRemote(cfg config.RemoteConfig, logger *slog.Logger) (*WSRemote, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsCfg, err := cfg.TLS.Load()
	if err != nil {
		return nil, err
	}

	return &WSRemote{
		url:     cfg.URL,
		token:   cfg.Token,
		timeout: cfg.Timeout(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout(),
			TLSClientConfig:  tlsCfg,
		},
		logger: logger,
	}, nil
}

// SetSource attaches a stream instance ID sent as a handshake header.
// Call before the first Send.
func (r *WSRemote) SetSource(source string) {
	r.source = source
}

// Send writes one batch as a text frame, dialing first if needed.
// All failures are retryable: the next attempt redials.
func (r *WSRemote) Send(ctx context.Context, batch point.Batch) error {
	data, err := encodeWire(batch)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		if err := r.dial(ctx); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(r.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = r.conn.SetWriteDeadline(deadline)

	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.dropConn()
		return fmt.Errorf("%w: write: %v", errors.ErrRemoteUnavailable, err)
	}
	return nil
}

// dial connects and performs the handshake. Caller holds r.mu.
func (r *WSRemote) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}
	if r.source != "" {
		header.Set(sourceHeader, r.source)
	}

	conn, resp, err := r.dialer.DialContext(ctx, r.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if classifyErr := classifyStatus(resp.StatusCode); classifyErr != nil {
				return classifyErr
			}
		}
		return fmt.Errorf("%w: dial: %v", errors.ErrRemoteUnavailable, err)
	}
	r.conn = conn
	r.logger.Debug("websocket feed connected", "url", r.url)
	return nil
}

// dropConn closes and forgets the connection. Caller holds r.mu.
func (r *WSRemote) dropConn() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// Close sends a close frame and tears down the connection.
func (r *WSRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := r.conn.Close()
	r.conn = nil
	if err != nil {
		return errors.Wrap(err, "WSRemote", "Close", "close connection")
	}
	return nil
}

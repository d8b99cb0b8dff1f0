package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
)

const userAgent = "pointstream-go"

// HTTPRemote uploads batches as JSON over HTTP POST with bearer-token
// authentication. The underlying client reuses connections across
// sends; one HTTPRemote is safe for concurrent use.
type HTTPRemote struct {
	url    string
	token  string
	source string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPRemote creates an HTTP remote from cfg. The logger may be nil.
func NewHTTPRemote(cfg config.RemoteConfig, logger *slog.Logger) (*HTTPRemote, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := &http.Client{Timeout: cfg.Timeout()}
	tlsCfg, err := cfg.TLS.Load()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}

	return &HTTPRemote{
		url:    cfg.URL,
		token:  cfg.Token,
		client: client,
		logger: logger,
	}, nil
}

// SetSource attaches a stream instance ID sent with every upload.
// Call before the first Send.
func (r *HTTPRemote) SetSource(source string) {
	r.source = source
}

// Send posts one batch. Connection errors and 5xx responses are
// retryable; authentication and other 4xx rejections are permanent.
func (r *HTTPRemote) Send(ctx context.Context, batch point.Batch) error {
	data, err := encodeWire(batch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "HTTPRemote", "Send", "build request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.source != "" {
		req.Header.Set(sourceHeader, r.source)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := classifyStatus(resp.StatusCode); err != nil {
		r.logger.Debug("upload rejected",
			"url", r.url,
			"status", resp.StatusCode,
			"dataset", batch.Dataset,
			"channel", batch.Channel.Key(),
			"points", batch.Len())
		return err
	}
	return nil
}

// Close releases idle connections.
func (r *HTTPRemote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

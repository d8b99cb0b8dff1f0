// Package config defines the configuration surface of the ingestion
// client: per-stream destination settings, delivery engine tuning, and
// remote sink selection. Every struct follows the Validate plus
// Default pattern; duration-bearing knobs are integer milliseconds so
// the same structs load cleanly from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/pkg/retry"
	"github.com/c360/pointstream/pkg/tlsutil"
)

// EnvToken is the environment variable consulted when a stream is
// opened without an explicit token.
const EnvToken = "POINTSTREAM_TOKEN"

// DefaultIngestURL is the HTTP ingest endpoint used when none is
// configured.
const DefaultIngestURL = "https://api.pointstream.io/v1/ingest"

// StreamConfig configures one stream: where batches go and what
// happens when the remote is unreachable. At least one destination
// (a resolvable token for the remote, or a fallback path) is required.
type StreamConfig struct {
	// DatasetID identifies the destination dataset. Opaque to the
	// client, stamped on every batch and fallback record.
	DatasetID string `json:"dataset_id" yaml:"dataset_id"`

	// Token authenticates remote uploads. Empty means consult the
	// POINTSTREAM_TOKEN environment variable via ResolveToken.
	Token string `json:"token" yaml:"token"`

	// FallbackPath is the append-only local log written when uploads
	// fail, or the sole destination when no token resolves.
	FallbackPath string `json:"fallback_path" yaml:"fallback_path"`

	// RemoteURL overrides the HTTP ingest endpoint.
	RemoteURL string `json:"remote_url" yaml:"remote_url"`

	// Engine tunes batching and delivery.
	Engine EngineConfig `json:"engine" yaml:"engine"`
}

// DefaultStreamConfig returns a remote-plus-fallback configuration for
// the given dataset with engine defaults.
func DefaultStreamConfig(datasetID string) StreamConfig {
	return StreamConfig{
		DatasetID: datasetID,
		RemoteURL: DefaultIngestURL,
		Engine:    DefaultEngineConfig(),
	}
}

// ResolveToken returns the explicit token, or the POINTSTREAM_TOKEN
// environment value when the explicit token is empty.
func (c *StreamConfig) ResolveToken() string {
	if c.Token != "" {
		return c.Token
	}
	return strings.TrimSpace(os.Getenv(EnvToken))
}

// Validate checks the configuration for errors. It resolves the token
// through the environment, so validity can depend on the process
// environment at call time.
func (c *StreamConfig) Validate() error {
	if c.DatasetID == "" {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"StreamConfig", "Validate", "dataset_id is required")
	}

	token := c.ResolveToken()
	if token == "" && c.FallbackPath == "" {
		return errors.WrapInvalidParam(errors.ErrNoDestination,
			"StreamConfig", "Validate", "destination check")
	}

	if token != "" {
		remote := c.RemoteURL
		if remote == "" {
			remote = DefaultIngestURL
		}
		u, err := url.Parse(remote)
		if err != nil {
			return errors.WrapInvalidParam(err, "StreamConfig", "Validate", "remote_url parse")
		}
		if u.Scheme == "" || u.Host == "" {
			return errors.WrapInvalidParam(errors.ErrInvalidConfig,
				"StreamConfig", "Validate", "remote_url must be absolute")
		}
	}

	return c.Engine.Validate()
}

// EngineConfig tunes the delivery engine shared by a stream's writers.
// Zero values mean "use the default"; Normalized fills them in.
type EngineConfig struct {
	// Workers is the size of the engine's drain worker pool.
	Workers int `json:"workers" yaml:"workers"`

	// BatchThreshold is the buffered-point count that triggers an
	// eager drain of a writer.
	BatchThreshold int `json:"batch_threshold" yaml:"batch_threshold"`

	// MaxBatchSize caps the points sent in one upload.
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// MaxBatchAgeMS bounds how long points wait in a buffer before a
	// time-based drain, in milliseconds.
	MaxBatchAgeMS int `json:"max_batch_age_ms" yaml:"max_batch_age_ms"`

	// RetryAttempts is the total upload tries per batch.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`

	// RetryInitialMS is the first backoff delay in milliseconds.
	RetryInitialMS int `json:"retry_initial_ms" yaml:"retry_initial_ms"`

	// RetryMaxMS caps the grown backoff delay in milliseconds.
	RetryMaxMS int `json:"retry_max_ms" yaml:"retry_max_ms"`

	// StrictTypes rejects pushes whose value type differs from the
	// channel's first pushed type. Off by default: channels are
	// polymorphic and the type travels per batch.
	StrictTypes bool `json:"strict_types" yaml:"strict_types"`
}

// DefaultEngineConfig returns the delivery tuning defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:        4,
		BatchThreshold: 1000,
		MaxBatchSize:   10000,
		MaxBatchAgeMS:  1000,
		RetryAttempts:  3,
		RetryInitialMS: 100,
		RetryMaxMS:     5000,
	}
}

// Normalized returns a copy with zero fields replaced by defaults.
func (c EngineConfig) Normalized() EngineConfig {
	def := DefaultEngineConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.BatchThreshold <= 0 {
		c.BatchThreshold = def.BatchThreshold
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.MaxBatchAgeMS <= 0 {
		c.MaxBatchAgeMS = def.MaxBatchAgeMS
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryInitialMS <= 0 {
		c.RetryInitialMS = def.RetryInitialMS
	}
	if c.RetryMaxMS <= 0 {
		c.RetryMaxMS = def.RetryMaxMS
	}
	return c
}

// Validate checks the tuning for errors. Zero values are legal; they
// normalize to defaults.
func (c *EngineConfig) Validate() error {
	if c.Workers < 0 || c.Workers > 256 {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"EngineConfig", "Validate", "workers must be between 0 and 256")
	}
	if c.BatchThreshold < 0 {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"EngineConfig", "Validate", "batch_threshold cannot be negative")
	}
	if c.MaxBatchSize < 0 {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"EngineConfig", "Validate", "max_batch_size cannot be negative")
	}
	if c.MaxBatchSize > 0 && c.BatchThreshold > c.MaxBatchSize {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"EngineConfig", "Validate", "batch_threshold cannot exceed max_batch_size")
	}
	if c.MaxBatchAgeMS < 0 || c.RetryAttempts < 0 || c.RetryInitialMS < 0 || c.RetryMaxMS < 0 {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"EngineConfig", "Validate", "durations and attempts cannot be negative")
	}
	return nil
}

// MaxBatchAge returns the time-based drain interval.
func (c EngineConfig) MaxBatchAge() time.Duration {
	return time.Duration(c.MaxBatchAgeMS) * time.Millisecond
}

// RetryConfig converts the upload retry knobs into a retry.Config.
// The OnRetry hook is left for the engine to attach.
func (c EngineConfig) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  c.RetryAttempts,
		InitialDelay: time.Duration(c.RetryInitialMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.RetryMaxMS) * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// RemoteConfig selects and parameterizes an upload sink.
type RemoteConfig struct {
	// Kind chooses the transport: "http", "nats", or "websocket".
	Kind string `json:"kind" yaml:"kind"`

	// URL is the ingest endpoint, NATS server URL, or WebSocket URL
	// depending on Kind.
	URL string `json:"url" yaml:"url"`

	// Token is the bearer token for http and websocket transports.
	Token string `json:"token" yaml:"token"`

	// SubjectPrefix prefixes NATS subjects; batches publish to
	// "<prefix>.<dataset>.<channel>". Defaults to "telemetry".
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`

	// TimeoutMS bounds one send attempt in milliseconds.
	TimeoutMS int `json:"timeout_ms" yaml:"timeout_ms"`

	// TLS customizes transport security: extra CAs for privately
	// signed ingest endpoints, a client certificate for mutual TLS.
	// The zero value keeps the transport defaults.
	TLS tlsutil.Config `json:"tls" yaml:"tls"`
}

// Remote transport kinds.
const (
	RemoteHTTP      = "http"
	RemoteNATS      = "nats"
	RemoteWebSocket = "websocket"
)

// DefaultRemoteConfig returns an HTTP remote targeting the default
// ingest endpoint.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Kind:          RemoteHTTP,
		URL:           DefaultIngestURL,
		SubjectPrefix: "telemetry",
		TimeoutMS:     30000,
	}
}

// Normalized returns a copy with zero fields replaced by defaults.
func (c RemoteConfig) Normalized() RemoteConfig {
	def := DefaultRemoteConfig()
	if c.Kind == "" {
		c.Kind = def.Kind
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = def.TimeoutMS
	}
	return c
}

// Validate checks the remote selection for errors.
func (c *RemoteConfig) Validate() error {
	switch c.Kind {
	case "", RemoteHTTP, RemoteNATS, RemoteWebSocket:
	default:
		return errors.WrapInvalidParam(
			fmt.Errorf("%w: unknown remote kind %q", errors.ErrInvalidConfig, c.Kind),
			"RemoteConfig", "Validate", "kind check")
	}
	if c.URL == "" {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"RemoteConfig", "Validate", "url is required")
	}
	if c.TimeoutMS < 0 {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"RemoteConfig", "Validate", "timeout_ms cannot be negative")
	}
	return c.TLS.Validate()
}

// Timeout returns the per-send deadline.
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Package metric provides Prometheus instrumentation for the ingestion
// pipeline: points pushed, batches delivered per sink, failures,
// retries, and live handle counts.
//
// Metrics are optional. Every Record helper is nil-receiver safe, so
// callers hold a possibly-nil *Metrics and record unconditionally; a
// nil receiver makes recording a no-op.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink label values for delivery counters.
const (
	SinkRemote   = "remote"
	SinkFallback = "fallback"
)

// Metrics holds the pipeline instruments. Construct with NewMetrics
// and register through a Registry.
type Metrics struct {
	// PointsPushed counts points accepted into writer buffers,
	// labeled by dataset and value type.
	PointsPushed *prometheus.CounterVec
	// BatchesDelivered counts batches durably handed to a sink,
	// labeled by dataset and sink (remote or fallback).
	BatchesDelivered *prometheus.CounterVec
	// DeliveryFailures counts batches that exhausted both sinks,
	// labeled by dataset.
	DeliveryFailures *prometheus.CounterVec
	// UploadRetries counts individual retry sleeps across all uploads.
	UploadRetries prometheus.Counter
	// UploadDuration observes the wall time of one sink send,
	// labeled by sink.
	UploadDuration *prometheus.HistogramVec
	// BufferedPoints tracks points sitting in writer buffers,
	// labeled by dataset.
	BufferedPoints *prometheus.GaugeVec
	// ActiveStreams tracks live stream handles.
	ActiveStreams prometheus.Gauge
	// ActiveWriters tracks live writer handles.
	ActiveWriters prometheus.Gauge
	// FallbackBytes counts bytes appended to fallback logs.
	FallbackBytes prometheus.Counter
}

// NewMetrics creates the pipeline instruments, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		PointsPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pointstream",
				Subsystem: "points",
				Name:      "pushed_total",
				Help:      "Total points accepted into writer buffers",
			},
			[]string{"dataset", "type"},
		),

		BatchesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pointstream",
				Subsystem: "batches",
				Name:      "delivered_total",
				Help:      "Total batches durably delivered, by sink",
			},
			[]string{"dataset", "sink"},
		),

		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pointstream",
				Subsystem: "batches",
				Name:      "failed_total",
				Help:      "Total batches that could not be delivered to any sink",
			},
			[]string{"dataset"},
		),

		UploadRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pointstream",
				Subsystem: "upload",
				Name:      "retries_total",
				Help:      "Total upload retry attempts",
			},
		),

		UploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pointstream",
				Subsystem: "upload",
				Name:      "duration_seconds",
				Help:      "Duration of individual sink sends",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		BufferedPoints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pointstream",
				Subsystem: "buffer",
				Name:      "points",
				Help:      "Points currently buffered awaiting delivery",
			},
			[]string{"dataset"},
		),

		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pointstream",
				Subsystem: "handles",
				Name:      "streams",
				Help:      "Live stream handles",
			},
		),

		ActiveWriters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pointstream",
				Subsystem: "handles",
				Name:      "writers",
				Help:      "Live writer handles",
			},
		),

		FallbackBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pointstream",
				Subsystem: "fallback",
				Name:      "bytes_total",
				Help:      "Bytes appended to fallback logs",
			},
		),
	}
}

// collectors returns every instrument for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PointsPushed,
		m.BatchesDelivered,
		m.DeliveryFailures,
		m.UploadRetries,
		m.UploadDuration,
		m.BufferedPoints,
		m.ActiveStreams,
		m.ActiveWriters,
		m.FallbackBytes,
	}
}

// RecordPush adds n accepted points for a dataset and value type.
func (m *Metrics) RecordPush(dataset, valueType string, n int) {
	if m == nil {
		return
	}
	m.PointsPushed.WithLabelValues(dataset, valueType).Add(float64(n))
	m.BufferedPoints.WithLabelValues(dataset).Add(float64(n))
}

// RecordDelivered counts one batch of n points leaving the buffers
// into the named sink.
func (m *Metrics) RecordDelivered(dataset, sink string, n int) {
	if m == nil {
		return
	}
	m.BatchesDelivered.WithLabelValues(dataset, sink).Inc()
	m.BufferedPoints.WithLabelValues(dataset).Sub(float64(n))
}

// RecordDeliveryFailure counts one batch of n points lost to both
// sinks. The points still leave the buffer gauge.
func (m *Metrics) RecordDeliveryFailure(dataset string, n int) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(dataset).Inc()
	m.BufferedPoints.WithLabelValues(dataset).Sub(float64(n))
}

// RecordRetry counts one upload retry sleep.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.UploadRetries.Inc()
}

// ObserveUpload records the duration of one sink send.
func (m *Metrics) ObserveUpload(sink string, d time.Duration) {
	if m == nil {
		return
	}
	m.UploadDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// StreamOpened and StreamClosed track the live stream gauge.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// WriterOpened and WriterClosed track the live writer gauge.
func (m *Metrics) WriterOpened() {
	if m == nil {
		return
	}
	m.ActiveWriters.Inc()
}

func (m *Metrics) WriterClosed() {
	if m == nil {
		return
	}
	m.ActiveWriters.Dec()
}

// RecordFallbackBytes counts bytes appended to a fallback log.
func (m *Metrics) RecordFallbackBytes(n int) {
	if m == nil {
		return
	}
	m.FallbackBytes.Add(float64(n))
}

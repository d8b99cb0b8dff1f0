// Package pointstream is a client for streaming telemetry points into
// a dataset, built to survive flaky networks: batches that cannot
// reach the remote land in a local append-only fallback log and can
// be replayed later.
//
// # Two API layers
//
// The root package exposes a handle-based surface with numeric result
// codes, mirroring the foreign-function contract this client
// implements. Handles are opaque integers, operations return a Code,
// and the failure detail is retrieved per goroutine via LastError:
//
//	h, code := pointstream.OpenStream("", "ri.dataset.abc", "/tmp/points.psfl")
//	if code != pointstream.Success {
//		log.Fatal(pointstream.LastError())
//	}
//	w, _ := pointstream.CreateChannel(h, "temperature", "experiment=7")
//	pointstream.PushFloat64Batch(w, []uint64{now}, []float64{21.5})
//	pointstream.FlushStream(h)
//	pointstream.ShutdownStream(h)
//
// Go programs that want contexts, errors, and injection should use
// the stream package directly; this surface is a thin shell over it.
//
// # Delivery model
//
//	Push ──▶ writer buffer ──▶ engine workers ──▶ remote (retry)
//	                 │                               │ exhausted
//	                 │ threshold / age / flush       ▼
//	                 └──────────────────────▶ fallback log
//
// Pushes never block on the network. Flush and close operations are
// the durability barriers: when they return Success, every point
// pushed before the call is either acknowledged by the remote or
// synced to the fallback log.
//
// A stream opened with a token uploads to the remote ingest endpoint;
// with a fallback path it archives locally on upload failure; with
// only a fallback path it skips the network entirely. Opening with
// neither is refused.
package pointstream

package pointstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/handle"
	"github.com/c360/pointstream/metric"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/report"
	"github.com/c360/pointstream/stream"
)

// Handle identifies a stream or channel writer across the API
// boundary. Zero is never a valid handle.
type Handle = handle.Handle

// Code is the numeric result of an operation.
type Code = errors.Code

// Result codes returned by every operation.
const (
	Success       = errors.CodeSuccess
	Generic       = errors.CodeGeneric
	InvalidHandle = errors.CodeInvalidHandle
	InvalidParam  = errors.CodeInvalidParam
	Runtime       = errors.CodeRuntime
	IO            = errors.CodeIO
	NotSupported  = errors.CodeNotSupported
)

// Process-wide state behind the handle surface. The registry maps
// handles to live objects; the reporter keeps one failure message per
// goroutine.
var (
	registry = handle.NewRegistry()
	reporter = report.New()

	optMu      sync.RWMutex
	rootLogger = slog.Default()
	rootMetric *metric.Metrics

	// Writer handles are owned by their stream's handle so shutdown
	// can retire them together.
	ownMu   sync.Mutex
	owners  = make(map[Handle][]Handle)
	ownedBy = make(map[Handle]Handle)
)

// SetLogger routes client logging to l. Applies to streams opened
// afterwards.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	optMu.Lock()
	rootLogger = l
	optMu.Unlock()
}

// SetMetrics instruments streams opened afterwards. Nil disables.
func SetMetrics(m *metric.Metrics) {
	optMu.Lock()
	rootMetric = m
	optMu.Unlock()
}

func streamOptions() []stream.Option {
	optMu.RLock()
	defer optMu.RUnlock()
	return []stream.Option{
		stream.WithLogger(rootLogger),
		stream.WithMetrics(rootMetric),
	}
}

// fail records err for the calling goroutine and maps it to a code.
func fail(err error) Code {
	reporter.Record(err)
	return errors.CodeOf(err)
}

// OpenStream opens an ingestion stream for datasetID and returns its
// handle. The token authenticates remote uploads; when empty, the
// POINTSTREAM_TOKEN environment variable is consulted. fallbackPath
// names the local log written when uploads fail, or the sole
// destination when no token resolves. At least one destination must
// be given.
func OpenStream(token, datasetID, fallbackPath string) (Handle, Code) {
	cfg := config.DefaultStreamConfig(datasetID)
	cfg.Token = token
	cfg.FallbackPath = fallbackPath
	return OpenStreamWithConfig(cfg)
}

// OpenStreamWithConfig opens a stream with full control over the
// destination and engine tuning.
func OpenStreamWithConfig(cfg config.StreamConfig) (Handle, Code) {
	reporter.Clear()

	s, err := stream.Open(cfg, streamOptions()...)
	if err != nil {
		return handle.None, fail(err)
	}
	return registry.Allocate(handle.KindStream, s), Success
}

// CreateChannel creates a writer on the stream for the named channel.
// Tags are a comma-separated list of key=value pairs; an entry
// missing its key or repeating one fails. Every call returns a fresh
// handle, even for a name and tag set already in use.
func CreateChannel(streamH Handle, name, tagsCSV string) (Handle, Code) {
	reporter.Clear()

	lease, err := registry.Resolve(streamH, handle.KindStream)
	if err != nil {
		return handle.None, fail(err)
	}
	defer lease.Release()

	w, err := lease.Object().(*stream.Stream).CreateChannel(name, tagsCSV)
	if err != nil {
		return handle.None, fail(err)
	}

	wh := registry.Allocate(handle.KindWriter, w)
	adopt(streamH, wh)

	// The stream may have been shut down between resolution and
	// adoption; orphaned handles would outlive their writer.
	if !registry.IsValid(streamH, handle.KindStream) {
		disown(wh)
		registry.Retire(wh, handle.KindWriter)
		return handle.None, fail(errors.WrapInvalidHandle(
			errors.ErrStreamClosed, "pointstream", "CreateChannel", "owner check"))
	}
	return wh, Success
}

// PushFloat64Batch buffers float64 points on the writer. Timestamps
// and values are parallel arrays; their lengths must match and be
// nonzero. On failure nothing is buffered.
func PushFloat64Batch(w Handle, timestamps []uint64, values []float64) Code {
	return pushBatch(w, timestamps, values, point.TypeFloat64, point.Float64Value)
}

// PushInt64Batch buffers int64 points on the writer.
func PushInt64Batch(w Handle, timestamps []uint64, values []int64) Code {
	return pushBatch(w, timestamps, values, point.TypeInt64, point.Int64Value)
}

// PushBoolBatch buffers boolean points on the writer.
func PushBoolBatch(w Handle, timestamps []uint64, values []bool) Code {
	return pushBatch(w, timestamps, values, point.TypeBool, point.BoolValue)
}

// PushStringBatch buffers string points on the writer.
func PushStringBatch(w Handle, timestamps []uint64, values []string) Code {
	return pushBatch(w, timestamps, values, point.TypeString, point.StringValue)
}

func pushBatch[T any](h Handle, timestamps []uint64, values []T, typ point.Type, wrap func(T) point.Value) Code {
	reporter.Clear()

	if len(timestamps) != len(values) {
		return fail(errors.WrapInvalidParam(
			fmt.Errorf("%w: %d timestamps, %d values",
				errors.ErrLengthMismatch, len(timestamps), len(values)),
			"pointstream", "PushBatch", "length check"))
	}
	if len(timestamps) == 0 {
		return fail(errors.WrapInvalidParam(errors.ErrEmptyBatch,
			"pointstream", "PushBatch", "count check"))
	}

	lease, err := registry.Resolve(h, handle.KindWriter)
	if err != nil {
		return fail(err)
	}
	defer lease.Release()

	pts := make([]point.Point, len(timestamps))
	for i, ts := range timestamps {
		pts[i] = point.Point{Timestamp: ts, Value: wrap(values[i])}
	}
	if err := lease.Object().(*stream.Writer).Push(typ, pts); err != nil {
		return fail(err)
	}
	return Success
}

// FlushChannel blocks until every point pushed to the writer before
// the call is delivered to the remote or synced to the fallback log.
func FlushChannel(w Handle) Code {
	reporter.Clear()

	lease, err := registry.Resolve(w, handle.KindWriter)
	if err != nil {
		return fail(err)
	}
	defer lease.Release()

	if err := lease.Object().(*stream.Writer).Flush(context.Background()); err != nil {
		return fail(err)
	}
	return Success
}

// FlushStream flushes every writer of the stream.
func FlushStream(s Handle) Code {
	reporter.Clear()

	lease, err := registry.Resolve(s, handle.KindStream)
	if err != nil {
		return fail(err)
	}
	defer lease.Release()

	if err := lease.Object().(*stream.Stream).FlushAll(context.Background()); err != nil {
		return fail(err)
	}
	return Success
}

// CloseChannel flushes and closes the writer. The handle is retired
// immediately; a second close reports InvalidHandle.
func CloseChannel(w Handle) Code {
	reporter.Clear()

	obj, err := registry.Retire(w, handle.KindWriter)
	if err != nil {
		return fail(err)
	}
	disown(w)

	if err := obj.(*stream.Writer).Close(context.Background()); err != nil {
		return fail(err)
	}
	return Success
}

// ShutdownStream closes every writer of the stream, drains buffered
// points, closes the sinks, and retires the stream handle along with
// its writer handles. It always runs to completion; the code reports
// the first failure encountered.
func ShutdownStream(s Handle) Code {
	reporter.Clear()

	obj, err := registry.Retire(s, handle.KindStream)
	if err != nil {
		return fail(err)
	}
	for _, wh := range releaseOwned(s) {
		registry.Retire(wh, handle.KindWriter)
	}

	if err := obj.(*stream.Stream).Shutdown(context.Background()); err != nil {
		return fail(err)
	}
	return Success
}

// LastError returns the failure message recorded by the calling
// goroutine's most recent operation and clears it. Empty when the
// last operation succeeded or the slot was already read.
func LastError() string {
	return reporter.Take()
}

// ActiveStreamCount returns the number of open stream handles.
func ActiveStreamCount() int {
	return registry.Count(handle.KindStream)
}

// ActiveWriterCount returns the number of open writer handles.
func ActiveWriterCount() int {
	return registry.Count(handle.KindWriter)
}

// IsStreamValid reports whether h is an open stream handle. It never
// records an error.
func IsStreamValid(h Handle) bool {
	return registry.IsValid(h, handle.KindStream)
}

// IsWriterValid reports whether h is an open writer handle. It never
// records an error.
func IsWriterValid(h Handle) bool {
	return registry.IsValid(h, handle.KindWriter)
}

// ChannelName returns the writer's channel name, or the empty string
// for an unknown or closed handle. It never records an error.
func ChannelName(w Handle) string {
	lease, err := registry.Resolve(w, handle.KindWriter)
	if err != nil {
		return ""
	}
	defer lease.Release()
	return lease.Object().(*stream.Writer).Name()
}

// adopt records wh as owned by streamH.
func adopt(streamH, wh Handle) {
	ownMu.Lock()
	defer ownMu.Unlock()
	owners[streamH] = append(owners[streamH], wh)
	ownedBy[wh] = streamH
}

// disown forgets a writer handle after an individual close.
func disown(wh Handle) {
	ownMu.Lock()
	defer ownMu.Unlock()
	sh, ok := ownedBy[wh]
	if !ok {
		return
	}
	delete(ownedBy, wh)
	list := owners[sh]
	for i, h := range list {
		if h == wh {
			owners[sh] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(owners[sh]) == 0 {
		delete(owners, sh)
	}
}

// releaseOwned returns and forgets every writer handle owned by
// streamH.
func releaseOwned(streamH Handle) []Handle {
	ownMu.Lock()
	defer ownMu.Unlock()
	list := owners[streamH]
	delete(owners, streamH)
	for _, wh := range list {
		delete(ownedBy, wh)
	}
	return list
}

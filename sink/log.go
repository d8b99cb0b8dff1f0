package sink

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
)

// Fallback log file layout. The file opens with a fixed header naming
// the creating stream instance, then carries framed records:
//
//	header:  "PSFL" | version (1 byte) | source UUID (16 bytes)
//	record:  flags (1) | payload len (4 BE) | raw len (4 BE) |
//	         xxhash64 of raw payload (8 BE) | payload
//
// The payload is a CBOR record, LZ4-block-compressed when that makes
// it smaller. The checksum always covers the uncompressed bytes, so a
// bad decompression is caught the same way as bit rot. These values
// are format constants; changing them breaks existing logs.
const (
	logMagic   = "PSFL"
	logVersion = 1

	logHeaderLen   = 4 + 1 + 16
	frameHeaderLen = 1 + 4 + 4 + 8

	flagLZ4 = 0x01

	// compressMin is the smallest payload worth compressing.
	compressMin = 512

	// maxPayloadLen caps a single record payload. A batch tops out at
	// the engine's max batch size; anything near this limit is a
	// corrupt length field, not data.
	maxPayloadLen = 64 << 20
)

// logRecord is the CBOR shape of one archived batch. Values are split
// into per-type arrays so every variant round-trips exactly.
type logRecord struct {
	Schema  uint16      `cbor:"schema"`
	Dataset string      `cbor:"dataset"`
	Channel string      `cbor:"channel"`
	Tags    [][2]string `cbor:"tags,omitempty"`
	Type    uint8       `cbor:"type"`
	Times   []uint64    `cbor:"times"`
	Floats  []float64   `cbor:"floats,omitempty"`
	Ints    []int64     `cbor:"ints,omitempty"`
	Bools   []bool      `cbor:"bools,omitempty"`
	Strings []string    `cbor:"strings,omitempty"`
}

// logEncMode writes deterministic CBOR but keeps full float64 width
// and raw NaN payloads: replayed values must match pushed values bit
// for bit.
var (
	logEncMode cbor.EncMode
	logDecMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.ShortestFloat = cbor.ShortestFloatNone
	opts.NaNConvert = cbor.NaNConvertNone
	opts.InfConvert = cbor.InfConvertNone

	var err error
	logEncMode, err = opts.EncMode()
	if err != nil {
		panic("sink: CBOR encoder initialization failed: " + err.Error())
	}
	logDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("sink: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeRecord converts a batch to its CBOR payload.
func encodeRecord(b point.Batch) ([]byte, error) {
	rec := logRecord{
		Schema:  logVersion,
		Dataset: b.Dataset,
		Channel: b.Channel.Name,
		Type:    uint8(b.Type),
		Times:   make([]uint64, len(b.Points)),
	}
	for _, t := range b.Channel.Tags {
		rec.Tags = append(rec.Tags, [2]string{t.Key, t.Value})
	}

	for i, p := range b.Points {
		rec.Times[i] = p.Timestamp
	}
	switch b.Type {
	case point.TypeFloat64:
		rec.Floats = make([]float64, len(b.Points))
		for i, p := range b.Points {
			rec.Floats[i] = p.Value.Float64()
		}
	case point.TypeInt64:
		rec.Ints = make([]int64, len(b.Points))
		for i, p := range b.Points {
			rec.Ints[i] = p.Value.Int64()
		}
	case point.TypeBool:
		rec.Bools = make([]bool, len(b.Points))
		for i, p := range b.Points {
			rec.Bools[i] = p.Value.Bool()
		}
	case point.TypeString:
		rec.Strings = make([]string, len(b.Points))
		for i, p := range b.Points {
			rec.Strings[i] = p.Value.Text()
		}
	default:
		return nil, fmt.Errorf("unknown batch type %d", b.Type)
	}

	data, err := logEncMode.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "FallbackLog", "encodeRecord", "marshal record")
	}
	return data, nil
}

// decodeRecord rebuilds a batch from its CBOR payload.
func decodeRecord(data []byte) (point.Batch, error) {
	var rec logRecord
	if err := logDecMode.Unmarshal(data, &rec); err != nil {
		return point.Batch{}, fmt.Errorf("%w: %v", errors.ErrFallbackCorrupt, err)
	}

	b := point.Batch{
		Dataset: rec.Dataset,
		Channel: point.Descriptor{Name: rec.Channel},
		Type:    point.Type(rec.Type),
		Points:  make([]point.Point, len(rec.Times)),
	}
	for _, t := range rec.Tags {
		b.Channel.Tags = append(b.Channel.Tags, point.Tag{Key: t[0], Value: t[1]})
	}

	var value func(i int) (point.Value, bool)
	switch b.Type {
	case point.TypeFloat64:
		value = func(i int) (point.Value, bool) {
			if i >= len(rec.Floats) {
				return point.Value{}, false
			}
			return point.Float64Value(rec.Floats[i]), true
		}
	case point.TypeInt64:
		value = func(i int) (point.Value, bool) {
			if i >= len(rec.Ints) {
				return point.Value{}, false
			}
			return point.Int64Value(rec.Ints[i]), true
		}
	case point.TypeBool:
		value = func(i int) (point.Value, bool) {
			if i >= len(rec.Bools) {
				return point.Value{}, false
			}
			return point.BoolValue(rec.Bools[i]), true
		}
	case point.TypeString:
		value = func(i int) (point.Value, bool) {
			if i >= len(rec.Strings) {
				return point.Value{}, false
			}
			return point.StringValue(rec.Strings[i]), true
		}
	default:
		return point.Batch{}, fmt.Errorf("%w: unknown record type %d", errors.ErrFallbackCorrupt, rec.Type)
	}

	for i := range rec.Times {
		v, ok := value(i)
		if !ok {
			return point.Batch{}, fmt.Errorf("%w: %d timestamps but fewer values",
				errors.ErrFallbackCorrupt, len(rec.Times))
		}
		b.Points[i] = point.Point{Timestamp: rec.Times[i], Value: v}
	}
	return b, nil
}

// LogStats summarizes a fallback log writer's activity.
type LogStats struct {
	Records int64
	Bytes   int64
}

// FallbackLog is the append-only local store for batches that could
// not reach a remote, and the sole destination of fallback-only
// streams. Appends are serialized; one FallbackLog is safe for
// concurrent use but a log file must have a single writing process.
type FallbackLog struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	source uuid.UUID
	stats  LogStats
	closed bool
}

// OpenLog opens or creates the fallback log at path. A new or empty
// file is stamped with a header naming source as the creating stream
// instance; an existing log keeps its original header, which must
// carry the expected magic and version.
func OpenLog(path string, source uuid.UUID) (*FallbackLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapIO(err, "FallbackLog", "OpenLog", "open file")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WrapIO(err, "FallbackLog", "OpenLog", "stat file")
	}

	l := &FallbackLog{f: f, path: path, source: source}

	if info.Size() == 0 {
		var header [logHeaderLen]byte
		copy(header[:4], logMagic)
		header[4] = logVersion
		copy(header[5:], source[:])
		if _, err := f.Write(header[:]); err != nil {
			f.Close()
			return nil, errors.WrapIO(err, "FallbackLog", "OpenLog", "write header")
		}
		l.stats.Bytes = logHeaderLen
		return l, nil
	}

	var header [logHeaderLen]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		f.Close()
		return nil, errors.WrapIO(err, "FallbackLog", "OpenLog", "read header")
	}
	if string(header[:4]) != logMagic {
		f.Close()
		return nil, errors.WrapIO(
			fmt.Errorf("%w: bad magic", errors.ErrFallbackCorrupt),
			"FallbackLog", "OpenLog", "validate header")
	}
	if header[4] != logVersion {
		f.Close()
		return nil, errors.WrapIO(
			fmt.Errorf("%w: unsupported version %d", errors.ErrFallbackCorrupt, header[4]),
			"FallbackLog", "OpenLog", "validate header")
	}
	copy(l.source[:], header[5:])
	l.stats.Bytes = info.Size()
	return l, nil
}

// Append archives one batch. It returns the bytes written. The write
// lands in the OS page cache; call Sync at flush barriers for
// durability against power loss.
func (l *FallbackLog) Append(b point.Batch) (int, error) {
	payload, err := encodeRecord(b)
	if err != nil {
		return 0, err
	}

	raw := len(payload)
	if raw > maxPayloadLen {
		return 0, errors.WrapIO(
			fmt.Errorf("record payload %d bytes exceeds maximum %d", raw, maxPayloadLen),
			"FallbackLog", "Append", "size check")
	}
	sum := xxhash.Sum64(payload)

	var flags byte
	if raw >= compressMin {
		if compressed, ok := compressBlock(payload); ok {
			payload = compressed
			flags |= flagLZ4
		}
	}

	frame := make([]byte, frameHeaderLen+len(payload))
	frame[0] = flags
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[5:9], uint32(raw))
	binary.BigEndian.PutUint64(frame[9:17], sum)
	copy(frame[frameHeaderLen:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, errors.WrapIO(errors.ErrAlreadyClosed, "FallbackLog", "Append", "closed check")
	}
	if _, err := l.f.Write(frame); err != nil {
		return 0, errors.WrapIO(
			fmt.Errorf("%w: %v", errors.ErrFallbackWrite, err),
			"FallbackLog", "Append", "write record")
	}
	l.stats.Records++
	l.stats.Bytes += int64(len(frame))
	return len(frame), nil
}

// Sync flushes appended records to stable storage.
func (l *FallbackLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if err := l.f.Sync(); err != nil {
		return errors.WrapIO(err, "FallbackLog", "Sync", "fsync")
	}
	return nil
}

// Source returns the stream instance recorded in the log header.
func (l *FallbackLog) Source() uuid.UUID {
	return l.source
}

// Path returns the log file path.
func (l *FallbackLog) Path() string {
	return l.path
}

// Stats returns append counters for this writer session.
func (l *FallbackLog) Stats() LogStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Close syncs and closes the file. Close is idempotent.
func (l *FallbackLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	syncErr := l.f.Sync()
	closeErr := l.f.Close()
	if syncErr != nil {
		return errors.WrapIO(syncErr, "FallbackLog", "Close", "fsync")
	}
	if closeErr != nil {
		return errors.WrapIO(closeErr, "FallbackLog", "Close", "close file")
	}
	return nil
}

// compressBlock LZ4-compresses payload, reporting false when the
// result would not be smaller.
func compressBlock(payload []byte) ([]byte, bool) {
	bound := lz4.CompressBlockBound(len(payload))
	dst := make([]byte, bound)
	n, err := lz4.CompressBlock(payload, dst, nil)
	if err != nil || n == 0 || n >= len(payload) {
		return nil, false
	}
	return dst[:n], true
}

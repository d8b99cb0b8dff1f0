package sink

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/c360/pointstream/errors"
	"github.com/c360/pointstream/point"
)

// FallbackReader iterates the batches in a fallback log file.
//
// A process killed mid-append leaves a partial frame at the tail;
// Next treats that tail as end of file so everything before it still
// replays. A complete frame whose checksum or contents do not verify
// is real corruption and surfaces as ErrFallbackCorrupt.
type FallbackReader struct {
	f      *os.File
	r      *bufio.Reader
	source uuid.UUID
	empty  bool
}

// OpenLogReader opens the fallback log at path for replay.
func OpenLogReader(path string) (*FallbackReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapIO(err, "FallbackReader", "OpenLogReader", "open file")
	}

	r := &FallbackReader{f: f, r: bufio.NewReader(f)}

	var header [logHeaderLen]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			// Zero-byte file: a log that was never written to.
			r.empty = true
			return r, nil
		}
		f.Close()
		return nil, errors.WrapIO(
			fmt.Errorf("%w: short header: %v", errors.ErrFallbackCorrupt, err),
			"FallbackReader", "OpenLogReader", "read header")
	}
	if string(header[:4]) != logMagic {
		f.Close()
		return nil, errors.WrapIO(
			fmt.Errorf("%w: bad magic", errors.ErrFallbackCorrupt),
			"FallbackReader", "OpenLogReader", "validate header")
	}
	if header[4] != logVersion {
		f.Close()
		return nil, errors.WrapIO(
			fmt.Errorf("%w: unsupported version %d", errors.ErrFallbackCorrupt, header[4]),
			"FallbackReader", "OpenLogReader", "validate header")
	}
	copy(r.source[:], header[5:])
	return r, nil
}

// Source returns the stream instance that created the log.
func (r *FallbackReader) Source() uuid.UUID {
	return r.source
}

// Next returns the next archived batch. It returns io.EOF at the end
// of the log, including when the log ends in a torn partial frame.
func (r *FallbackReader) Next() (point.Batch, error) {
	if r.empty {
		return point.Batch{}, io.EOF
	}

	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return point.Batch{}, io.EOF
		}
		return point.Batch{}, errors.WrapIO(err, "FallbackReader", "Next", "read frame header")
	}

	flags := header[0]
	payloadLen := binary.BigEndian.Uint32(header[1:5])
	rawLen := binary.BigEndian.Uint32(header[5:9])
	sum := binary.BigEndian.Uint64(header[9:17])

	if payloadLen > maxPayloadLen || rawLen > maxPayloadLen {
		return point.Batch{}, fmt.Errorf("%w: frame claims %d byte payload",
			errors.ErrFallbackCorrupt, max(payloadLen, rawLen))
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return point.Batch{}, io.EOF
		}
		return point.Batch{}, errors.WrapIO(err, "FallbackReader", "Next", "read payload")
	}

	if flags&flagLZ4 != 0 {
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return point.Batch{}, fmt.Errorf("%w: lz4: %v", errors.ErrFallbackCorrupt, err)
		}
		if uint32(n) != rawLen {
			return point.Batch{}, fmt.Errorf("%w: lz4 expanded to %d bytes, frame claims %d",
				errors.ErrFallbackCorrupt, n, rawLen)
		}
		payload = raw
	} else if payloadLen != rawLen {
		return point.Batch{}, fmt.Errorf("%w: raw frame lengths disagree",
			errors.ErrFallbackCorrupt)
	}

	if got := xxhash.Sum64(payload); got != sum {
		return point.Batch{}, fmt.Errorf("%w: checksum mismatch", errors.ErrFallbackCorrupt)
	}

	return decodeRecord(payload)
}

// Close closes the underlying file.
func (r *FallbackReader) Close() error {
	if err := r.f.Close(); err != nil {
		return errors.WrapIO(err, "FallbackReader", "Close", "close file")
	}
	return nil
}

// ReplayStats summarizes a fallback log replay.
type ReplayStats struct {
	Records int64
	Points  int64
}

// Replay streams every batch in the fallback log at path to remote,
// one Send per archived record. It stops at the first delivery or
// decode failure, returning the counts shipped so far alongside the
// error so a rerun can be judged against the log.
func Replay(ctx context.Context, path string, remote Remote, logger *slog.Logger) (ReplayStats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader, err := OpenLogReader(path)
	if err != nil {
		return ReplayStats{}, err
	}
	defer reader.Close()

	var stats ReplayStats
	for {
		batch, err := reader.Next()
		if err == io.EOF {
			logger.Info("fallback replay complete",
				"path", path,
				"records", stats.Records,
				"points", stats.Points)
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if err := remote.Send(ctx, batch); err != nil {
			return stats, errors.Wrap(err, "Replay", "Send", "deliver archived batch")
		}
		stats.Records++
		stats.Points += int64(batch.Len())

		if stats.Records%1000 == 0 {
			logger.Debug("fallback replay progress",
				"path", path,
				"records", stats.Records,
				"points", stats.Points)
		}
	}
}

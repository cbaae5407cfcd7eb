// Package wal implements the single-file write-ahead log that sits in
// front of the ingest queue. Every sample is appended here before it
// is visible anywhere else in the engine.
package wal

import (
	"bufio"
	"encoding/binary"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/waffledb/waffledb/core"
)

// SyncMode controls how aggressively AppendBatch flushes to stable storage.
type SyncMode string

const (
	SyncAlways   SyncMode = "always"
	SyncInterval SyncMode = "interval"
	SyncDisabled SyncMode = "disabled"
)

// Recovery sanity limits (spec §4.1): a record violating any of these
// truncates recovery at that offset rather than failing the whole log.
// MaxValueLen must stay >= core.MaxTagValueLen — a tag value the
// validator admitted at write time must still recover cleanly, or an
// acknowledged write is silently lost on the next crash/replay.
const (
	MaxMetricLen = 1024
	MaxTagCount  = 100
	MaxKeyLen    = 256
	MaxValueLen  = 512
)

func init() {
	if MaxValueLen < core.MaxTagValueLen {
		panic("wal: MaxValueLen must be >= core.MaxTagValueLen")
	}
}

// Options configures a WAL instance.
type Options struct {
	Path           string
	SyncMode       SyncMode
	Logger         *slog.Logger
	BytesWritten   *expvar.Int
	EntriesWritten *expvar.Int
}

// WAL is the durable, append-only log of samples backing one engine.
// It holds a single OS file open for the whole lifetime of the database.
type WAL struct {
	mu   sync.Mutex
	path string
	opts Options

	file   *os.File
	writer *bufio.Writer
	nextSeq uint64

	bytesWritten   *expvar.Int
	entriesWritten *expvar.Int
	logger         *slog.Logger
}

// Open creates the log file if absent and opens it for append, without
// performing recovery — recovery is a distinct step the engine drives
// explicitly via Recover so it can decide whether to skip it.
func Open(opts Options) (*WAL, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "wal")

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", opts.Path, err)
	}

	w := &WAL{
		path:           opts.Path,
		opts:           opts,
		file:           f,
		writer:         bufio.NewWriter(f),
		bytesWritten:   opts.BytesWritten,
		entriesWritten: opts.EntriesWritten,
		logger:         logger,
	}
	return w, nil
}

// Recover replays every well-formed record in sequence order. A
// partially written trailing record is detected and ignored; the
// valid prefix is returned without error, per spec §4.1's failure
// semantics ("recover never fails").
func (w *WAL) Recover() ([]core.Sample, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return nil, fmt.Errorf("wal: flush before recover: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek to start: %w", err)
	}
	r := bufio.NewReader(w.file)

	var out []core.Sample
	var lastSeq int64 = -1
	offset := int64(0)
	for {
		sample, seq, n, err := readRecord(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			w.logger.Warn("wal: truncating at malformed or partial record", "offset", offset, "error", err)
			break
		}
		if int64(seq) <= lastSeq {
			w.logger.Warn("wal: out-of-order sequence during recovery, truncating", "offset", offset, "seq", seq)
			break
		}
		lastSeq = int64(seq)
		out = append(out, sample)
		offset += n
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return out, fmt.Errorf("wal: seek to end after recover: %w", err)
	}
	w.nextSeq = uint64(lastSeq + 1)
	return out, nil
}

// AppendBatch persists every sample as one framed record per sample,
// assigning each the next strictly increasing sequence number.
func (w *WAL) AppendBatch(samples []core.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var total int64
	for i := range samples {
		n, err := writeRecord(w.writer, w.nextSeq, &samples[i])
		if err != nil {
			return fmt.Errorf("wal: append seq %d: %w", w.nextSeq, err)
		}
		w.nextSeq++
		total += n
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.bytesWritten != nil {
		w.bytesWritten.Add(total)
	}
	if w.entriesWritten != nil {
		w.entriesWritten.Add(int64(len(samples)))
	}

	if w.opts.SyncMode == SyncAlways {
		return w.file.Sync()
	}
	return nil
}

// Append is a convenience wrapper around AppendBatch for one sample.
func (w *WAL) Append(s core.Sample) error {
	return w.AppendBatch([]core.Sample{s})
}

// Checkpoint flushes pending bytes to stable storage.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: checkpoint flush: %w", err)
	}
	return w.file.Sync()
}

// Clear truncates the log and resets the sequence counter to 0.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek to start after truncate: %w", err)
	}
	w.writer = bufio.NewWriter(w.file)
	w.nextSeq = 0
	return nil
}

// Close releases the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.logger.Error("wal: flush on close failed", "error", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// writeRecord encodes one sample as `entry_size:u32` followed by the
// payload described in spec §4.1, all fields little-endian.
func writeRecord(w io.Writer, seq uint64, s *core.Sample) (int64, error) {
	buf := make([]byte, 8+8+8+4+len(s.Metric)+4)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], seq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(s.Timestamp))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(s.Value))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Metric)))
	off += 4
	buf = append(buf[:off], s.Metric...)
	off += len(s.Metric)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.Tags)))

	for k, v := range s.Tags {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(buf); err != nil {
		return 0, err
	}
	return int64(4 + len(buf)), nil
}

// readRecord decodes one framed record, enforcing the sanity limits
// from spec §4.1 so a corrupt record is detected without scanning past it.
func readRecord(r io.Reader) (core.Sample, uint64, int64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return core.Sample{}, 0, 0, err
	}
	entrySize := binary.LittleEndian.Uint32(lenBuf[:])
	if entrySize == 0 || entrySize > 8*1024*1024 {
		return core.Sample{}, 0, 0, fmt.Errorf("wal: implausible entry size %d", entrySize)
	}

	payload := make([]byte, entrySize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return core.Sample{}, 0, 0, io.ErrUnexpectedEOF
	}

	p := payload
	if len(p) < 28 {
		return core.Sample{}, 0, 0, fmt.Errorf("wal: record too short")
	}
	seq := binary.LittleEndian.Uint64(p)
	p = p[8:]
	ts := int64(binary.LittleEndian.Uint64(p))
	p = p[8:]
	val := math.Float64frombits(binary.LittleEndian.Uint64(p))
	p = p[8:]
	metricLen := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if metricLen > MaxMetricLen || int(metricLen) > len(p) {
		return core.Sample{}, 0, 0, fmt.Errorf("wal: metric_len %d out of bounds", metricLen)
	}
	metric := string(p[:metricLen])
	p = p[metricLen:]

	if len(p) < 4 {
		return core.Sample{}, 0, 0, fmt.Errorf("wal: truncated tag_count")
	}
	tagCount := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if tagCount > MaxTagCount {
		return core.Sample{}, 0, 0, fmt.Errorf("wal: tag_count %d exceeds limit", tagCount)
	}

	tags := make(map[string]string, tagCount)
	for i := uint32(0); i < tagCount; i++ {
		if len(p) < 4 {
			return core.Sample{}, 0, 0, fmt.Errorf("wal: truncated key_len")
		}
		keyLen := binary.LittleEndian.Uint32(p)
		p = p[4:]
		if keyLen > MaxKeyLen || int(keyLen) > len(p) {
			return core.Sample{}, 0, 0, fmt.Errorf("wal: key_len %d out of bounds", keyLen)
		}
		key := string(p[:keyLen])
		p = p[keyLen:]

		if len(p) < 4 {
			return core.Sample{}, 0, 0, fmt.Errorf("wal: truncated value_len")
		}
		valLen := binary.LittleEndian.Uint32(p)
		p = p[4:]
		if valLen > MaxValueLen || int(valLen) > len(p) {
			return core.Sample{}, 0, 0, fmt.Errorf("wal: value_len %d out of bounds", valLen)
		}
		value := string(p[:valLen])
		p = p[valLen:]
		tags[key] = value
	}

	return core.Sample{Metric: metric, Tags: tags, Timestamp: ts, Value: val}, seq, int64(4 + entrySize), nil
}
